package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeoutSeconds: 30,
			MaxBodyBytes:       1 << 20,
		},
		Platforms: PlatformsConfig{
			APIBase:            "https://graph.facebook.com/v16.0",
			HTTPTimeoutSeconds: 15,
			Facebook:           PlatformConfig{Enabled: true, AutoReply: true},
			Instagram:          PlatformConfig{Enabled: true, AutoReply: true},
			WhatsApp:           PlatformConfig{Enabled: true},
		},
		AI: AIConfig{
			DefaultProvider:    "rules",
			MaxAttempts:        5,
			BaseDelayMs:        1000,
			HTTPTimeoutSeconds: 60,
			SystemPrompt:       defaultSystemPrompt,
			ApologyMessage:     "Sorry, I couldn't process your message right now. Please try again in a moment.",
			Providers: map[string]ProviderConfig{
				"openai": {
					Enabled:      false,
					Kind:         "openai",
					APIBase:      "https://api.openai.com/v1",
					DefaultModel: "gpt-4o-mini",
					MaxTokens:    512,
					Temperature:  0.7,
				},
			},
		},
		Conversation: ConversationConfig{
			MaxHistory:    10,
			SweepSchedule: "@every 10m",
		},
		Knowledge: KnowledgeConfig{
			Enabled: false,
			TopK:    5,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "~/.autoreply/autoreply.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

const defaultSystemPrompt = `You are a helpful customer-support assistant replying on a social messaging platform.
Keep answers short and friendly. Use the provided knowledge when it is relevant and never invent prices or policies.`
