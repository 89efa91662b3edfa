package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for autoreply.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Server       ServerConfig       `json:"server"`
	Platforms    PlatformsConfig    `json:"platforms"`
	AI           AIConfig           `json:"ai"`
	Conversation ConversationConfig `json:"conversation"`
	Knowledge    KnowledgeConfig    `json:"knowledge"`
	Storage      StorageConfig      `json:"storage"`
	Workflows    WorkflowsConfig    `json:"workflows"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "text" | "json"
	EnvFile   string `json:"envFile,omitempty"`
}

type ServerConfig struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty"`
	ReadTimeoutSeconds int      `json:"readTimeoutSeconds"`
	MaxBodyBytes       int64    `json:"maxBodyBytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PlatformsConfig struct {
	APIBase            string         `json:"apiBase"`
	HTTPTimeoutSeconds int            `json:"httpTimeoutSeconds"`
	Facebook           PlatformConfig `json:"facebook"`
	Instagram          PlatformConfig `json:"instagram"`
	WhatsApp           PlatformConfig `json:"whatsapp"`
}

// PlatformConfig holds the per-platform secrets. An empty AppSecret degrades
// signature verification to skip-with-warning; an empty VerifyToken makes every
// handshake fail.
type PlatformConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"` // WhatsApp only
	Workflow      string `json:"workflow,omitempty"`      // default: <platform>_message
	AutoReply     bool   `json:"autoReply"`
}

// Platform returns the config for a platform name.
func (p PlatformsConfig) Platform(name string) (PlatformConfig, bool) {
	switch name {
	case "facebook":
		return p.Facebook, true
	case "instagram":
		return p.Instagram, true
	case "whatsapp":
		return p.WhatsApp, true
	}
	return PlatformConfig{}, false
}

type AIConfig struct {
	DefaultProvider    string                    `json:"defaultProvider"`
	FallbackProvider   string                    `json:"fallbackProvider,omitempty"`
	MaxAttempts        int                       `json:"maxAttempts"`
	BaseDelayMs        int                       `json:"baseDelayMs"`
	HTTPTimeoutSeconds int                       `json:"httpTimeoutSeconds"`
	SystemPrompt       string                    `json:"systemPrompt,omitempty"`
	ApologyMessage     string                    `json:"apologyMessage,omitempty"`
	Providers          map[string]ProviderConfig `json:"providers"`
	Rules              []RuleConfig              `json:"rules,omitempty"`
}

// BaseDelay returns the retry base delay.
func (a AIConfig) BaseDelay() time.Duration {
	return time.Duration(a.BaseDelayMs) * time.Millisecond
}

type ProviderConfig struct {
	Enabled      bool    `json:"enabled"`
	Kind         string  `json:"kind"` // "openai" | "claude"
	APIBase      string  `json:"apiBase,omitempty"`
	APIKey       string  `json:"apiKey,omitempty"`
	DefaultModel string  `json:"defaultModel,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// RuleConfig adds a keyword rule to the deterministic rules responder.
type RuleConfig struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Reply    string   `json:"reply"`
}

type ConversationConfig struct {
	MaxHistory    int    `json:"maxHistory"`
	TTLMinutes    int    `json:"ttlMinutes"`    // 0 = contexts live for the process lifetime
	SweepSchedule string `json:"sweepSchedule"` // cron spec, e.g. "@every 10m"
}

type KnowledgeConfig struct {
	Enabled bool `json:"enabled"`
	TopK    int  `json:"topK"`
}

type StorageConfig struct {
	Driver     string `json:"driver"` // "sqlite" | "postgres"
	DSN        string `json:"dsn"`
	LogMessage bool   `json:"logMessages"`
}

type WorkflowsConfig struct {
	DefinitionsPath string `json:"definitionsPath,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.autoreply).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoreply"
	}
	return filepath.Join(home, ".autoreply")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file, loading a .env file first so that ${VAR}
// references in the JSON can resolve against it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	loadDotEnv(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if cfg.General.EnvFile != "" {
		loadDotEnv(ExpandPath(cfg.General.EnvFile))
	}

	if cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = ExpandPath(cfg.Storage.DSN)
	}
	cfg.Workflows.DefinitionsPath = ExpandPath(cfg.Workflows.DefinitionsPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables already set.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: cannot load %s: %v\n", path, err)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	// Outbound calls have no baked-in timeout; the operator must choose one.
	if cfg.Platforms.HTTPTimeoutSeconds < 1 {
		errs = append(errs, "platforms.httpTimeoutSeconds must be >= 1")
	}
	if cfg.AI.HTTPTimeoutSeconds < 1 {
		errs = append(errs, "ai.httpTimeoutSeconds must be >= 1")
	}
	if cfg.Platforms.WhatsApp.Enabled && cfg.Platforms.WhatsApp.PhoneNumberID == "" && cfg.Platforms.WhatsApp.AutoReply {
		errs = append(errs, "platforms.whatsapp.phoneNumberId is required when autoReply is enabled")
	}

	if cfg.AI.MaxAttempts < 1 || cfg.AI.MaxAttempts > 20 {
		errs = append(errs, "ai.maxAttempts must be between 1 and 20")
	}
	if cfg.AI.BaseDelayMs < 0 {
		errs = append(errs, "ai.baseDelayMs must be >= 0")
	}
	if cfg.AI.DefaultProvider == "" {
		errs = append(errs, "ai.defaultProvider is required")
	} else if cfg.AI.DefaultProvider != "rules" {
		if _, ok := cfg.AI.Providers[cfg.AI.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("ai.defaultProvider references unknown provider: %s", cfg.AI.DefaultProvider))
		}
	}
	if fb := cfg.AI.FallbackProvider; fb != "" && fb != "rules" {
		if _, ok := cfg.AI.Providers[fb]; !ok {
			errs = append(errs, fmt.Sprintf("ai.fallbackProvider references unknown provider: %s", fb))
		}
	}
	for name, pc := range cfg.AI.Providers {
		if !pc.Enabled {
			continue
		}
		switch pc.Kind {
		case "openai", "claude":
		default:
			errs = append(errs, fmt.Sprintf("ai.providers.%s: kind must be one of: openai, claude", name))
		}
		if pc.APIKey == "" && pc.Kind == "claude" {
			errs = append(errs, fmt.Sprintf("ai.providers.%s: apiKey is required", name))
		}
	}

	if cfg.Conversation.MaxHistory < 1 {
		errs = append(errs, "conversation.maxHistory must be >= 1")
	}
	if cfg.Conversation.TTLMinutes < 0 {
		errs = append(errs, "conversation.ttlMinutes must be >= 0")
	}

	if cfg.Knowledge.TopK < 1 {
		errs = append(errs, "knowledge.topK must be >= 1")
	}
	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, postgres")
	}
	if (cfg.Knowledge.Enabled || cfg.Storage.LogMessage) && cfg.Storage.DSN == "" {
		errs = append(errs, "storage.dsn is required when knowledge or message logging is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
