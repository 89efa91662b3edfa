package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"autoreply/internal/channel"
	"autoreply/internal/config"
	"autoreply/internal/domain"
	"autoreply/internal/pipeline"

	"github.com/spf13/cobra"
)

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func simulateCmd() *cobra.Command {
	var reply bool
	cmd := &cobra.Command{
		Use:   "simulate [platform] [payload.json|-]",
		Short: "Run a webhook payload through the pipeline",
		Long: `Signs the payload with the configured app secret and hands it to the
platform connector exactly as the webhook server would. Replies are printed
instead of sent unless --reply is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := domain.ParsePlatform(args[0])
			if !ok {
				return fmt.Errorf("unknown platform: %s", args[0])
			}
			body, err := readPayload(args[1])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), cfg, p, body, reply)
		},
	}
	cmd.Flags().BoolVar(&reply, "reply", false, "send generated replies through the Graph API")
	return cmd
}

func runSimulate(ctx context.Context, cfg *config.Config, p domain.Platform, body []byte, reply bool) error {
	pc := platformConfig(cfg, p)
	if pc == nil || !pc.Enabled {
		return fmt.Errorf("platform %s is not enabled", p)
	}
	pc.AutoReply = pc.AutoReply && reply

	app, err := pipeline.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	conn, ok := app.Connector(p)
	if !ok {
		return fmt.Errorf("platform %s has no connector", p)
	}

	var conversations []string
	app.Processor.AddHandler(func(ctx context.Context, msg *domain.Message) error {
		conversations = append(conversations, msg.ConversationID)
		return nil
	})

	spec, _ := channel.SpecFor(p)
	headers := http.Header{}
	if pc.AppSecret != "" {
		headers.Set(spec.SignatureHeader, channel.Sign(spec.Algorithm, pc.AppSecret, body))
	}

	result, err := conn.HandleWebhook(ctx, headers, body)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}

	for _, id := range conversations {
		conv, ok := app.Generator.Conversation(id)
		if !ok {
			continue
		}
		history := conv.History()
		if n := len(history); n > 0 && history[n-1].Role == domain.RoleAssistant {
			fmt.Printf("\n[%s] reply: %s\n", id, history[n-1].Content)
		} else {
			fmt.Printf("\n[%s] no reply (apology: %s)\n", id, cfg.AI.ApologyMessage)
		}
	}
	return nil
}

func platformConfig(cfg *config.Config, p domain.Platform) *config.PlatformConfig {
	switch p {
	case domain.PlatformFacebook:
		return &cfg.Platforms.Facebook
	case domain.PlatformInstagram:
		return &cfg.Platforms.Instagram
	case domain.PlatformWhatsApp:
		return &cfg.Platforms.WhatsApp
	}
	return nil
}

func signCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [platform] [payload.json|-]",
		Short: "Print the signature header a platform would send for a payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := domain.ParsePlatform(args[0])
			if !ok {
				return fmt.Errorf("unknown platform: %s", args[0])
			}
			spec, err := channel.SpecFor(p)
			if err != nil {
				return err
			}
			body, err := readPayload(args[1])
			if err != nil {
				return err
			}
			if secret == "" {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return fmt.Errorf("no --secret given and %w", err)
				}
				secret = platformConfig(cfg, p).AppSecret
			}
			if secret == "" {
				return fmt.Errorf("no app secret configured for %s", p)
			}
			fmt.Printf("%s: %s\n", spec.SignatureHeader, channel.Sign(spec.Algorithm, secret, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "app secret (default: from config)")
	return cmd
}
