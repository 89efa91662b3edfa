package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"autoreply/internal/config"
	"autoreply/internal/pipeline"
	"autoreply/internal/storage"
	"autoreply/internal/workflow"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the autoreply installation",
		Long: `Verifies that the configuration, platform credentials, providers, storage
and workflow definitions are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("autoreply doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'autoreply init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config is invalid")
			}
			printPass("Config validation", "valid")
			passed++

			enabled := 0
			for _, name := range []string{"facebook", "instagram", "whatsapp"} {
				pc, _ := cfg.Platforms.Platform(name)
				if !pc.Enabled {
					continue
				}
				enabled++
				switch {
				case pc.VerifyToken == "":
					printWarn("Platform: "+name, "no verifyToken, handshakes will fail")
					warned++
				case pc.AppSecret == "":
					printWarn("Platform: "+name, "no appSecret, signatures are not verified")
					warned++
				case pc.AutoReply && pc.AccessToken == "":
					printWarn("Platform: "+name, "autoReply is on but accessToken is empty")
					warned++
				default:
					printPass("Platform: "+name, "configured")
					passed++
				}
			}
			if enabled == 0 {
				printFail("Platforms", "no platforms enabled")
				failed++
			}

			for name, p := range cfg.AI.Providers {
				if !p.Enabled {
					continue
				}
				if p.APIKey == "" {
					printWarn("Provider: "+name, "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: "+name, p.Kind+" "+p.DefaultModel)
					passed++
				}
			}
			printPass("Default provider", cfg.AI.DefaultProvider)
			passed++

			if cfg.Knowledge.Enabled || cfg.Storage.LogMessage {
				if v, err := checkDatabase(cfg); err != nil {
					printFail("Storage", err.Error())
					failed++
				} else {
					printPass("Storage", fmt.Sprintf("%s schema v%d", cfg.Storage.Driver, v))
					passed++
				}
			}

			if path := cfg.Workflows.DefinitionsPath; path != "" {
				if defs, err := workflow.LoadDefinitions(path); err != nil {
					printFail("Workflows", err.Error())
					failed++
				} else {
					printPass("Workflows", fmt.Sprintf("%d definitions in %s", len(defs), path))
					passed++
				}
			} else {
				printPass("Workflows", fmt.Sprintf("%d built-in definitions", len(pipeline.DefaultDefinitions())))
				passed++
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				printWarn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("Server port", cfg.Server.Addr()+" available")
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running autoreply.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nautoreply should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! autoreply is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens (and migrates) the configured store.
func checkDatabase(cfg *config.Config) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return storage.GetSchemaVersion(ctx, db)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
