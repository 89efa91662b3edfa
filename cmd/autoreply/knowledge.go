package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"autoreply/internal/config"
	"autoreply/internal/knowledge"
	"autoreply/internal/storage"

	"github.com/spf13/cobra"
)

// openKnowledge opens the configured store whether or not knowledge lookup is
// enabled for the webhook pipeline, so entries can be prepared in advance.
func openKnowledge(ctx context.Context, cfg *config.Config) (*knowledge.Engine, func(), error) {
	db, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	engine := knowledge.NewEngine(knowledge.EngineConfig{
		Store:  knowledge.NewSQLStore(db, logger),
		TopK:   cfg.Knowledge.TopK,
		Logger: logger,
	})
	return engine, func() { db.Close() }, nil
}

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge base used to ground replies",
	}
	cmd.AddCommand(knowledgeAddCmd(), knowledgeSearchCmd(), knowledgeListCmd(), knowledgeDeleteCmd())
	return cmd
}

func knowledgeAddCmd() *cobra.Command {
	var (
		title, kind, userID, file string
		document                  bool
	)
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add a knowledge entry from an argument or --file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(data)
			case len(args) == 1:
				content = args[0]
			default:
				return fmt.Errorf("content argument or --file is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			engine, closeFn, err := openKnowledge(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			item := knowledge.Item{UserID: userID, Type: kind, Title: title, Content: content,
				Metadata: map[string]any{"source": "cli"}}
			if document {
				items, err := engine.AddDocument(ctx, item)
				if err != nil {
					return err
				}
				for _, k := range items {
					fmt.Println(k.ID)
				}
				return nil
			}
			k, err := engine.AddItem(ctx, item)
			if err != nil {
				return err
			}
			fmt.Println(k.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "entry title")
	cmd.Flags().StringVar(&kind, "type", knowledge.DefaultType, "entry type (faq, product, policy, ...)")
	cmd.Flags().StringVar(&userID, "user", "", "owner user id (empty: shared)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read content from file")
	cmd.Flags().BoolVar(&document, "document", false, "split long content into overlapping chunks")
	return cmd
}

func knowledgeSearchCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the knowledge a message would be grounded on",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, closeFn, err := openKnowledge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := engine.Search(cmd.Context(), strings.Join(args, " "), userID)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, it := range items {
				fmt.Printf("%-36s  %5.1f  %s\n", it.ID, it.Score, it.Title)
			}
			fmt.Println()
			fmt.Println(knowledge.BuildContext(items))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "search as this user")
	return cmd
}

func knowledgeListCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, closeFn, err := openKnowledge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := engine.List(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only entries visible to this user")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func knowledgeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a knowledge entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, closeFn, err := openKnowledge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := engine.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("knowledge entry deleted", "id", args[0])
			return nil
		},
	}
}
