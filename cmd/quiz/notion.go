package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"news-quiz/internal/pipeline"
)

func notionSetupCmd() *cobra.Command {
	var pageID string

	cmd := &cobra.Command{
		Use:   "notion-setup",
		Short: "Create the Notion database that archived questions are clipped into",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.NotionToken == "" {
				return errors.New("set NOTION_TOKEN in your environment")
			}
			if cfg.NotionDatabaseID != "" {
				return fmt.Errorf("NOTION_DATABASE_ID is already set (%s)", cfg.NotionDatabaseID)
			}

			na, err := pipeline.NewNotionArchiver(cfg.NotionToken, "")
			if err != nil {
				return err
			}
			if err := na.CreateDatabase(cmd.Context(), pageID); err != nil {
				return err
			}
			fmt.Printf("Created Notion database.\nAdd this to your .env:\nNOTION_DATABASE_ID=%s\n", na.DatabaseID())
			return nil
		},
	}

	cmd.Flags().StringVar(&pageID, "page", "", "parent Notion page ID (required)")
	_ = cmd.MarkFlagRequired("page")
	return cmd
}
