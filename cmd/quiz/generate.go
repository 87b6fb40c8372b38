package main

import (
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"news-quiz/internal/archive"
	"news-quiz/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func generateCmd() *cobra.Command {
	var (
		nFlag      int
		urlFlag    string
		strategy   string
		debugFlag  bool
		noSaveFlag bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation cycle and print the quiz",
		Long: "Runs one generation cycle. By default the result replaces the persisted quiz " +
			"(and is archived and reported like a scheduled refresh); --no-save only prints it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if nFlag > 0 {
				cfg.Questions = nFlag
				if cfg.MinQuestions > nFlag {
					cfg.MinQuestions = nFlag
				}
			}
			if urlFlag != "" {
				cfg.FeedURL = urlFlag
			}
			if strategy != "" {
				cfg.Strategy = strategy
			}
			if debugFlag {
				cfg.Debug = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.APIKey == "" && !cfg.Debug {
				return errors.New("set OPENAI_API_KEY in your environment (or use --debug)")
			}

			var archivers []pipeline.Archiver
			if cfg.ArchivePath != "" && !noSaveFlag {
				store, err := archive.Open(cfg.ArchivePath)
				if err != nil {
					return err
				}
				defer store.Close()
				archivers = append(archivers, store)
			}

			svc, err := pipeline.NewLiveService(cfg, archivers...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var q *pipeline.Quiz
			if noSaveFlag {
				q, err = svc.Generate(ctx, pipeline.Request{Debug: cfg.Debug})
			} else {
				q, err = svc.Refresh(ctx)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(q, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			fmt.Fprintf(os.Stderr, "%d/%d questions\n", len(q.Questions), cfg.Questions)
			return nil
		},
	}

	cmd.Flags().IntVarP(&nFlag, "questions", "n", 0, "number of questions (default from config)")
	cmd.Flags().StringVar(&urlFlag, "url", "", "RSS feed URL (default from config)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "parallel or sequential")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "use the bundled sample quiz")
	cmd.Flags().BoolVar(&noSaveFlag, "no-save", false, "print the quiz without persisting it")
	return cmd
}
