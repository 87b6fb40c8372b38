package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"news-quiz/internal/archive"
	"news-quiz/internal/pipeline"
)

func showCmd() *cobra.Command {
	var dayFlag string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted quiz, or an archived day with --day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if dayFlag != "" {
				if cfg.ArchivePath == "" {
					return errors.New("archive is disabled (archive_path is empty)")
				}
				store, err := archive.Open(cfg.ArchivePath)
				if err != nil {
					return err
				}
				defer store.Close()

				q, err := store.Get(cmd.Context(), dayFlag)
				if errors.Is(err, archive.ErrNotFound) {
					return fmt.Errorf("no quiz archived for %s", dayFlag)
				}
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(q, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(out))
				return nil
			}

			raw, err := pipeline.NewFileStore(cfg.QuizFile).Read()
			if errors.Is(err, pipeline.ErrNotReady) {
				fmt.Fprintln(os.Stdout, "Quiz not ready yet")
				return nil
			}
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(raw)
			return err
		},
	}

	cmd.Flags().StringVar(&dayFlag, "day", "", "archived day to print (YYYY-MM-DD)")
	return cmd
}
