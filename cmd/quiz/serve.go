package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"news-quiz/internal/archive"
	"news-quiz/internal/cron"
	"news-quiz/internal/logger"
	"news-quiz/internal/pipeline"
	"news-quiz/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		addrFlag     string
		debugFlag    bool
		noArchive    bool
		noRefreshNow bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the quiz over HTTP and refresh it on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addrFlag != "" {
				cfg.ListenAddr = addrFlag
			}
			if debugFlag {
				cfg.Debug = true
			}
			if noRefreshNow {
				cfg.RefreshOnStart = false
			}
			if noArchive {
				cfg.ArchivePath = ""
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.APIKey == "" && !cfg.Debug {
				logger.Warn("OPENAI_API_KEY is not set; live generation will fail")
			}

			var (
				history   server.History
				archivers []pipeline.Archiver
			)
			if cfg.ArchivePath != "" {
				store, err := archive.Open(cfg.ArchivePath)
				if err != nil {
					return err
				}
				defer store.Close()
				history = store
				archivers = append(archivers, store)
			}

			svc, err := pipeline.NewLiveService(cfg, archivers...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			refresh := func(ctx context.Context) {
				if _, err := svc.Refresh(ctx); err != nil {
					logger.Error("scheduled refresh failed", "error", err)
				}
			}
			sched, err := cron.NewScheduler("daily-quiz", cfg.Schedule, refresh)
			if err != nil {
				return err
			}
			go func() {
				_ = sched.Run(ctx)
			}()
			if cfg.RefreshOnStart {
				go refresh(ctx)
			}

			srv := server.New(svc, svc.Store(), history, server.Options{DefaultQuestions: cfg.Questions})
			httpSrv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.ListenAddr, "debug", cfg.Debug, "schedule", cfg.Schedule)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default from config, :4000)")
	cmd.Flags().BoolVar(&debugFlag, "debug", false, "serve the bundled sample quiz instead of calling the model")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "disable the SQLite quiz history")
	cmd.Flags().BoolVar(&noRefreshNow, "no-refresh", false, "skip the refresh that normally runs at startup")
	return cmd
}
