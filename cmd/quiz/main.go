// =============================================================================
// main.go - news-quiz のエントリーポイント
// =============================================================================
//
// ニュースRSSから4択クイズを生成・配信するCLIです。
//
// 【サブコマンド】
//   serve        HTTPサーバー + 日次スケジューラ（常駐）
//   generate     1サイクルだけ実行して today.json を更新
//   show         保存済みのクイズを表示
//   notion-setup Notion にクイズ用データベースを作成
//   version      バージョン表示
//
// 【設定の優先順位】
//   デフォルト < --config のYAML < 環境変数（.env含む） < CLIフラグ
//
// =============================================================================
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv" // .env ファイル読み込み
	"github.com/spf13/cobra"

	"news-quiz/internal/logger"
	"news-quiz/internal/pipeline"
)

var version = "dev"

var (
	flagConfig   string
	flagLogLevel string
	flagLogFile  string
)

func main() {
	// .env が無くても環境変数だけで動く
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "news-quiz",
		Short:         "Daily multiple-choice quiz built from a news feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", os.Getenv("QUIZ_CONFIG"), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also write logs to this file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(notionSetupCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("news-quiz %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config, applies the persistent flags and sets up logging.
func loadConfig() (*pipeline.Config, error) {
	cfg, err := pipeline.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}
