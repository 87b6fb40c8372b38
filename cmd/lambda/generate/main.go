// =============================================================================
// Lambda: generate-quiz
// =============================================================================
//
// EventBridge のスケジュールから起動され、1サイクル分のクイズを生成して
// 保存する Lambda 関数（serve の cron と同じ Refresh を実行）
//
// 環境変数:
//   - OPENAI_API_KEY:     OpenAI API Key (DEBUG=true 以外は必須)
//   - RSS_URL:            ニュースフィード (任意)
//   - QUESTIONS:          設問数 (デフォルト: 10)
//   - QUIZ_FILE:          保存先 (デフォルト: /tmp/today.json)
//   - ARCHIVE_PATH:       SQLite 履歴 (任意、未設定なら無効)
//   - NOTION_TOKEN / NOTION_DATABASE_ID: Notion 保存 (任意)
//   - EMAIL_FROM / EMAIL_PASSWORD / EMAIL_TO: 失敗通知メール (任意)
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"news-quiz/internal/archive"
	"news-quiz/internal/logger"
	"news-quiz/internal/pipeline"
)

// Response はLambdaレスポンス
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Questions  int    `json:"questions"`
}

// Handler はLambdaのメインハンドラー
func Handler(ctx context.Context, event any) (Response, error) {
	logger.Info("starting generate-quiz lambda")

	cfg, err := loadConfig()
	if err != nil {
		return Response{StatusCode: 400, Message: err.Error()}, err
	}

	var archivers []pipeline.Archiver
	if cfg.ArchivePath != "" {
		store, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return Response{StatusCode: 500, Message: err.Error()}, err
		}
		defer store.Close()
		archivers = append(archivers, store)
	}

	svc, err := pipeline.NewLiveService(cfg, archivers...)
	if err != nil {
		return Response{StatusCode: 500, Message: err.Error()}, err
	}

	q, err := svc.Refresh(ctx)
	if err != nil {
		logger.Error("generation failed", "error", err)
		return Response{StatusCode: 500, Message: "Failed to generate quiz"}, err
	}

	return Response{
		StatusCode: 200,
		Message:    fmt.Sprintf("Generated %d/%d questions", len(q.Questions), cfg.Questions),
		Questions:  len(q.Questions),
	}, nil
}

// loadConfig は環境変数から設定を読み込む
//
// Lambda では /tmp 以外に書き込めないため、保存先のデフォルトを差し替える。
func loadConfig() (*pipeline.Config, error) {
	cfg, err := pipeline.LoadConfig(os.Getenv("QUIZ_CONFIG"))
	if err != nil {
		return nil, err
	}
	if os.Getenv("QUIZ_FILE") == "" {
		cfg.QuizFile = "/tmp/today.json"
	}
	if os.Getenv("ARCHIVE_PATH") == "" {
		cfg.ArchivePath = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" && !cfg.Debug {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return cfg, nil
}

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL"), ""); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}
	lambda.Start(Handler)
}
