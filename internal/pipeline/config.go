// =============================================================================
// config.go - パイプライン設定
// =============================================================================
//
// このファイルは設定の読み込みと検証を行います。
//
// 【優先順位】（後のものが上書き）
//   1. DefaultConfig() の組み込みデフォルト
//   2. YAML設定ファイル（-config / QUIZ_CONFIG）
//   3. 環境変数（.env ファイルは cmd 側で godotenv により読み込み済み）
//   4. CLIフラグ（cmd/quiz 側で上書き）
//
// =============================================================================
package pipeline

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"news-quiz/internal/cron"
)

// Aggregation strategies.
const (
	StrategyParallel   = "parallel"
	StrategySequential = "sequential"
)

// DefaultFeedURL is the news feed used when nothing else is configured.
const DefaultFeedURL = "https://www.thestar.com.my/rss/News/"

// Config はパイプラインの全設定を保持する
type Config struct {
	// Feed
	FeedURL     string `yaml:"feed_url"`
	MaxArticles int    `yaml:"max_articles"` // フィード先頭から使う記事数（0=全件）

	// Aggregation
	Questions          int     `yaml:"questions"`            // 要求設問数 N
	CandidateFactor    int     `yaml:"candidate_factor"`     // 並列時の候補倍率 k
	AttemptCap         int     `yaml:"attempt_cap"`          // 試行する記事数の上限（0 = N*k）
	AttemptsPerArticle int     `yaml:"attempts_per_article"` // 記事あたりの生成試行回数
	Strategy           string  `yaml:"strategy"`             // parallel | sequential
	MaxConcurrency     int     `yaml:"max_concurrency"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"` // 0 = 無制限
	MinQuestions       int     `yaml:"min_questions"`       // これ未満ならサイクル失敗

	// Model
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Temperature   float32       `yaml:"temperature"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`

	// Persistence
	QuizFile    string `yaml:"quiz_file"`
	ArchivePath string `yaml:"archive_path"`

	// Shell
	ListenAddr     string        `yaml:"listen_addr"`
	Schedule       string        `yaml:"schedule"` // UTC cron式
	RefreshOnStart bool          `yaml:"refresh_on_start"`
	Debug          bool          `yaml:"debug"`
	DebugDelay     time.Duration `yaml:"debug_delay"` // 設問1つあたりの擬似遅延
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`

	// Optional sinks
	NotionToken      string `yaml:"notion_token"`
	NotionDatabaseID string `yaml:"notion_database_id"`
	EmailFrom        string `yaml:"email_from"`
	EmailPassword    string `yaml:"email_password"`
	EmailTo          string `yaml:"email_to"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		FeedURL:            DefaultFeedURL,
		Questions:          10,
		CandidateFactor:    2,
		AttemptsPerArticle: 2,
		Strategy:           StrategyParallel,
		MaxConcurrency:     4,
		Model:              "gpt-4o-mini",
		Temperature:        0.7,
		CallTimeout:        30 * time.Second,
		CycleTimeout:       5 * time.Minute,
		QuizFile:           "today.json",
		ArchivePath:        "quiz.db",
		ListenAddr:         ":4000",
		Schedule:           "0 6 * * *",
		RefreshOnStart:     true,
		DebugDelay:         100 * time.Millisecond,
		LogLevel:           "info",
	}
}

// LoadConfig reads an optional YAML file over the defaults and then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv は環境変数から設定を上書きする
//
// getenv is injected so tests don't have to mutate the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("OPENAI_API_KEY", &c.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	str("OPENAI_MODEL", &c.Model)
	str("RSS_URL", &c.FeedURL)
	str("QUIZ_FILE", &c.QuizFile)
	str("ARCHIVE_PATH", &c.ArchivePath)
	str("STRATEGY", &c.Strategy)
	str("SCHEDULE", &c.Schedule)
	str("LOG_LEVEL", &c.LogLevel)
	str("NOTION_TOKEN", &c.NotionToken)
	str("NOTION_DATABASE_ID", &c.NotionDatabaseID)
	str("EMAIL_FROM", &c.EmailFrom)
	str("EMAIL_PASSWORD", &c.EmailPassword)
	str("EMAIL_TO", &c.EmailTo)

	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.ListenAddr = ":" + port
	}

	for key, dst := range map[string]*int{
		"QUESTIONS":       &c.Questions,
		"MAX_CONCURRENCY": &c.MaxConcurrency,
		"MIN_QUESTIONS":   &c.MinQuestions,
		"MAX_ARTICLES":    &c.MaxArticles,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return flag("DEBUG", &c.Debug)
}

// EffectiveAttemptCap returns the number of articles a cycle may try for n questions.
func (c *Config) EffectiveAttemptCap(n int) int {
	if c.AttemptCap > 0 {
		return c.AttemptCap
	}
	k := c.CandidateFactor
	if k < 1 {
		k = 1
	}
	return n * k
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Questions < 1 {
		return fmt.Errorf("questions must be >= 1, got %d", c.Questions)
	}
	switch c.Strategy {
	case StrategyParallel:
		if c.CandidateFactor < 2 {
			return fmt.Errorf("candidate_factor must be >= 2 for the parallel strategy, got %d", c.CandidateFactor)
		}
	case StrategySequential:
	default:
		return fmt.Errorf("unknown strategy %q (valid: parallel, sequential)", c.Strategy)
	}
	if c.AttemptsPerArticle < 1 {
		return fmt.Errorf("attempts_per_article must be >= 1, got %d", c.AttemptsPerArticle)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.MinQuestions < 0 || c.MinQuestions > c.Questions {
		return fmt.Errorf("min_questions must be between 0 and questions (%d), got %d", c.Questions, c.MinQuestions)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature)
	}
	if err := ValidateFeedURL(c.FeedURL); err != nil {
		return err
	}
	if _, err := cron.Parse(c.Schedule); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// ValidateFeedURL accepts absolute http and https URLs only.
func ValidateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("feed url %q has no host", raw)
	}
	return nil
}

// EmailEnabled reports whether all SMTP settings are present.
func (c *Config) EmailEnabled() bool {
	return c.EmailFrom != "" && c.EmailPassword != "" && c.EmailTo != ""
}

// NotionEnabled reports whether the Notion archive sink is configured.
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}
