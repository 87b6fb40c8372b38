// =============================================================================
// feed.go - RSSフィード取得
// =============================================================================
//
// ニュースフィードを取得し、Article のスライスに変換します。
//
// 【処理の流れ】
//   1. 共有HTTPクライアントでGET（User-Agent付き）
//   2. 2xx以外は FetchError
//   3. gofeed でパース（RSS / Atom 両対応）。不正XMLまたは記事0件は ParseError
//   4. description のHTMLを goquery で除去してプレーンテキスト化
//
// このレイヤーではリトライしない。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// FeedFetcher retrieves the articles of one feed in document order.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]Article, error)
}

// FetcherConfig はフィード取得時の設定を保持
type FetcherConfig struct {
	UserAgent   string
	Client      *http.Client // 共有HTTPクライアント（コネクションプーリング有効）
	MaxArticles int          // 0 = 全件
}

// DefaultFetcherConfig はデフォルトのフィード取得設定を返す
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent: "Mozilla/5.0 (compatible; news-quiz/1.0)",
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// RSSFetcher is the FeedFetcher backed by net/http and gofeed.
type RSSFetcher struct {
	cfg FetcherConfig
}

// NewRSSFetcher returns a fetcher; a nil Client falls back to the default one.
func NewRSSFetcher(cfg FetcherConfig) *RSSFetcher {
	if cfg.Client == nil {
		cfg.Client = DefaultFetcherConfig().Client
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultFetcherConfig().UserAgent
	}
	return &RSSFetcher{cfg: cfg}
}

// Fetch downloads and parses feedURL.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, asTimeout("fetch feed", &FetchError{URL: feedURL, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, asTimeout("fetch feed", &FetchError{URL: feedURL, Err: ctx.Err()})
		}
		return nil, &ParseError{URL: feedURL, Err: err}
	}
	if len(feed.Items) == 0 {
		return nil, &ParseError{URL: feedURL, Err: errors.New("feed has no items")}
	}

	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := Article{
			Title:       normalizeWhitespace(item.Title),
			Link:        strings.TrimSpace(item.Link),
			Description: extractDescription(item),
		}
		if a.Title == "" && a.Description == "" {
			continue
		}
		articles = append(articles, a)
		if f.cfg.MaxArticles > 0 && len(articles) >= f.cfg.MaxArticles {
			break
		}
	}
	if len(articles) == 0 {
		return nil, &ParseError{URL: feedURL, Err: fmt.Errorf("none of %d items has a title or description", len(feed.Items))}
	}
	return articles, nil
}

// extractDescription は Description を優先し、無ければ Content を使う
func extractDescription(item *gofeed.Item) string {
	raw := item.Description
	if raw == "" {
		raw = item.Content
	}
	return cleanHTMLTags(raw)
}

// cleanHTMLTags removes markup and decodes entities. Plain text passes through
// unchanged apart from whitespace normalisation.
func cleanHTMLTags(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return normalizeWhitespace(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return normalizeWhitespace(raw)
	}
	doc.Find("script, style").Remove()
	return normalizeWhitespace(doc.Text())
}
