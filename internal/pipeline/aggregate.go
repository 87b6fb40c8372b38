// =============================================================================
// aggregate.go - 設問の集約（Quiz Aggregator）
// =============================================================================
//
// 記事ごとに「生成 → シャッフル → フィルタ」を実行し、最大N件の設問を集めます。
//
// 【戦略】
//   sequential: フィード順に1記事ずつ処理し、N件集まるか試行上限に達したら終了
//   parallel:   先頭 attemptCap 件を同時実行数上限付きで並列処理し、
//               全件の完了を待ってから「起動順」で先頭N件を採用
//
// 【記事単位の試行】
//   AttemptsPerArticle 回まで再試行する。生成失敗・応答不正・フィルタ除外の
//   いずれも再試行の対象。成功した時点で打ち切る。
//
// 個別記事の失敗ではサイクルを中断しない。N件に満たない場合も短いクイズを返す。
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"news-quiz/internal/logger"
)

// QuestionSynthesizer produces one Candidate per Article.
type QuestionSynthesizer interface {
	Synthesize(ctx context.Context, a Article) (Candidate, error)
}

// AggregatorConfig controls how articles are driven through the synthesizer.
type AggregatorConfig struct {
	Strategy           string
	AttemptsPerArticle int
	MaxConcurrency     int
	RequestsPerSecond  float64 // 0 = unlimited
	Rand               *rand.Rand
}

// Stats summarises one Collect call.
type Stats struct {
	Attempted int      // articles tried
	Accepted  int      // items returned (after truncation)
	Rejected  int      // articles whose last attempt was filtered out
	Failed    int      // articles whose last attempt errored
	Errors    []string // one line per failed article
}

// Aggregator collects quiz items from articles.
type Aggregator struct {
	synth   QuestionSynthesizer
	filter  *Filter
	cfg     AggregatorConfig
	limiter *rate.Limiter

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewAggregator returns an Aggregator. Zero-valued config fields fall back to
// the parallel strategy, two attempts per article and four workers.
func NewAggregator(s QuestionSynthesizer, f *Filter, cfg AggregatorConfig) *Aggregator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyParallel
	}
	if cfg.AttemptsPerArticle < 1 {
		cfg.AttemptsPerArticle = 2
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 4
	}
	if f == nil {
		f = NewFilter(nil)
	}
	a := &Aggregator{synth: s, filter: f, cfg: cfg, rng: cfg.Rand}
	if cfg.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return a
}

// Collect returns at most n accepted items drawn from the first attemptCap articles.
func (a *Aggregator) Collect(ctx context.Context, articles []Article, n, attemptCap int) []QuizItem {
	items, _ := a.CollectStats(ctx, articles, n, attemptCap)
	return items
}

// CollectStats is Collect plus a summary of what happened to each article.
func (a *Aggregator) CollectStats(ctx context.Context, articles []Article, n, attemptCap int) ([]QuizItem, Stats) {
	if n <= 0 {
		return []QuizItem{}, Stats{}
	}
	if attemptCap <= 0 || attemptCap > len(articles) {
		attemptCap = len(articles)
	}
	candidates := articles[:attemptCap]

	if a.cfg.Strategy == StrategySequential {
		return a.sequential(ctx, candidates, n)
	}
	return a.parallel(ctx, candidates, n)
}

// outcome is the result of driving one article through all its attempts.
type outcome struct {
	item     *QuizItem
	rejected bool
	err      error
}

func (a *Aggregator) sequential(ctx context.Context, articles []Article, n int) ([]QuizItem, Stats) {
	items := make([]QuizItem, 0, n)
	var st Stats
	for _, art := range articles {
		if len(items) >= n || ctx.Err() != nil {
			break
		}
		st.Attempted++
		o := a.tryArticle(ctx, art)
		st.record(art, o)
		if o.item != nil {
			items = append(items, *o.item)
		}
	}
	st.Accepted = len(items)
	return items, st
}

func (a *Aggregator) parallel(ctx context.Context, articles []Article, n int) ([]QuizItem, Stats) {
	outcomes := make([]outcome, len(articles))

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, art := range articles {
		g.Go(func() error {
			outcomes[i] = a.tryArticle(ctx, art)
			return nil
		})
	}
	_ = g.Wait()

	// 起動順（フィード順）で採用する
	items := make([]QuizItem, 0, n)
	var st Stats
	for i, o := range outcomes {
		st.Attempted++
		st.record(articles[i], o)
		if o.item != nil && len(items) < n {
			items = append(items, *o.item)
		}
	}
	st.Accepted = len(items)
	return items, st
}

// tryArticle runs up to AttemptsPerArticle synthesize→shuffle→filter rounds
// and stops at the first accepted item.
func (a *Aggregator) tryArticle(ctx context.Context, art Article) outcome {
	log := logger.FromContext(ctx).With("article", art.Title)
	var last outcome
	for attempt := 1; attempt <= a.cfg.AttemptsPerArticle; attempt++ {
		if err := ctx.Err(); err != nil {
			if last.err == nil && !last.rejected {
				last.err = asTimeout("aggregate", err)
			}
			return last
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				last = outcome{err: asTimeout("rate limit", err)}
				return last
			}
		}

		cand, err := a.synth.Synthesize(ctx, art)
		if err != nil {
			log.Warn("question generation failed", "attempt", attempt, "error", err)
			last = outcome{err: err}
			continue
		}

		item := a.shuffle(cand, art.Link)
		if ok, matched := a.filter.Check(item); !ok {
			log.Info("question rejected by filter", "attempt", attempt, "keywords", matched)
			last = outcome{rejected: true}
			continue
		}
		return outcome{item: &item}
	}
	return last
}

func (a *Aggregator) shuffle(c Candidate, source string) QuizItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Shuffle(c, source, a.rng)
}

func (s *Stats) record(art Article, o outcome) {
	switch {
	case o.item != nil:
	case o.rejected:
		s.Rejected++
	case o.err != nil:
		s.Failed++
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", truncateString(art.Title, 80), o.err))
	}
}
