// =============================================================================
// service.go - 生成サイクル（Generation Service）
// =============================================================================
//
// フィード取得から設問集約までの1サイクルを管理します。
//
// 【2つの入口】
//   Generate: オンデマンド生成（GET /quiz）。結果は永続化しない。
//   Refresh:  定期生成（cron / 起動時 / CLI / Lambda）。
//             ファイルへ保存し、アーカイブへ送り、不足・失敗時は通知する。
//
// 【並行性】
//   - 同じパラメータの同時リクエストは singleflight で1サイクルに合流する
//   - サイクル自体は slots（容量1のセマフォ）で直列化する（同時に走るのは最大1サイクル）
//   - サイクルは個々の呼び出し元のキャンセルから切り離すが、待っている呼び出し元が
//     全員いなくなった時点でキャンセルする（待ち行列に放棄されたサイクルが残らない）
//   - Refresh は呼び出し元から完全に切り離す
//   - CycleTimeout はスロット取得後に適用する
//
// 【失敗の扱い】
//   - 期限切れは TimeoutError。何も永続化しない
//   - MinQuestions 未満は ErrTooFewQuestions
//   - Refresh の失敗（保存失敗を含む）と設問不足は Notifier に通知する。
//     デバッグモードの設問不足は通知しない
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"news-quiz/internal/logger"
)

// Request parameterises one generation.
type Request struct {
	N       int    // 0 = configured Questions
	FeedURL string // "" = configured FeedURL
	Debug   bool
}

// ServiceDeps are the collaborators of a Service. Only Fetcher and
// Synthesizer are required for live generation.
type ServiceDeps struct {
	Fetcher     FeedFetcher
	Synthesizer QuestionSynthesizer
	Filter      *Filter
	Store       *FileStore
	Archivers   []Archiver
	Notifier    Notifier
	Rand        *rand.Rand
	Now         func() time.Time
}

// Service runs generation cycles.
type Service struct {
	cfg       *Config
	fetcher   FeedFetcher
	agg       *Aggregator
	store     *FileStore
	archivers []Archiver
	notifier  Notifier
	now       func() time.Time

	group     singleflight.Group
	slots     *semaphore.Weighted
	flightsMu sync.Mutex
	flights   map[string]*flight
}

// flight is the set of callers waiting on one singleflight key. Its context
// outlives any single caller and is canceled when the last one leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// cycleResult is shared by every caller joined on one cycle.
type cycleResult struct {
	id    string
	quiz  *Quiz
	stats Stats
}

// NewService wires a Service from cfg and deps.
func NewService(cfg *Config, deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		agg: NewAggregator(deps.Synthesizer, deps.Filter, AggregatorConfig{
			Strategy:           cfg.Strategy,
			AttemptsPerArticle: cfg.AttemptsPerArticle,
			MaxConcurrency:     cfg.MaxConcurrency,
			RequestsPerSecond:  cfg.RequestsPerSecond,
			Rand:               deps.Rand,
		}),
		store:     deps.Store,
		archivers: deps.Archivers,
		notifier:  deps.Notifier,
		now:       now,
		slots:     semaphore.NewWeighted(1),
		flights:   make(map[string]*flight),
	}
}

// NewLiveService builds the production Service: RSS fetcher, OpenAI
// synthesizer, file store and whichever optional sinks cfg enables.
func NewLiveService(cfg *Config, archivers ...Archiver) (*Service, error) {
	deps := ServiceDeps{
		Fetcher:     NewRSSFetcher(FetcherConfig{MaxArticles: cfg.MaxArticles}),
		Synthesizer: NewSynthesizer(NewOpenAICompleter(cfg), cfg.CallTimeout),
		Store:       NewFileStore(cfg.QuizFile),
	}
	deps.Archivers = append(deps.Archivers, archivers...)

	if cfg.NotionEnabled() {
		na, err := NewNotionArchiver(cfg.NotionToken, cfg.NotionDatabaseID)
		if err != nil {
			return nil, err
		}
		deps.Archivers = append(deps.Archivers, na)
	}
	if cfg.EmailEnabled() {
		es, err := NewEmailSender(cfg.EmailFrom, cfg.EmailPassword, cfg.EmailTo)
		if err != nil {
			return nil, err
		}
		deps.Notifier = es
	}
	return NewService(cfg, deps), nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config { return s.cfg }

// Store returns the file store, or nil when the service does not persist.
func (s *Service) Store() *FileStore { return s.store }

// Generate runs (or joins) a cycle for req and returns the quiz without
// persisting it.
func (s *Service) Generate(ctx context.Context, req Request) (*Quiz, error) {
	res, err := s.run(ctx, s.normalize(req))
	if err != nil {
		return nil, err
	}
	return res.quiz, nil
}

// Refresh runs (or joins) the default cycle and persists the result.
func (s *Service) Refresh(ctx context.Context) (*Quiz, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		// 呼び出し元のキャンセルで保存が中断されないよう切り離す
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, asTimeout("refresh", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Quiz), nil
	}
}

func (s *Service) refresh(ctx context.Context) (*Quiz, error) {
	req := s.normalize(Request{Debug: s.cfg.Debug})
	res, err := s.run(ctx, req)

	report := CycleReport{
		FeedURL:   req.FeedURL,
		Requested: req.N,
		Err:       err,
		At:        s.now(),
	}
	if res != nil {
		report.CycleID = res.id
		report.Stats = res.stats
	}
	if err != nil {
		logger.Error("refresh failed", "error", err)
		s.notify(ctx, report)
		return nil, err
	}
	report.Generated = len(res.quiz.Questions)
	log := logger.With("cycle", res.id)

	if s.store != nil {
		if err := s.store.Write(res.quiz); err != nil {
			err = fmt.Errorf("persist quiz: %w", err)
			log.Error("refresh failed", "error", err)
			report.Err = err
			s.notify(ctx, report)
			return nil, err
		}
		log.Info("quiz persisted", "path", s.store.Path(), "questions", report.Generated)
	}
	for _, a := range s.archivers {
		if err := a.Archive(ctx, res.quiz); err != nil {
			log.Warn("archive failed", "archiver", fmt.Sprintf("%T", a), "error", err)
		}
	}
	if report.Generated < req.N && !req.Debug {
		s.notify(ctx, report)
	}
	return res.quiz, nil
}

func (s *Service) notify(ctx context.Context, r CycleReport) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, r); err != nil {
		logger.Warn("notification failed", "error", err)
	}
}

func (s *Service) normalize(req Request) Request {
	if req.N <= 0 {
		req.N = s.cfg.Questions
	}
	if req.FeedURL == "" {
		req.FeedURL = s.cfg.FeedURL
	}
	return req
}

// run joins callers with identical parameters onto one cycle.
func (s *Service) run(ctx context.Context, req Request) (*cycleResult, error) {
	key := fmt.Sprintf("generate|%d|%t|%s", req.N, req.Debug, req.FeedURL)
	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.group.DoChan(key, func() (any, error) {
		return s.cycle(f.ctx, req)
	})
	select {
	case <-ctx.Done():
		return nil, asTimeout("generate", ctx.Err())
	case r := <-ch:
		res, _ := r.Val.(*cycleResult)
		return res, r.Err
	}
}

// join registers a waiter on key, creating the flight for the first one.
func (s *Service) join(ctx context.Context, key string) *flight {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()

	f, ok := s.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the flight and makes the
// next caller for key start a fresh cycle instead of joining an abandoned one.
func (s *Service) leave(key string, f *flight) {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[key] == f {
		delete(s.flights, key)
		s.group.Forget(key)
	}
}

// cycle performs one generation in the cycle slot and under the deadline.
func (s *Service) cycle(ctx context.Context, req Request) (*cycleResult, error) {
	res := &cycleResult{id: uuid.NewString()}
	log := logger.With("cycle", res.id)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		log.Debug("generation cycle abandoned before start", "n", req.N)
		return res, fmt.Errorf("generation cycle abandoned: %w", err)
	}
	defer s.slots.Release(1)

	ctx = logger.NewContext(ctx, log)

	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	log.Info("generation cycle started", "n", req.N, "feed", req.FeedURL, "debug", req.Debug)

	if req.Debug {
		q, err := s.debugQuiz(ctx, req.N)
		if err != nil {
			return res, err
		}
		res.quiz = q
		log.Info("generation cycle finished", "debug", true, "duration", time.Since(start))
		return res, nil
	}
	if s.fetcher == nil || s.agg.synth == nil {
		return res, fmt.Errorf("live generation is not configured")
	}
	if err := ValidateFeedURL(req.FeedURL); err != nil {
		return res, err
	}

	articles, err := s.fetcher.Fetch(ctx, req.FeedURL)
	if err != nil {
		return res, asTimeout("generation cycle", err)
	}
	log.Debug("feed fetched", "articles", len(articles))

	items, stats := s.agg.CollectStats(ctx, articles, req.N, s.cfg.EffectiveAttemptCap(req.N))
	res.stats = stats
	if err := ctx.Err(); err != nil {
		return res, &TimeoutError{Op: "generation cycle", Err: err}
	}

	logCycleStats(log, req.N, stats, time.Since(start))

	if len(items) < s.cfg.MinQuestions {
		return res, fmt.Errorf("%w: got %d, need at least %d", ErrTooFewQuestions, len(items), s.cfg.MinQuestions)
	}
	res.quiz = NewQuiz(s.now(), items)
	return res, nil
}

// debugQuiz waits DebugDelay per requested question and returns the fixture.
func (s *Service) debugQuiz(ctx context.Context, n int) (*Quiz, error) {
	if d := s.cfg.DebugDelay * time.Duration(n); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &TimeoutError{Op: "generation cycle", Err: ctx.Err()}
		case <-t.C:
		}
	}
	return SampleQuiz()
}

func logCycleStats(log *slog.Logger, n int, st Stats, d time.Duration) {
	level := slog.LevelInfo
	if st.Accepted < n {
		level = slog.LevelWarn
	}
	log.Log(context.Background(), level, "generation cycle finished",
		"requested", n,
		"accepted", st.Accepted,
		"attempted", st.Attempted,
		"rejected", st.Rejected,
		"failed", st.Failed,
		"duration", d)
}
