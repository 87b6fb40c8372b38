package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func(ctx context.Context, url string) ([]Article, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) ([]Article, error) { return f(ctx, url) }

type recordingArchiver struct {
	mu      sync.Mutex
	quizzes []*Quiz
	err     error
}

func (r *recordingArchiver) Archive(_ context.Context, q *Quiz) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes = append(r.quizzes, q)
	return r.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []CycleReport
}

func (r *recordingNotifier) Notify(_ context.Context, rep CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

var fixedNow = time.Date(2025, 3, 10, 6, 0, 3, 0, time.UTC)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.FeedURL = "https://example.com/rss"
	cfg.Questions = 3
	cfg.DebugDelay = time.Millisecond
	cfg.CycleTimeout = 5 * time.Second
	return cfg
}

func staticFetcher(n int) fetcherFunc {
	return func(context.Context, string) ([]Article, error) { return articles(n), nil }
}

func TestGenerateLive(t *testing.T) {
	cfg := testConfig()
	var gotURL string
	svc := NewService(cfg, ServiceDeps{
		Fetcher: fetcherFunc(func(_ context.Context, url string) ([]Article, error) {
			gotURL = url
			return articles(6), nil
		}),
		Synthesizer: okSynth(),
		Now:         func() time.Time { return fixedNow },
	})

	q, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/rss", gotURL)
	assert.Equal(t, "2025-03-10T06:00:03Z", q.Date)
	assert.Len(t, q.Questions, 3)
	for _, it := range q.Questions {
		assert.Contains(t, Letters, it.Answer)
		assert.NotEmpty(t, it.Source)
	}
}

func TestGenerateHonoursRequestOverrides(t *testing.T) {
	var gotURL string
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(_ context.Context, url string) ([]Article, error) {
			gotURL = url
			return articles(10), nil
		}),
		Synthesizer: okSynth(),
	})
	q, err := svc.Generate(context.Background(), Request{N: 5, FeedURL: "https://other.example/feed"})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/feed", gotURL)
	assert.Len(t, q.Questions, 5)
}

func TestGenerateRejectsBadFeedURL(t *testing.T) {
	svc := NewService(testConfig(), ServiceDeps{Fetcher: staticFetcher(3), Synthesizer: okSynth()})
	_, err := svc.Generate(context.Background(), Request{FeedURL: "file:///etc/passwd"})
	assert.Error(t, err)
}

func TestGenerateDoesNotPersist(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "today.json"))
	svc := NewService(testConfig(), ServiceDeps{Fetcher: staticFetcher(6), Synthesizer: okSynth(), Store: store})

	_, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	_, err = store.Read()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDebugModeReturnsFixture(t *testing.T) {
	want, err := SampleQuiz()
	require.NoError(t, err)
	require.Len(t, want.Questions, 5)

	// No fetcher or synthesizer: debug mode must not touch either.
	svc := NewService(testConfig(), ServiceDeps{})
	for _, n := range []int{5, 1, 9} {
		q, err := svc.Generate(context.Background(), Request{N: n, Debug: true})
		require.NoError(t, err)
		assert.Equal(t, want, q, "fixture is returned unchanged for n=%d", n)
	}
}

func TestDebugDelayScalesWithN(t *testing.T) {
	cfg := testConfig()
	cfg.DebugDelay = 10 * time.Millisecond
	svc := NewService(cfg, ServiceDeps{})

	start := time.Now()
	_, err := svc.Generate(context.Background(), Request{N: 5, Debug: true})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLiveGenerationWithoutCollaboratorsFails(t *testing.T) {
	svc := NewService(testConfig(), ServiceDeps{})
	_, err := svc.Generate(context.Background(), Request{})
	assert.Error(t, err)
}

func TestMinQuestionsThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinQuestions = 2
	synth := synthFunc(func(_ context.Context, a Article) (Candidate, error) {
		if a.Title == "Article 1" {
			return candidateFor(a), nil
		}
		return Candidate{}, &MalformedReplyError{Reason: "bad"}
	})
	svc := NewService(cfg, ServiceDeps{Fetcher: staticFetcher(6), Synthesizer: synth})

	_, err := svc.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTooFewQuestions)
}

func TestZeroQuestionsIsSoftByDefault(t *testing.T) {
	synth := synthFunc(func(context.Context, Article) (Candidate, error) {
		return Candidate{}, &GenerationError{Err: errors.New("down")}
	})
	svc := NewService(testConfig(), ServiceDeps{Fetcher: staticFetcher(6), Synthesizer: synth})

	q, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.NotNil(t, q.Questions)
	assert.Empty(t, q.Questions)
}

func TestFetchErrorFailsCycle(t *testing.T) {
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(_ context.Context, url string) ([]Article, error) {
			return nil, &FetchError{URL: url, StatusCode: 502}
		}),
		Synthesizer: okSynth(),
	})
	_, err := svc.Generate(context.Background(), Request{})
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestCycleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CycleTimeout = 30 * time.Millisecond
	store := NewFileStore(filepath.Join(t.TempDir(), "today.json"))
	notifier := &recordingNotifier{}

	synth := synthFunc(func(ctx context.Context, a Article) (Candidate, error) {
		<-ctx.Done()
		return Candidate{}, &GenerationError{Article: a.Title, Err: ctx.Err()}
	})
	svc := NewService(cfg, ServiceDeps{Fetcher: staticFetcher(3), Synthesizer: synth, Store: store, Notifier: notifier})

	_, err := svc.Refresh(context.Background())
	var te *TimeoutError
	require.ErrorAs(t, err, &te)

	_, err = store.Read()
	assert.ErrorIs(t, err, ErrNotReady, "nothing persisted after a timed-out cycle")
	require.Len(t, notifier.reports, 1)
	assert.Error(t, notifier.reports[0].Err)
}

func TestCanceledCallerAbandonsCycle(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	firstErr := make(chan error, 1)
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(ctx context.Context, _ string) ([]Article, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				firstErr <- ctx.Err()
				return nil, ctx.Err()
			}
			return articles(3), nil
		}),
		Synthesizer: okSynth(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, Request{})
		done <- err
	}()
	<-entered
	cancel()
	assert.Error(t, <-done)

	close(release)
	assert.ErrorIs(t, <-firstErr, context.Canceled, "cycle is canceled once its only caller leaves")

	// the next caller starts a fresh cycle instead of joining the abandoned one
	q, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Len(t, q.Questions, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func (s *Service) waitersFor(key string) int {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()
	if f := s.flights[key]; f != nil {
		return f.waiters
	}
	return 0
}

func TestCycleSurvivesWhileACallerWaits(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(ctx context.Context, _ string) ([]Article, error) {
			if calls.Add(1) == 1 {
				close(entered)
			}
			<-release
			return articles(3), ctx.Err()
		}),
		Synthesizer: okSynth(),
	})

	leaverCtx, cancel := context.WithCancel(context.Background())
	left := make(chan error, 1)
	go func() {
		_, err := svc.Generate(leaverCtx, Request{})
		left <- err
	}()
	<-entered

	stayed := make(chan error, 1)
	go func() {
		q, err := svc.Generate(context.Background(), Request{})
		if err == nil {
			assert.Len(t, q.Questions, 3)
		}
		stayed <- err
	}()
	key := "generate|3|false|https://example.com/rss"
	require.Eventually(t, func() bool { return svc.waitersFor(key) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.Error(t, <-left)
	close(release)
	require.NoError(t, <-stayed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAbandonedGenerateDoesNotFetch(t *testing.T) {
	var fetches atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(context.Context, string) ([]Article, error) {
			if fetches.Add(1) == 1 {
				close(entered)
				<-release
			}
			return articles(6), nil
		}),
		Synthesizer: okSynth(),
	})

	holder := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), Request{N: 1})
		holder <- err
	}()
	<-entered

	// each distinct n queues its own cycle behind the one in progress
	for n := 2; n <= 5; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := svc.Generate(ctx, Request{N: n})
		cancel()
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
	}

	close(release)
	require.NoError(t, <-holder)

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load(), "only the live caller and the refresh fetch")
}

func TestConcurrentGeneratesJoinOneCycle(t *testing.T) {
	var fetches atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(context.Context, string) ([]Article, error) {
			if fetches.Add(1) == 1 {
				close(entered)
			}
			<-release
			return articles(6), nil
		}),
		Synthesizer: okSynth(),
	})

	const callers = 4
	results := make(chan *Quiz, callers)
	var wg sync.WaitGroup
	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := svc.Generate(context.Background(), Request{})
			assert.NoError(t, err)
			results <- q
		}()
	}

	start()
	<-entered
	for i := 1; i < callers; i++ {
		start()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), fetches.Load())
	var first *Quiz
	for q := range results {
		if first == nil {
			first = q
		}
		assert.Same(t, first, q, "joined callers share the in-flight result")
	}
}

func TestCyclesAreSerialized(t *testing.T) {
	var inFlight, peak atomic.Int32
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher: fetcherFunc(func(context.Context, string) ([]Article, error) {
			cur := inFlight.Add(1)
			if cur > peak.Load() {
				peak.Store(cur)
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return articles(3), nil
		}),
		Synthesizer: okSynth(),
	})

	var wg sync.WaitGroup
	for n := 1; n <= 3; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), Request{N: n})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestRefreshPersistsArchivesAndNotifiesShortQuiz(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data", "today.json"))
	arch := &recordingArchiver{err: errors.New("archive offline")}
	notifier := &recordingNotifier{}

	synth := synthFunc(func(_ context.Context, a Article) (Candidate, error) {
		if a.Title == "Article 3" {
			return Candidate{}, &GenerationError{Article: a.Title, Err: errors.New("api down")}
		}
		return candidateFor(a), nil
	})
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher:     staticFetcher(3),
		Synthesizer: synth,
		Store:       store,
		Archivers:   []Archiver{arch},
		Notifier:    notifier,
		Now:         func() time.Time { return fixedNow },
	})

	q, err := svc.Refresh(context.Background())
	require.NoError(t, err, "archive failures are logged, not fatal")
	assert.Len(t, q.Questions, 2)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, q, loaded)

	require.Len(t, arch.quizzes, 1)
	assert.Same(t, q, arch.quizzes[0])

	require.Len(t, notifier.reports, 1)
	rep := notifier.reports[0]
	assert.NoError(t, rep.Err)
	assert.Equal(t, 3, rep.Requested)
	assert.Equal(t, 2, rep.Generated)
	assert.Equal(t, 1, rep.Stats.Failed)
	assert.NotEmpty(t, rep.CycleID)
}

func TestRefreshFullQuizDoesNotNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(testConfig(), ServiceDeps{
		Fetcher:     staticFetcher(6),
		Synthesizer: okSynth(),
		Store:       NewFileStore(filepath.Join(t.TempDir(), "today.json")),
		Notifier:    notifier,
	})
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.reports)
}

func TestRefreshInDebugModePersistsFixture(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = true
	cfg.Questions = 10
	store := NewFileStore(filepath.Join(t.TempDir(), "today.json"))
	notifier := &recordingNotifier{}
	svc := NewService(cfg, ServiceDeps{Store: store, Notifier: notifier})

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	want, _ := SampleQuiz()
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, notifier.reports, "a fixture shorter than N is not a short quiz")
}

func TestRefreshNotifiesWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	notifier := &recordingNotifier{}
	arch := &recordingArchiver{}

	svc := NewService(testConfig(), ServiceDeps{
		Fetcher:     staticFetcher(6),
		Synthesizer: okSynth(),
		Store:       NewFileStore(filepath.Join(blocker, "today.json")),
		Archivers:   []Archiver{arch},
		Notifier:    notifier,
	})

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist quiz")

	require.Len(t, notifier.reports, 1)
	rep := notifier.reports[0]
	assert.ErrorContains(t, rep.Err, "persist quiz")
	assert.Equal(t, 3, rep.Generated)
	assert.NotEmpty(t, rep.CycleID)
	assert.Empty(t, arch.quizzes, "nothing is archived when the file write fails")
}
