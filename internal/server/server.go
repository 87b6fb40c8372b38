// Package server exposes the quiz over HTTP.
//
//	GET /api/today-quiz    persisted quiz, verbatim, or {"message":"Quiz not ready yet"}
//	GET /quiz?n=&url=&debug=  freshly generated quiz (not persisted)
//	GET /api/quizzes       archived days, newest first
//	GET /api/quiz/{date}   one archived quiz
//	GET /health
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"news-quiz/internal/archive"
	"news-quiz/internal/logger"
	"news-quiz/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Generator produces a quiz on demand.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Quiz, error)
}

// QuizReader returns the persisted quiz bytes or pipeline.ErrNotReady.
type QuizReader interface {
	Read() ([]byte, error)
}

// History is the archive read side.
type History interface {
	Get(ctx context.Context, day string) (*pipeline.Quiz, error)
	List(ctx context.Context, limit int) ([]archive.Entry, error)
}

// Options tunes request handling.
type Options struct {
	DefaultQuestions int // used when ?n= is absent or invalid
	MaxQuestions     int // upper bound for ?n=
}

// Server holds the HTTP handlers.
type Server struct {
	gen     Generator
	store   QuizReader
	history History
	opts    Options
}

// New returns a Server. history may be nil, in which case the archive routes
// answer 404.
func New(gen Generator, store QuizReader, history History, opts Options) *Server {
	if opts.DefaultQuestions <= 0 {
		opts.DefaultQuestions = 10
	}
	if opts.MaxQuestions < opts.DefaultQuestions {
		opts.MaxQuestions = max(50, opts.DefaultQuestions)
	}
	return &Server{gen: gen, store: store, history: history, opts: opts}
}

// Handler returns the routed handler wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/today-quiz", s.handleToday)
	mux.HandleFunc("GET /quiz", s.handleGenerate)
	mux.HandleFunc("GET /api/quizzes", s.handleList)
	mux.HandleFunc("GET /api/quiz/{date}", s.handleDay)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	return logRequests(cors(mux))
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Read()
	if errors.Is(err, pipeline.ErrNotReady) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz not ready yet"})
		return
	}
	if err != nil {
		logger.Error("reading persisted quiz", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load quiz")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := pipeline.Request{
		N:       s.questionCount(q.Get("n")),
		FeedURL: q.Get("url"),
		Debug:   q.Get("debug") == "true",
	}

	quiz, err := s.gen.Generate(r.Context(), req)
	if err != nil {
		logger.Error("on-demand generation failed", "n", req.N, "url", req.FeedURL, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate quiz")
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// questionCount parses ?n=, falling back to the default for anything that is
// not a positive integer and clamping to MaxQuestions.
func (s *Server) questionCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return s.opts.DefaultQuestions
	}
	return min(n, s.opts.MaxQuestions)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Archive disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		logger.Error("listing archive", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list quizzes")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Archive disabled")
		return
	}
	day := r.PathValue("date")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	quiz, err := s.history.Get(r.Context(), day)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return
	}
	if err != nil {
		logger.Error("loading archived quiz", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load quiz")
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
