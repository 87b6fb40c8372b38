// Package archive keeps every persisted quiz in SQLite, one row per UTC day.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"news-quiz/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned by Get for a day with no archived quiz.
var ErrNotFound = errors.New("archive: quiz not found")

// Entry summarises one archived quiz.
type Entry struct {
	Day       string    `json:"day"`
	Date      string    `json:"date"`
	Questions int       `json:"questions"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store is the SQLite-backed archive.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the archive database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS quizzes (
			day       TEXT PRIMARY KEY,
			date      TEXT NOT NULL,
			questions INTEGER NOT NULL,
			body      TEXT NOT NULL,
			saved_at  DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores q under its UTC day. A later quiz for the same day replaces
// the earlier one.
func (s *Store) Save(ctx context.Context, q *pipeline.Quiz) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encoding quiz: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quizzes (day, date, questions, body, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			date = excluded.date,
			questions = excluded.questions,
			body = excluded.body,
			saved_at = excluded.saved_at
	`, q.Day(), q.Date, len(q.Questions), string(body), s.now().UTC())
	if err != nil {
		return fmt.Errorf("saving quiz for %s: %w", q.Day(), err)
	}
	return nil
}

// Archive implements pipeline.Archiver.
func (s *Store) Archive(ctx context.Context, q *pipeline.Quiz) error {
	return s.Save(ctx, q)
}

// Get returns the quiz archived for day (YYYY-MM-DD).
func (s *Store) Get(ctx context.Context, day string) (*pipeline.Quiz, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM quizzes WHERE day = ?`, day).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading quiz for %s: %w", day, err)
	}

	var q pipeline.Quiz
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		return nil, fmt.Errorf("decoding quiz for %s: %w", day, err)
	}
	return &q, nil
}

// List returns up to limit entries, newest day first. limit <= 0 means 30.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, date, questions, saved_at FROM quizzes
		ORDER BY day DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing quizzes: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Day, &e.Date, &e.Questions, &e.SavedAt); err != nil {
			return nil, fmt.Errorf("scanning quiz row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
