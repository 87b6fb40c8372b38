package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-quiz/internal/pipeline"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "quiz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quizAt(day int, questions ...string) *pipeline.Quiz {
	items := make([]pipeline.QuizItem, 0, len(questions))
	for _, q := range questions {
		items = append(items, pipeline.QuizItem{
			Question: q,
			OptionA:  "a", OptionB: "b", OptionC: "c", OptionD: "d",
			Answer: "A",
			Source: "https://example.com/" + q,
		})
	}
	return pipeline.NewQuiz(time.Date(2025, 3, day, 6, 0, 0, 0, time.UTC), items)
}

func TestSaveAndGet(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	q := quizAt(10, "q1", "q2")
	require.NoError(t, s.Save(ctx, q))

	got, err := s.Get(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestGetMissing(t *testing.T) {
	s := testDB(t)
	_, err := s.Get(context.Background(), "1999-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesSameDay(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, quizAt(10, "old")))
	require.NoError(t, s.Archive(ctx, quizAt(10, "new1", "new2")))

	got, err := s.Get(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, got.Questions, 2)
	assert.Equal(t, "new1", got.Questions[0].Question)

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListNewestFirst(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	for _, day := range []int{8, 10, 9} {
		require.NoError(t, s.Save(ctx, quizAt(day, "q")))
	}

	entries, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-03-10", entries[0].Day)
	assert.Equal(t, "2025-03-09", entries[1].Day)
	assert.Equal(t, 1, entries[0].Questions)
}

func TestListEmpty(t *testing.T) {
	s := testDB(t)
	entries, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
