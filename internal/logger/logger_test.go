package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestFromContext(t *testing.T) {
	assert.Same(t, Log, FromContext(context.Background()))

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil)).With("cycle", "abc")
	FromContext(NewContext(context.Background(), l)).Info("hello")
	assert.Contains(t, buf.String(), "cycle=abc")
}

func TestInitWritesLogFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() {
		Log = prev
		slog.SetDefault(prev)
	})

	path := filepath.Join(t.TempDir(), "quiz.log")
	require.NoError(t, Init("warn", path))
	Info("dropped")
	Warn("kept", "n", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "msg=kept n=3")
}
