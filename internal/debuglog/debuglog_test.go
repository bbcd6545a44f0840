package debuglog

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilenameShape(t *testing.T) {
	ts := time.Date(2025, 11, 30, 14, 5, 9, 0, time.UTC)
	require.Equal(t, "antigravity-debug-20251130-140509.log", Filename(ts))
}

func TestSinkTeesRecordsToFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir)
	require.NoError(t, err)
	defer sink.Close()

	logger := slog.New(sink.Handler(slog.LevelInfo))
	logger.Debug("debug line lands in the file", "k", "v")
	logger.Info("info line")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "antigravity-debug-"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "debug line lands in the file", "file handler records debug level")
	require.Contains(t, content, "info line")
}

func TestNilSinkFallsBackToStderrOnly(t *testing.T) {
	var sink *Sink
	h := sink.Handler(slog.LevelInfo)
	require.NotNil(t, h)
	require.NoError(t, sink.Close())
}
