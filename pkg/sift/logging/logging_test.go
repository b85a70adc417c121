package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/logging"
)

// These tests share the package's global state and must not run in parallel.

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, logging.ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetBeforeInitDiscards(t *testing.T) {
	require.NoError(t, logging.Close())
	l := logging.Get("quiet")
	assert.NotPanics(t, func() { l.Info("nobody hears this", "k", 1) })
	assert.Equal(t, "quiet", l.Component())
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sift.log")
	require.NoError(t, logging.Init(logging.Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"scanner": "debug"},
	}))
	t.Cleanup(func() { _ = logging.Close() })

	logging.Get("scanner").Debug("category scanned", "category", "junk")
	logging.Get("output").Debug("hidden")
	logging.Get("output").With("format", "json").Warn("slow render")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "category scanned")
	assert.Contains(t, content, "category=junk")
	assert.Contains(t, content, "format=json")
	assert.NotContains(t, content, "hidden")
}

func TestInitRejectsBadLevels(t *testing.T) {
	dir := t.TempDir()
	err := logging.Init(logging.Config{Level: "nope", Path: filepath.Join(dir, "a.log")})
	assert.ErrorIs(t, err, logging.ErrInvalidLevel)

	err = logging.Init(logging.Config{
		Level:      "info",
		Path:       filepath.Join(dir, "b.log"),
		Components: map[string]string{"index": "nope"},
	})
	assert.ErrorIs(t, err, logging.ErrInvalidLevel)
}

func TestGetReturnsSameLogger(t *testing.T) {
	assert.Same(t, logging.Get("walker"), logging.Get("walker"))
}

func TestDefaultLogPath(t *testing.T) {
	p := logging.DefaultLogPath()
	assert.True(t, strings.HasSuffix(p, filepath.Join("sift", "sift.log")))
	assert.Equal(t, p, logging.DefaultConfig().Path)
}

func TestRotatingWriterRotatesAndPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.log")
	w, err := logging.NewRotatingWriter(path, logging.RotationConfig{MaxSize: 10, MaxBackups: 2})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("0123456789"))
		require.NoError(t, err)
		// Distinct timestamps in backup names.
		time.Sleep(2 * time.Millisecond)
	}

	assert.Len(t, w.Backups(), 2)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestRotatingWriterClosed(t *testing.T) {
	w, err := logging.NewRotatingWriter(filepath.Join(t.TempDir(), "x.log"), logging.RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestLoggerHeldAcrossInit(t *testing.T) {
	require.NoError(t, logging.Close())
	early := logging.Get("held")

	path := filepath.Join(t.TempDir(), "sift.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path}))
	early.Info("after init")
	require.NoError(t, logging.Close())
	early.Info("after close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after init")
	assert.NotContains(t, string(data), "after close")
}
