package logger

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileLoggingConfig mirrors the logging section a daemon runs with, shrunk
// to a one megabyte rotation limit.
func fileLoggingConfig(dir string, compress bool) Config {
	return Config{
		Level:     "info",
		File:      filepath.Join(dir, "logs", "specmgr.log"),
		Console:   false,
		Redaction: true,
		MaxSize:   1,
		MaxAge:    7,
		Compress:  compress,
	}
}

// readLogLines returns every line of the live log and its rotations,
// decompressing .gz files.
func readLogLines(t *testing.T, logFile string) []string {
	t.Helper()

	matches, err := filepath.Glob(logFile + "*")
	require.NoError(t, err)

	var lines []string
	for _, path := range matches {
		f, err := os.Open(path)
		require.NoError(t, err)

		var r io.Reader = f
		if strings.HasSuffix(path, ".gz") {
			gz, err := gzip.NewReader(f)
			require.NoError(t, err)
			r = gz
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		require.NoError(t, scanner.Err())
		f.Close()
	}
	return lines
}

func rotatedFiles(t *testing.T, logFile string) []string {
	t.Helper()
	matches, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	return matches
}

func TestFileLogging_RotatesPastMaxSize(t *testing.T) {
	cfg := fileLoggingConfig(t.TempDir(), false)
	log, err := New(cfg)
	require.NoError(t, err)

	payload := strings.Repeat("x", 1024)
	const total = 1500
	for i := 0; i < total; i++ {
		log.Info().Int("seq", i).Str("body", payload).Msg("file indexed")
	}
	require.NoError(t, log.Close())

	assert.NotEmpty(t, rotatedFiles(t, cfg.File))

	info, err := os.Stat(cfg.File)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1024*1024))

	assert.Len(t, readLogLines(t, cfg.File), total)
}

func TestFileLogging_ConcurrentWritersKeepLinesWhole(t *testing.T) {
	cfg := fileLoggingConfig(t.TempDir(), false)
	log, err := New(cfg)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 300
	payload := strings.Repeat("y", 900)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			component := log.Component(fmt.Sprintf("worker-%d", w))
			for i := 0; i < perWriter; i++ {
				component.Info().Int("worker", w).Int("seq", i).Str("body", payload).Msg("sync job done")
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, log.Close())

	assert.NotEmpty(t, rotatedFiles(t, cfg.File), "enough output to force rotation")

	seen := make(map[string]bool)
	for _, line := range readLogLines(t, cfg.File) {
		var entry struct {
			Worker int    `json:"worker"`
			Seq    int    `json:"seq"`
			Body   string `json:"body"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "torn line: %.80s", line)
		assert.Equal(t, payload, entry.Body)

		key := fmt.Sprintf("%d/%d", entry.Worker, entry.Seq)
		assert.False(t, seen[key], "duplicate line %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, writers*perWriter)
}

func TestFileLogging_CompressesRotations(t *testing.T) {
	cfg := fileLoggingConfig(t.TempDir(), true)
	log, err := New(cfg)
	require.NoError(t, err)

	payload := strings.Repeat("z", 1024)
	const total = 1500
	for i := 0; i < total; i++ {
		log.Info().Int("seq", i).Str("body", payload).Msg("embedding stored")
	}
	// Close waits for background compression.
	require.NoError(t, log.Close())

	rotated := rotatedFiles(t, cfg.File)
	require.NotEmpty(t, rotated)
	for _, path := range rotated {
		assert.True(t, strings.HasSuffix(path, ".gz"), "uncompressed rotation left behind: %s", path)
	}

	assert.Len(t, readLogLines(t, cfg.File), total)
}

func TestFileLogging_RedactsBeforeDisk(t *testing.T) {
	cfg := fileLoggingConfig(t.TempDir(), false)
	log, err := New(cfg)
	require.NoError(t, err)

	log.Info().Str("provider", "openai").Msg("using key sk-live1234567890abcdefghijklmnop")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, string(data), "sk-live1234567890")
}

func TestFileLogging_RemovesExpiredRotations(t *testing.T) {
	cfg := fileLoggingConfig(t.TempDir(), false)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.File), 0755))

	expired := cfg.File + ".20240101-000000.000000000.gz"
	recent := cfg.File + ".20240102-000000.000000000.gz"
	unrelated := filepath.Join(filepath.Dir(cfg.File), "other.log.20240101-000000")
	for _, path := range []string{expired, recent, unrelated} {
		require.NoError(t, os.WriteFile(path, []byte("old"), 0644))
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(expired, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	log, err := New(cfg)
	require.NoError(t, err)
	// Close waits for the startup sweep.
	require.NoError(t, log.Close())

	assert.NoFileExists(t, expired)
	assert.FileExists(t, recent)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, cfg.File)
}

func TestRotatingWriter_RotationNamesNeverCollide(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "specmgr.log")
	w, err := newRotatingWriter(logFile, 16, 0, false)
	require.NoError(t, err)

	// Each write overflows the limit, so every one after the first rotates
	// within the same second.
	for i := 0; i < 20; i++ {
		_, err := fmt.Fprintf(w, "line %02d overflowing\n", i)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assert.Len(t, rotatedFiles(t, logFile), 19)
	assert.Len(t, readLogLines(t, logFile), 20)
}

func TestRotatingWriter_Close(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "specmgr.log")
	w, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("before close\n"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "second close is a no-op")

	_, err = w.Write([]byte("after close\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriter_AppendsToExistingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "specmgr.log")
	require.NoError(t, os.WriteFile(logFile, []byte("previous run\n"), 0644))

	w, err := newRotatingWriter(logFile, 20, 0, false)
	require.NoError(t, err)

	// The existing 13 bytes count toward the limit.
	_, err = w.Write([]byte("this run\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated := rotatedFiles(t, logFile)
	require.Len(t, rotated, 1)
	data, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(data))

	data, err = os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "this run\n", string(data))
}

func TestNewRotatingWriter_RejectsZeroSize(t *testing.T) {
	_, err := NewRotatingWriter(filepath.Join(t.TempDir(), "specmgr.log"), 0, 7, false)
	assert.Error(t, err)
}
