package logger

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// rotationStamp sorts lexically and is unique per rotation.
const rotationStamp = "20060102-150405.000000000"

// RotatingWriter appends log lines to a file and moves it aside once it
// outgrows its size limit. Each Write lands whole in exactly one file, so
// concurrent loggers never interleave or split a line across a rotation.
type RotatingWriter struct {
	mu       sync.Mutex
	filename string
	maxBytes int64
	maxAge   time.Duration
	compress bool

	file   *os.File
	size   int64
	last   time.Time
	closed bool

	// background compression and cleanup, drained by Close
	pending sync.WaitGroup
}

// NewRotatingWriter opens filename for appending. Files rotate past
// maxSizeMB megabytes; rotated files older than maxAgeDays are removed
// (0 keeps them forever).
func NewRotatingWriter(filename string, maxSizeMB int, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	return newRotatingWriter(filename, int64(maxSizeMB)*1024*1024, time.Duration(maxAgeDays)*24*time.Hour, compress)
}

func newRotatingWriter(filename string, maxBytes int64, maxAge time.Duration, compress bool) (*RotatingWriter, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("log rotation size must be positive, got %d bytes", maxBytes)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		compress: compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		w.removeExpired()
	}()
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past its limit.
// A line larger than the limit still goes to a fresh file whole.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compression and
// cleanup to finish. It is safe to call more than once.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.file.Close()
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotated := w.filename + "." + w.stamp().Format(rotationStamp)
	if err := os.Rename(w.filename, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if w.compress {
			// The uncompressed file stays if gzip fails; nothing is lost.
			_ = compressFile(rotated)
		}
		w.removeExpired()
	}()
	return nil
}

// stamp is strictly increasing so two rotations never share a name.
func (w *RotatingWriter) stamp() time.Time {
	now := time.Now()
	if !now.After(w.last) {
		now = w.last.Add(time.Nanosecond)
	}
	w.last = now
	return now
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := filename + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	_, copyErr := io.Copy(gz, src)
	closeErr := errors.Join(gz.Close(), dst.Close())
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, filename+".gz"); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(filename)
}

// removeExpired deletes rotated siblings of the log file whose
// modification time is older than maxAge. The live file is never touched.
func (w *RotatingWriter) removeExpired() {
	if w.maxAge <= 0 {
		return
	}

	base := filepath.Base(w.filename)
	entries, err := os.ReadDir(filepath.Dir(w.filename))
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-w.maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == base || !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(filepath.Join(filepath.Dir(w.filename), name))
	}
}
