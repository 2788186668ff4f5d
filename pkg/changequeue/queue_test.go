package changequeue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	q := New(Config{
		Backend: backend,
		Logger:  zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	t.Cleanup(func() { q.Close() })
	return q, backend
}

func TestQueue_Enqueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Event{Type: EventCreated, Path: "/docs/a.md"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Failed: 0}, stats)

	job, err := q.pop(ctx, SyncQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, Event{Type: EventCreated, Path: "/docs/a.md"}, job.Event)
}

func TestQueue_EnqueueInvalid(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Event{Type: "moved", Path: "a.md"})
	assert.True(t, errors.Is(err, ErrInvalidJob))

	_, err = q.Enqueue(ctx, Event{Type: EventCreated})
	assert.True(t, errors.Is(err, ErrInvalidJob))
}

func TestQueue_PopDropsGarbage(t *testing.T) {
	q, backend := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, backend.Push(ctx, SyncQueue, []byte("garbage")))

	job, err := q.pop(ctx, SyncQueue, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	n, _ := backend.Len(ctx, SyncQueue)
	assert.Equal(t, 0, n)
}

func TestQueue_RetryDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, p := range []string{"a.md", "b.md"} {
		job, err := NewJob(Event{Type: EventModified, Path: p}, time.Now())
		require.NoError(t, err)
		job.RetryCount = 6
		job.LastError = "boom"
		require.NoError(t, q.push(ctx, DeadLetterQueue, job))
	}

	moved, err := q.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 2, Failed: 0}, stats)

	job, err := q.pop(ctx, SyncQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a.md", job.Event.Path)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.LastError)
}

func TestQueue_RetryDeadLettersDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	backend, err := NewSQLiteBackend(context.Background(), SQLiteConfig{
		Path:   path,
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	q := New(Config{Backend: backend, Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled)})
	defer q.Close()

	ctx := context.Background()
	_, err = q.Enqueue(ctx, Event{Type: EventCreated, Path: "pending.md"})
	require.NoError(t, err)

	job, err := NewJob(Event{Type: EventDeleted, Path: "gone.md"}, time.Now())
	require.NoError(t, err)
	job.RetryCount = 6
	job.LastError = "vector store down"
	require.NoError(t, q.push(ctx, DeadLetterQueue, job))
	require.NoError(t, backend.Push(ctx, DeadLetterQueue, []byte("not json")))

	moved, err := q.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 3, Failed: 0}, stats)

	first, err := q.pop(ctx, SyncQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pending.md", first.Event.Path, "requeued jobs go behind pending ones")

	retried, err := q.pop(ctx, SyncQueue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, retried.ID)
	assert.Equal(t, 0, retried.RetryCount)
	assert.Empty(t, retried.LastError)

	dropped, err := q.pop(ctx, SyncQueue, time.Second)
	require.NoError(t, err)
	assert.Nil(t, dropped, "undecodable payload is dropped on pop")
}

// fakeHandler records dispatched paths and fails while failures > 0.
type fakeHandler struct {
	mu       sync.Mutex
	synced   []string
	removed  []string
	failures int
	err      error
}

func (h *fakeHandler) SyncSingleFile(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synced = append(h.synced, path)
	return h.next()
}

func (h *fakeHandler) RemoveFile(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, path)
	return h.next()
}

func (h *fakeHandler) next() error {
	if h.failures < 0 {
		return h.err
	}
	if h.failures > 0 {
		h.failures--
		return h.err
	}
	return nil
}

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.synced) + len(h.removed)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func startWorker(t *testing.T, q *Queue, h Handler) (*Worker, *sleepRecorder, func()) {
	return startWorkerWithRetries(t, q, h, 5)
}

func startWorkerWithRetries(t *testing.T, q *Queue, h Handler, maxRetries int) (*Worker, *sleepRecorder, func()) {
	t.Helper()
	w := NewWorker(q, h, WorkerConfig{
		MaxRetries: maxRetries,
		PopTimeout: 10 * time.Millisecond,
		Logger:     zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	rec := &sleepRecorder{}
	w.sleep = rec.sleep

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
	return w, rec, stop
}

func TestWorker_Dispatch(t *testing.T) {
	q, _ := newTestQueue(t)
	h := &fakeHandler{}
	_, _, stop := startWorker(t, q, h)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, Event{Type: EventCreated, Path: "a.md"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Event{Type: EventModified, Path: "b.md"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Event{Type: EventDeleted, Path: "c.md"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.calls() == 3 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{"a.md", "b.md"}, h.synced)
	assert.Equal(t, []string{"c.md"}, h.removed)
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	q, _ := newTestQueue(t)
	h := &fakeHandler{failures: 2, err: errors.New("flaky")}
	_, rec, stop := startWorker(t, q, h)

	_, err := q.Enqueue(context.Background(), Event{Type: EventCreated, Path: "a.md"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.calls() == 3 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.recorded())

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Failed)
}

func TestWorker_DeadLetterAfterMaxRetries(t *testing.T) {
	q, _ := newTestQueue(t)
	h := &fakeHandler{failures: -1, err: errors.New("permanent")}
	_, rec, stop := startWorker(t, q, h)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, Event{Type: EventModified, Path: "a.md"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Give the worker a chance to misbehave before stopping it.
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, 6, h.calls(), "initial attempt plus five retries")

	delays := rec.recorded()
	require.Len(t, delays, 5)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
	assert.Equal(t, 32*time.Second, delays[4])

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 0, Failed: 1}, stats)

	dead, err := q.pop(ctx, DeadLetterQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, dead)
	assert.Equal(t, 6, dead.RetryCount)
	assert.Contains(t, dead.LastError, "permanent")
}

func TestWorker_ZeroMaxRetriesDeadLettersOnFirstFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	h := &fakeHandler{failures: -1, err: errors.New("permanent")}
	w, rec, stop := startWorkerWithRetries(t, q, h, 0)
	assert.Equal(t, 0, w.cfg.MaxRetries)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, Event{Type: EventModified, Path: "a.md"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, 1, h.calls(), "no retries")
	assert.Empty(t, rec.recorded())
}

func TestWorkerConfig_NegativeMaxRetriesClampsToZero(t *testing.T) {
	w := NewWorker(nil, nil, WorkerConfig{MaxRetries: -3})
	assert.Equal(t, 0, w.cfg.MaxRetries)
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(nil, nil, WorkerConfig{BackoffBase: 3, BackoffUnit: time.Millisecond})
	assert.Equal(t, 3*time.Millisecond, w.Backoff(1))
	assert.Equal(t, 27*time.Millisecond, w.Backoff(3))
}
