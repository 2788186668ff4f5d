package changequeue

import (
	"context"
	"sync"
	"time"
)

// Backend is a durable FIFO keyed by queue name. Payloads are opaque bytes.
type Backend interface {
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop waits up to timeout for an item. It returns (nil, nil) on timeout.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context, queue string) (int, error)
	// Move appends every item of from to the tail of to, passing each payload
	// through rewrite when it is non-nil. Either all items move or none do.
	Move(ctx context.Context, from, to string, rewrite func([]byte) []byte) (int, error)
	Close() error
}

// MemoryBackend is an in-process Backend. Contents are lost on exit.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string][][]byte
	notify chan struct{}
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		queues: make(map[string][][]byte),
		notify: make(chan struct{}),
	}
}

func (b *MemoryBackend) Push(ctx context.Context, queue string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	item := make([]byte, len(payload))
	copy(item, payload)
	b.queues[queue] = append(b.queues[queue], item)

	// Wake every waiting Pop
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

func (b *MemoryBackend) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if items := b.queues[queue]; len(items) > 0 {
			item := items[0]
			b.queues[queue] = items[1:]
			b.mu.Unlock()
			return item, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *MemoryBackend) Len(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue]), nil
}

func (b *MemoryBackend) Move(ctx context.Context, from, to string, rewrite func([]byte) []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrQueueClosed
	}
	items := b.queues[from]
	if len(items) == 0 {
		return 0, nil
	}

	for _, item := range items {
		if rewrite != nil {
			item = rewrite(item)
		}
		b.queues[to] = append(b.queues[to], item)
	}
	delete(b.queues, from)

	close(b.notify)
	b.notify = make(chan struct{})
	return len(items), nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
	return nil
}
