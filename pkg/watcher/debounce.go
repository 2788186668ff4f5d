package watcher

import (
	"sync"
	"time"
)

// DefaultDebounce is the window within which duplicate events collapse.
const DefaultDebounce = time.Second

// Debouncer drops repeats of a key seen within the window. Entries older than
// the window are swept periodically.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDebouncer creates a debouncer and starts its sweeper.
func NewDebouncer(window time.Duration) *Debouncer {
	return newDebouncer(window, time.Now)
}

func newDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	d := &Debouncer{
		window: window,
		now:    now,
		seen:   make(map[string]time.Time),
		stop:   make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// Allow reports whether key may pass. The first occurrence opens a window;
// repeats inside it are rejected and do not extend it.
func (d *Debouncer) Allow(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

func (d *Debouncer) sweepLoop() {
	ticker := time.NewTicker(d.window)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Debouncer) sweep() {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, last := range d.seen {
		if now.Sub(last) >= d.window {
			delete(d.seen, key)
		}
	}
}

// Size returns the number of tracked keys.
func (d *Debouncer) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Stop ends the sweeper.
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}
