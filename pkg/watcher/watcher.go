// Package watcher turns filesystem notifications under the documents root
// into change-queue events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/harun/specmgr/pkg/manifest"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/rs/zerolog"
)

// Enqueuer accepts change events.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev changequeue.Event) (string, error)
}

// Tracked lists indexed document keys under a directory.
type Tracked interface {
	KeysUnder(dir string) ([]string, error)
}

// Config holds watcher configuration
type Config struct {
	Root     string
	Filter   syncengine.Filter
	Debounce time.Duration
	Enqueuer Enqueuer
	// Tracked expands a removed or moved-out directory into per-document
	// deletes. Without it such directories are left to the next bulk pass.
	Tracked Tracked
	Logger  zerolog.Logger
}

// Watcher monitors the documents root recursively.
type Watcher struct {
	fsw       *fsnotify.Watcher
	root      string
	filter    syncengine.Filter
	debouncer *Debouncer
	enqueuer  Enqueuer
	tracked   Tracked
	logger    zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher. Call Start to begin receiving events.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watch root is required")
	}
	if cfg.Enqueuer == nil {
		return nil, errors.New("enqueuer is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	filter := cfg.Filter
	if filter.IsZero() {
		filter = syncengine.NewFilter(nil, nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		fsw:       fsw,
		root:      root,
		filter:    filter,
		debouncer: NewDebouncer(cfg.Debounce),
		enqueuer:  cfg.Enqueuer,
		tracked:   cfg.Tracked,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}, nil
}

// Start watches the root, creating it if needed, and processes events until
// ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return fmt.Errorf("failed to create watch root: %w", err)
	}
	if err := w.addDirectoryRecursive(w.root); err != nil {
		return fmt.Errorf("failed to watch root: %w", err)
	}

	w.wg.Add(1)
	go w.eventLoop(ctx)

	w.logger.Info().
		Str("path", w.root).
		Msg("Document watcher started")

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		err = w.fsw.Close()
		w.wg.Wait()
		w.logger.Info().Msg("Document watcher stopped")
	})
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, ok := w.relative(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.filter.Excluded(rel) {
				return
			}
			// New or moved-in directory: watch it and pick up its documents.
			if err := w.addDirectoryRecursive(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
			w.emitExisting(ctx, event.Name)
			return
		}
	}

	eventType, ok := classify(event.Op)
	if !ok {
		return
	}

	if !w.filter.Match(rel) {
		// A directory leaving the tree reports only its own name.
		if eventType == changequeue.EventDeleted && w.emitRemovedDirectory(ctx, event.Name, rel) {
			return
		}
		observability.RecordWatcherEvent(string(eventType), "ignored")
		return
	}

	w.emit(ctx, eventType, event.Name)
}

// emitRemovedDirectory enqueues deletes for every tracked document under
// rel and drops stale watches. It reports whether rel held any documents.
func (w *Watcher) emitRemovedDirectory(ctx context.Context, path, rel string) bool {
	w.unwatchUnder(path)

	if w.tracked == nil || w.filter.Excluded(rel) {
		return false
	}
	keys, err := w.tracked.KeysUnder(rel)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", rel).Msg("Failed to list tracked documents")
		return false
	}

	emitted := false
	for _, key := range keys {
		if !w.filter.Match(key) {
			continue
		}
		w.emit(ctx, changequeue.EventDeleted, filepath.Join(w.root, filepath.FromSlash(key)))
		emitted = true
	}
	if emitted {
		w.logger.Debug().Str("path", rel).Int("documents", len(keys)).Msg("Directory removed")
	}
	return emitted
}

// unwatchUnder removes watches left on a directory that moved away. The
// kernel keeps them alive across a rename, with paths that no longer exist.
func (w *Watcher) unwatchUnder(path string) {
	prefix := path + string(filepath.Separator)
	for _, watched := range w.fsw.WatchList() {
		if watched == path || strings.HasPrefix(watched, prefix) {
			_ = w.fsw.Remove(watched)
		}
	}
}

// classify maps fsnotify operations onto change events. A rename reports the
// old name; the new name arrives separately as a create.
func classify(op fsnotify.Op) (changequeue.EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return changequeue.EventCreated, true
	case op.Has(fsnotify.Write):
		return changequeue.EventModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return changequeue.EventDeleted, true
	default:
		return "", false
	}
}

func (w *Watcher) emit(ctx context.Context, eventType changequeue.EventType, path string) {
	key := string(eventType) + ":" + path
	if !w.debouncer.Allow(key) {
		observability.RecordWatcherEvent(string(eventType), "debounced")
		return
	}

	id, err := w.enqueuer.Enqueue(ctx, changequeue.Event{Type: eventType, Path: path})
	if err != nil {
		w.logger.Error().
			Err(err).
			Str("event", string(eventType)).
			Str("path", path).
			Msg("Failed to enqueue change")
		return
	}

	observability.RecordWatcherEvent(string(eventType), "enqueued")
	w.logger.Debug().
		Str("job_id", id).
		Str("event", string(eventType)).
		Str("path", path).
		Msg("Change enqueued")
}

// emitExisting enqueues created events for documents already inside dir.
func (w *Watcher) emitExisting(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.relative(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if p != dir && w.filter.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.filter.Match(rel) {
			w.emit(ctx, changequeue.EventCreated, p)
		}
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return "", false
	}
	rel = manifest.NormalizePath(rel)
	if rel == ".." || len(rel) > 2 && rel[:3] == "../" {
		return "", false
	}
	return rel, true
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher
func (w *Watcher) addDirectoryRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if walkPath == path {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		if walkPath != w.root {
			if rel, ok := w.relative(walkPath); ok && w.filter.Excluded(rel) {
				return filepath.SkipDir
			}
		}

		if err := w.fsw.Add(walkPath); err != nil {
			w.logger.Warn().
				Err(err).
				Str("path", walkPath).
				Msg("Failed to watch path")
		}
		return nil
	})
}
