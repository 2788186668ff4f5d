// Package daemon composes the sync engine, change queue, watcher, scheduler
// and API server into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/specmgr/internal/config"
	"github.com/harun/specmgr/internal/logger"
	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/internal/tracing"
	"github.com/harun/specmgr/pkg/api"
	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/harun/specmgr/pkg/embedding"
	"github.com/harun/specmgr/pkg/manifest"
	"github.com/harun/specmgr/pkg/scheduler"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/harun/specmgr/pkg/vectorstore"
	"github.com/harun/specmgr/pkg/watcher"
	"golang.org/x/sync/errgroup"
)

// Option overrides a component the daemon would otherwise build from config.
type Option func(*Daemon)

// WithVectorStore uses store instead of the SQLite vector store.
func WithVectorStore(store vectorstore.Store) Option {
	return func(d *Daemon) { d.store = store }
}

// WithEmbedder uses p instead of the configured provider.
func WithEmbedder(p embedding.Provider) Option {
	return func(d *Daemon) { d.embedder = p }
}

// WithQueueBackend uses b instead of the configured queue backend.
func WithQueueBackend(b changequeue.Backend) Option {
	return func(d *Daemon) { d.backend = b }
}

// Daemon represents the specmgr service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	manifest *manifest.Store
	store    vectorstore.Store
	embedder embedding.Provider
	engine   *syncengine.Engine
	backend  changequeue.Backend
	queue    *changequeue.Queue
	worker   *changequeue.Worker

	// Services
	watcher   *watcher.Watcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New builds every component without starting any of them.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := tracing.InitOpenTelemetry("specmgr"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(); err != nil {
		d.closeCore()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.closeCore()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Documents.Path, 0755); err != nil {
		return fmt.Errorf("failed to create documents directory: %w", err)
	}

	d.manifest = manifest.NewStore(manifest.Config{
		Root:   cfg.Documents.Path,
		Logger: d.logger.Component("manifest"),
	})

	if d.store == nil {
		store, err := vectorstore.NewSQLiteStore(vectorstore.SQLiteConfig{
			Path:       cfg.VectorDB.Path,
			Collection: cfg.VectorDB.Collection,
			VectorSize: cfg.VectorDB.VectorSize,
			Logger:     d.logger.Component("vectorstore"),
		})
		if err != nil {
			return fmt.Errorf("failed to open vector store: %w", err)
		}
		d.store = store
	}

	if d.embedder == nil {
		embedder, err := embedding.New(embedding.Config{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			OllamaHost: cfg.Embedding.OllamaHost,
			Dimension:  cfg.VectorDB.VectorSize,
			MaxTokens:  cfg.Embedding.MaxTokens,
			Logger:     d.logger.Component("embedding"),
		})
		if err != nil {
			return fmt.Errorf("failed to create embedding provider: %w", err)
		}
		d.embedder = embedder
	}
	if !d.embedder.Available() {
		d.logger.Warn().
			Str("provider", cfg.Embedding.Provider).
			Msg("Embedding provider unavailable, documents will be indexed with zero vectors")
	}

	engine, err := syncengine.New(syncengine.Config{
		Root:       cfg.Documents.Path,
		Extensions: cfg.Documents.Extensions,
		Exclude:    cfg.Documents.Exclude,
		VectorSize: cfg.VectorDB.VectorSize,
		Logger:     d.logger.Component("syncengine"),
	}, syncengine.Deps{
		Manifest: d.manifest,
		Store:    d.store,
		Embedder: d.embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}
	d.engine = engine

	if d.backend == nil {
		if cfg.Queue.Ephemeral {
			d.backend = changequeue.NewMemoryBackend()
		} else {
			backend, err := changequeue.NewSQLiteBackend(context.Background(), changequeue.SQLiteConfig{
				Path:   cfg.Queue.Path,
				Logger: d.logger.Component("queue"),
			})
			if err != nil {
				return fmt.Errorf("failed to open change queue: %w", err)
			}
			d.backend = backend
		}
	}

	d.queue = changequeue.New(changequeue.Config{
		Backend: d.backend,
		Logger:  d.logger.Component("queue"),
	})
	d.worker = changequeue.NewWorker(d.queue, d.engine, changequeue.WorkerConfig{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
		PopTimeout:  cfg.PopTimeout(),
		Logger:      d.logger.Component("worker"),
	})

	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	if cfg.Documents.Watch.Enabled {
		w, err := watcher.New(watcher.Config{
			Root:     d.engine.Root(),
			Filter:   d.engine.Filter(),
			Debounce: cfg.Debounce(),
			Enqueuer: d.queue,
			Tracked:  d.manifest,
			Logger:   d.logger.Component("watcher"),
		})
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = w
	}

	if cfg.Scheduler.Enabled {
		s, err := scheduler.New(d.engine, scheduler.Config{
			Interval: cfg.SchedulerInterval(),
			Cron:     cfg.Scheduler.Cron,
			Logger:   d.logger.Component("scheduler"),
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		d.scheduler = s
	}

	if cfg.Server.Enabled {
		server, err := api.NewServer(api.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			Logger:      d.logger.Component("api"),
			Syncer:      d.engine,
			Manifest:    d.manifest,
			Queue:       d.queue,
			Embedder:    d.embedder,
			Store:       d.store,
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		d.apiServer = server
	}

	return nil
}

// Start launches the background tasks. It returns once they are running.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().
		Str("documents", d.engine.Root()).
		Str("data_dir", d.config.DataDir).
		Msg("Starting specmgr daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.abortStart()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := observability.InitAuditLogger(filepath.Join(d.config.DataDir, "audit.log")); err != nil {
		logger.Warn().Err(err).Msg("Failed to open audit log, using stderr")
	}

	group, ctx := errgroup.WithContext(d.ctx)
	d.group = group

	group.Go(func() error {
		return d.worker.Run(ctx)
	})
	logger.Info().Msg("Queue worker started")

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.abortStart()
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	if d.scheduler != nil {
		group.Go(func() error {
			d.scheduler.Run(ctx)
			return nil
		})
	}

	group.Go(func() error {
		d.eventLoop.Run(ctx)
		return nil
	})

	if d.apiServer != nil {
		if err := d.apiServer.Start(); err != nil {
			d.abortStart()
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	if d.config.Sync.OnStartup {
		group.Go(func() error {
			d.startupSync(ctx)
			return nil
		})
	}

	logger.Info().Msg("Daemon started successfully")
	return nil
}

// abortStart undoes a partial Start.
func (d *Daemon) abortStart() {
	d.cancel()
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.group != nil {
		_ = d.group.Wait()
	}
	_ = d.lifecycle.Stop()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) startupSync(ctx context.Context) {
	ctx = tracing.WithTrigger(ctx, "startup")
	result, err := d.engine.ExecuteBulkSync(ctx, false)
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		d.logger.Debug().Msg("Startup sync skipped, pass already running")
	case err != nil:
		if ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("Startup sync failed")
		}
	default:
		d.logger.Info().
			Int("processed", result.ProcessedFiles).
			Int("total", result.TotalFiles).
			Float64("seconds", result.ProcessingTime).
			Msg("Startup sync completed")
	}
}

// Stop shuts every component down in reverse dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping specmgr daemon")

	if d.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.apiServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop API server")
		}
		cancel()
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop watcher")
		}
	}

	d.cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("Background task failed")
		}
		logger.Info().Msg("All background tasks stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("Timeout waiting for background tasks to stop")
	}

	d.closeCore()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

func (d *Daemon) closeCore() {
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close change queue")
		}
	} else if d.backend != nil {
		_ = d.backend.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close vector store")
		}
	}
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Close releases resources of a daemon that was built but never started,
// such as one used for a one-shot sync.
func (d *Daemon) Close() error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return d.Stop()
	}

	d.closeCore()
	d.shutdownTracing()
	return nil
}

// Status represents the daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetEngine returns the sync engine
func (d *Daemon) GetEngine() *syncengine.Engine {
	return d.engine
}

// GetManifest returns the manifest store
func (d *Daemon) GetManifest() *manifest.Store {
	return d.manifest
}

// GetQueue returns the change queue
func (d *Daemon) GetQueue() *changequeue.Queue {
	return d.queue
}

// GetAPIServer returns the API server, or nil when disabled
func (d *Daemon) GetAPIServer() *api.Server {
	return d.apiServer
}
