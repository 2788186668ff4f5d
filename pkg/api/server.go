// Package api exposes the sync engine, manifest and change queue over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/harun/specmgr/pkg/embedding"
	"github.com/harun/specmgr/pkg/manifest"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/harun/specmgr/pkg/vectorstore"
	"github.com/rs/zerolog"
)

// Syncer runs and reports bulk sync passes.
type Syncer interface {
	Status() syncengine.Status
	ExecuteBulkSync(ctx context.Context, force bool) (*syncengine.Result, error)
}

// ManifestService reports on and resets the manifest.
type ManifestService interface {
	Stats() (manifest.Stats, error)
	Clear() error
}

// QueueService reports on and replays the change queue.
type QueueService interface {
	Stats(ctx context.Context) (changequeue.Stats, error)
	RetryDeadLetters(ctx context.Context) (int, error)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	CORSOrigins    []string
	StreamInterval time.Duration
	Logger         zerolog.Logger

	Syncer   Syncer
	Manifest ManifestService
	// Queue is optional; queue routes answer 503 without it.
	Queue    QueueService
	Embedder embedding.Provider
	Store    vectorstore.Store
}

// Server is the HTTP API server
type Server struct {
	cfg      Config
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	startTime time.Time
	done      chan struct{}
	stopOnce  sync.Once
	streams   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if cfg.Manifest == nil {
		return nil, errors.New("manifest service is required")
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}

	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.originAllowed,
	}

	observability.EnsureRegistered()
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync/bulk", s.handleBulkSync)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("GET /api/sync/stream", s.handleSyncStream)
	mux.HandleFunc("GET /api/manifest", s.handleManifestStats)
	mux.HandleFunc("DELETE /api/manifest", s.handleManifestClear)
	mux.HandleFunc("GET /api/queue", s.handleQueueStats)
	mux.HandleFunc("POST /api/queue/retry-failed", s.handleQueueRetry)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return s.withCORS(s.withRecovery(mux))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes status streams and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.streams.Wait()

	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down API server")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}
