package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/internal/tracing"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/harun/specmgr/pkg/vectorstore"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	maxBodyBytes       = 1 << 20
)

type bulkSyncRequest struct {
	Force bool `json:"force"`
}

type searchRequest struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
}

type searchResponse struct {
	Query   string            `json:"query"`
	Results []vectorstore.Hit `json:"results"`
	Total   int               `json:"total"`
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// passContext detaches ctx from its request and cancels it when the server stops.
func (s *Server) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tracing.Detach(ctx))
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	var req bulkSyncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	ctx := tracing.WithTrigger(tracing.NewRequestContext(r.Context()), "api")
	logger := tracing.LoggerFromContext(ctx, s.logger)

	// A client that gives up does not abort the pass; server shutdown does.
	ctx, cancel := s.passContext(ctx)
	defer cancel()

	result, err := s.cfg.Syncer.ExecuteBulkSync(ctx, req.Force)
	if errors.Is(err, syncengine.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "SYNC_IN_PROGRESS", "a sync pass is already running")
		return
	}
	if err != nil {
		logger.Error().Err(err).Bool("force", req.Force).Msg("Bulk sync failed")
		observability.RecordSyncAudit(ctx, "bulk_sync", "api", "failure", map[string]interface{}{
			"force": req.Force,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "SYNC_FAILED", err.Error())
		return
	}

	observability.RecordSyncAudit(ctx, "bulk_sync", "api", "success", map[string]interface{}{
		"force":     req.Force,
		"processed": result.ProcessedFiles,
		"total":     result.TotalFiles,
		"pass_id":   result.PassID,
	})
	writeData(w, result)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.cfg.Syncer.Status())
}

func (s *Server) handleManifestStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Manifest.Stats()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read manifest stats")
		writeError(w, http.StatusInternalServerError, "MANIFEST_ERROR", err.Error())
		return
	}
	observability.SetManifestFiles(stats.TotalFiles)
	writeData(w, stats)
}

func (s *Server) handleManifestClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cfg.Syncer.Status().IsRunning {
		writeError(w, http.StatusConflict, "SYNC_IN_PROGRESS", "cannot clear the manifest during a sync pass")
		return
	}

	if err := s.cfg.Manifest.Clear(); err != nil {
		observability.RecordManifestAudit(ctx, "manifest_clear", "api", "failure", nil)
		writeError(w, http.StatusInternalServerError, "MANIFEST_ERROR", err.Error())
		return
	}

	observability.SetManifestFiles(0)
	observability.RecordManifestAudit(ctx, "manifest_clear", "api", "success", nil)
	writeData(w, map[string]string{"message": "manifest cleared"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "change queue is not configured")
		return
	}

	stats, err := s.cfg.Queue.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read queue stats")
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
		return
	}
	writeData(w, stats)
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "change queue is not configured")
		return
	}

	ctx := r.Context()
	n, err := s.cfg.Queue.RetryDeadLetters(ctx)
	if err != nil {
		observability.RecordQueueAudit(ctx, "retry_failed", "api", "failure", map[string]interface{}{
			"requeued": n,
			"error":    err.Error(),
		})
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
		return
	}

	observability.RecordQueueAudit(ctx, "retry_failed", "api", "success", map[string]interface{}{
		"requeued": n,
	})
	writeData(w, map[string]int{"requeued": n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	if s.cfg.Store == nil || s.cfg.Embedder == nil || !s.cfg.Embedder.Available() {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "embedding provider is not available")
		return
	}

	ctx := r.Context()
	vec, err := s.cfg.Embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Query embedding failed")
		writeError(w, http.StatusBadGateway, "EMBEDDING_FAILED", err.Error())
		return
	}

	hits, err := s.cfg.Store.Search(ctx, vec, req.Limit, req.ScoreThreshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("Vector search failed")
		writeError(w, http.StatusInternalServerError, "SEARCH_FAILED", err.Error())
		return
	}
	if hits == nil {
		hits = []vectorstore.Hit{}
	}

	writeData(w, searchResponse{Query: req.Query, Results: hits, Total: len(hits)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.cfg.Syncer.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).Seconds(),
		"sync_running": status.IsRunning,
		"timestamp":    time.Now().UnixMilli(),
	})
}
