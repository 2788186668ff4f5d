// Package syncengine reconciles a directory of markdown documents with a
// vector store, using the manifest to find what changed since the last pass.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/internal/tracing"
	"github.com/harun/specmgr/pkg/embedding"
	"github.com/harun/specmgr/pkg/manifest"
	"github.com/harun/specmgr/pkg/vectorstore"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "specmgr.syncengine"

// ManifestStore is the subset of the manifest the engine mutates.
type ManifestStore interface {
	Diff(current map[string]string) (manifest.Changes, error)
	UpdateOne(path, fingerprint string) error
	RemoveOne(path string) error
}

// Status is a snapshot of the engine's progress.
type Status struct {
	IsRunning   bool   `json:"is_running"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentFile string `json:"current_file"`
	PassID      string `json:"pass_id,omitempty"`
}

// Result summarizes one bulk pass.
type Result struct {
	Success        bool     `json:"success"`
	TotalFiles     int      `json:"total_files"`
	ProcessedFiles int      `json:"processed_files"`
	TotalChunks    int      `json:"total_chunks"`
	ProcessingTime float64  `json:"processing_time"`
	Errors         []string `json:"errors"`
	Force          bool     `json:"force"`
	PassID         string   `json:"pass_id"`
}

// Config holds engine configuration
type Config struct {
	Root       string
	Extensions []string
	Exclude    []string
	VectorSize int
	Logger     zerolog.Logger
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Manifest ManifestStore
	Store    vectorstore.Store
	Embedder embedding.Provider
	Clock    func() time.Time
}

// Engine runs bulk and single-file syncs. At most one bulk pass runs at a time.
type Engine struct {
	root       string
	filter     Filter
	vectorSize int
	logger     zerolog.Logger

	manifest ManifestStore
	store    vectorstore.Store
	embedder embedding.Provider
	clock    func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates an engine rooted at cfg.Root.
func New(cfg Config, deps Deps) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Root == "" {
		return nil, errors.New("documents root is required")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", cfg.VectorSize)
	}
	if deps.Manifest == nil || deps.Store == nil {
		return nil, errors.New("manifest and vector store are required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	embedder := deps.Embedder
	if embedder == nil {
		embedder = embedding.Unavailable{Dim: cfg.VectorSize}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		root:       root,
		filter:     NewFilter(cfg.Extensions, cfg.Exclude),
		vectorSize: cfg.VectorSize,
		logger:     cfg.Logger,
		manifest:   deps.Manifest,
		store:      deps.Store,
		embedder:   embedder,
		clock:      clock,
	}, nil
}

// Root returns the absolute documents root.
func (e *Engine) Root() string {
	return e.root
}

// Filter returns the eligibility filter used for scans.
func (e *Engine) Filter() Filter {
	return e.filter
}

// Status returns a consistent snapshot of the current progress.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// begin flips the engine to running and resets counters in one step.
func (e *Engine) begin(passID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.IsRunning {
		return ErrSyncInProgress
	}
	e.status = Status{IsRunning: true, PassID: passID}
	observability.SetSyncRunning(true)
	return nil
}

// settle returns the engine to idle. Total is kept for display.
func (e *Engine) settle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.IsRunning = false
	e.status.Current = 0
	e.status.CurrentFile = ""
	observability.SetSyncRunning(false)
}

func (e *Engine) setTotal(total int) {
	e.mu.Lock()
	e.status.Total = total
	e.status.Current = 0
	e.mu.Unlock()
}

func (e *Engine) setProgress(current int, file string) {
	e.mu.Lock()
	e.status.Current = current
	e.status.CurrentFile = file
	e.mu.Unlock()
}

// ExecuteBulkSync runs one reconciliation pass. With force every present file
// is re-synced and nothing is deleted; otherwise only the manifest diff is
// applied. Per-file failures are collected in Result.Errors and the pass
// continues. A returned error means the pass was aborted; the partial result
// is returned alongside it when available.
func (e *Engine) ExecuteBulkSync(ctx context.Context, force bool) (*Result, error) {
	ctx = tracing.NewPassContext(ctx)
	passID := tracing.GetPassID(ctx)

	if err := e.begin(passID); err != nil {
		return nil, err
	}
	defer e.settle()

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"sync.bulk",
		attribute.Bool("force", force),
		attribute.String("pass_id", passID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := e.clock()

	result := &Result{
		Errors: []string{},
		Force:  force,
		PassID: passID,
	}

	finish := func(err error) (*Result, error) {
		elapsed := e.clock().Sub(start)
		result.ProcessingTime = elapsed.Seconds()
		result.Success = err == nil && len(result.Errors) == 0
		observability.RecordSyncPass(force, elapsed, result.Success)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result, err
	}

	if err := e.store.InitializeCollection(ctx); err != nil {
		_, err = finish(fmt.Errorf("initialize collection: %w", err))
		return nil, err
	}

	current, err := e.Scan(ctx)
	if err != nil {
		_, err = finish(err)
		return nil, err
	}
	result.TotalFiles = len(current)

	var toSync, toDelete []string
	if force {
		toSync = make([]string, 0, len(current))
		for path := range current {
			toSync = append(toSync, path)
		}
		sort.Strings(toSync)
	} else {
		changes, err := e.manifest.Diff(current)
		if err != nil {
			_, err = finish(fmt.Errorf("diff manifest: %w", err))
			return nil, err
		}
		toSync = append(append(toSync, changes.Added...), changes.Modified...)
		toDelete = changes.Deleted
	}

	total := len(toSync) + len(toDelete)
	e.setTotal(total)

	logger.Info().
		Bool("force", force).
		Int("files", len(current)).
		Int("sync", len(toSync)).
		Int("delete", len(toDelete)).
		Msg("Bulk sync started")

	step := 0
	for _, key := range toDelete {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("sync pass canceled: %w", err))
		}
		step++
		e.setProgress(step, "Deleting "+key)

		if err := e.removeKey(ctx, key); err != nil {
			if errors.Is(err, manifest.ErrManifestIO) {
				return finish(err)
			}
			logger.Warn().Err(err).Str("path", key).Msg("Delete failed")
			result.Errors = append(result.Errors, fmt.Sprintf("Delete %s: %v", key, errors.Unwrap(err)))
			continue
		}
		result.ProcessedFiles++
	}

	for _, key := range toSync {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("sync pass canceled: %w", err))
		}
		step++
		e.setProgress(step, key)

		size, fp, err := e.syncKey(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("path", key).Msg("Sync failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, errors.Unwrap(err)))
			continue
		}
		if err := e.manifest.UpdateOne(key, fp); err != nil {
			return finish(err)
		}

		result.ProcessedFiles++
		result.TotalChunks += estimateChunks(size)
	}

	res, err := finish(nil)

	logger.Info().
		Bool("success", res.Success).
		Int("processed", res.ProcessedFiles).
		Int("total", total).
		Int("errors", len(res.Errors)).
		Float64("seconds", res.ProcessingTime).
		Msg("Bulk sync completed")

	return res, err
}

func estimateChunks(size int) int {
	if n := size / 1000; n > 1 {
		return n
	}
	return 1
}

// RelativePath converts a path into the manifest key. Relative paths are
// taken as relative to the root.
func (e *Engine) RelativePath(fullPath string) (string, error) {
	p := fullPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.root, p)
	}

	rel, err := filepath.Rel(e.root, filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, fullPath)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, fullPath)
	}
	return manifest.NormalizePath(rel), nil
}

// SyncFile embeds and upserts one file without touching the manifest.
func (e *Engine) SyncFile(ctx context.Context, fullPath string) error {
	key, err := e.RelativePath(fullPath)
	if err != nil {
		return &SyncError{Path: fullPath, Op: "sync", Err: err}
	}
	_, _, err = e.syncKey(ctx, key)
	return err
}

// SyncSingleFile syncs one file and records its fingerprint in the manifest.
func (e *Engine) SyncSingleFile(ctx context.Context, fullPath string) error {
	key, err := e.RelativePath(fullPath)
	if err != nil {
		return &SyncError{Path: fullPath, Op: "sync", Err: err}
	}

	_, fp, err := e.syncKey(ctx, key)
	if err != nil {
		return err
	}
	if err := e.manifest.UpdateOne(key, fp); err != nil {
		return &SyncError{Path: key, Op: "manifest", Err: err}
	}
	return nil
}

// RemoveFile deletes the file's point and manifest entry. Removing an
// unknown file is not an error.
func (e *Engine) RemoveFile(ctx context.Context, fullPath string) error {
	key, err := e.RelativePath(fullPath)
	if err != nil {
		return &SyncError{Path: fullPath, Op: "delete", Err: err}
	}
	return e.removeKey(ctx, key)
}

// syncKey reads, embeds and upserts the document for key. It returns the
// byte size and fingerprint of the content that was stored.
func (e *Engine) syncKey(ctx context.Context, key string) (int, string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "sync.file", attribute.String("path", key))
	defer span.End()

	start := time.Now()
	fail := func(op string, err error) (int, string, error) {
		observability.RecordSyncFile("sync", time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, "", &SyncError{Path: key, Op: op, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(key)))
	if err != nil {
		return fail("read", err)
	}
	content := string(data)

	vector, err := e.vectorFor(ctx, content)
	if err != nil {
		return fail("embed", err)
	}

	if err := e.store.StoreDocument(ctx, key, content, vector); err != nil {
		return fail("store", err)
	}

	observability.RecordSyncFile("sync", time.Since(start), true)
	return len(data), manifest.HashBytes(data), nil
}

func (e *Engine) vectorFor(ctx context.Context, content string) ([]float32, error) {
	if !e.embedder.Available() {
		return embedding.ZeroVector(e.vectorSize), nil
	}
	return e.embedder.GenerateEmbedding(ctx, content)
}

func (e *Engine) removeKey(ctx context.Context, key string) error {
	start := time.Now()

	if err := e.store.DeleteDocument(ctx, key); err != nil {
		observability.RecordSyncFile("delete", time.Since(start), false)
		return &SyncError{Path: key, Op: "delete", Err: err}
	}
	if err := e.manifest.RemoveOne(key); err != nil {
		observability.RecordSyncFile("delete", time.Since(start), false)
		return &SyncError{Path: key, Op: "manifest", Err: err}
	}

	observability.RecordSyncFile("delete", time.Since(start), true)
	return nil
}
