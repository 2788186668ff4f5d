package changequeue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "specmgr.changequeue"

// Handler applies one change to the index.
type Handler interface {
	SyncSingleFile(ctx context.Context, path string) error
	RemoveFile(ctx context.Context, path string) error
}

// WorkerConfig holds retry and polling settings
type WorkerConfig struct {
	// MaxRetries is taken as given; 0 dead-letters a job on its first failure.
	MaxRetries  int
	BackoffBase float64
	BackoffUnit time.Duration
	PopTimeout  time.Duration
	ErrorPause  time.Duration
	Logger      zerolog.Logger
}

func (c *WorkerConfig) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 1 {
		c.BackoffBase = 2
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = time.Second
	}
}

// Worker pulls jobs from the sync queue and dispatches them to a Handler.
type Worker struct {
	queue   *Queue
	handler Handler
	cfg     WorkerConfig
	logger  zerolog.Logger

	// sleep is replaced in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a worker for queue.
func NewWorker(queue *Queue, handler Handler, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before the given retry attempt.
func (w *Worker) Backoff(retryCount int) time.Duration {
	return time.Duration(math.Pow(w.cfg.BackoffBase, float64(retryCount)) * float64(w.cfg.BackoffUnit))
}

// Run processes jobs until ctx is canceled. Job failures never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("max_retries", w.cfg.MaxRetries).
		Float64("backoff_base", w.cfg.BackoffBase).
		Msg("Queue worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("Queue worker stopped")
			return nil
		}

		job, err := w.queue.pop(ctx, SyncQueue, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, ErrQueueClosed) {
				w.logger.Info().Msg("Queue closed, worker exiting")
				return nil
			}
			w.logger.Error().Err(err).Msg("Failed to pop job")
			_ = w.sleep(ctx, w.cfg.ErrorPause)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

// process handles one job and schedules its retry or dead-letters it.
func (w *Worker) process(ctx context.Context, job *Job) {
	ctx = tracing.WithJobID(ctx, job.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"queue.job",
		attribute.String("event", string(job.Event.Type)),
		attribute.String("path", job.Event.Path),
		attribute.Int("retry_count", job.RetryCount),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, w.logger)
	start := time.Now()

	err := w.dispatch(ctx, job)
	observability.RecordJobCompletion(string(job.Event.Type), time.Since(start), err == nil)
	if err == nil {
		logger.Debug().
			Str("event", string(job.Event.Type)).
			Str("path", job.Event.Path).
			Msg("Job completed")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	job.RetryCount++
	job.LastError = err.Error()

	if job.RetryCount > w.cfg.MaxRetries {
		logger.Error().
			Err(err).
			Str("path", job.Event.Path).
			Int("retry_count", job.RetryCount).
			Msg("Job exhausted retries, moving to dead-letter queue")
		if pushErr := w.queue.push(ctx, DeadLetterQueue, job); pushErr != nil {
			logger.Error().Err(pushErr).Msg("Failed to dead-letter job")
			return
		}
		observability.RecordDeadLetter()
		return
	}

	delay := w.Backoff(job.RetryCount)
	logger.Warn().
		Err(err).
		Str("path", job.Event.Path).
		Int("retry_count", job.RetryCount).
		Dur("delay", delay).
		Msg("Job failed, scheduling retry")

	if err := w.sleep(ctx, delay); err != nil {
		// Shutting down mid-backoff: park the job so a durable backend keeps it.
		if pushErr := w.queue.push(tracing.Detach(ctx), SyncQueue, job); pushErr != nil {
			logger.Debug().Err(pushErr).Msg("Job abandoned on shutdown")
		}
		return
	}

	if err := w.queue.push(ctx, SyncQueue, job); err != nil {
		logger.Error().Err(err).Msg("Failed to requeue job")
		return
	}
	observability.RecordJobRetry()
}

func (w *Worker) dispatch(ctx context.Context, job *Job) error {
	var err error
	switch job.Event.Type {
	case EventCreated, EventModified:
		err = w.handler.SyncSingleFile(ctx, job.Event.Path)
	case EventDeleted:
		err = w.handler.RemoveFile(ctx, job.Event.Path)
	default:
		_, err = ParseEventType(string(job.Event.Type))
	}
	if err != nil {
		return &JobError{JobID: job.ID, Event: job.Event, Attempt: job.RetryCount + 1, Err: err}
	}
	return nil
}
