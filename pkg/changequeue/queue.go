package changequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/specmgr/internal/observability"
	"github.com/rs/zerolog"
)

// Stats reports queue depths.
type Stats struct {
	Pending int `json:"pending_jobs"`
	Failed  int `json:"failed_jobs"`
}

// Config holds queue configuration
type Config struct {
	Backend Backend
	Logger  zerolog.Logger
	Clock   func() time.Time
}

// Queue encodes change events into jobs on a Backend.
type Queue struct {
	backend Backend
	logger  zerolog.Logger
	clock   func() time.Time
}

// New creates a queue over cfg.Backend.
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		backend: cfg.Backend,
		logger:  cfg.Logger,
		clock:   clock,
	}
}

// Enqueue appends a new job for ev and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, ev Event) (string, error) {
	if _, err := ParseEventType(string(ev.Type)); err != nil {
		return "", err
	}
	if ev.Path == "" {
		return "", fmt.Errorf("%w: missing file path", ErrInvalidJob)
	}

	job, err := NewJob(ev, q.clock())
	if err != nil {
		return "", err
	}
	if err := q.push(ctx, SyncQueue, job); err != nil {
		return "", err
	}

	observability.RecordQueueEnqueue(string(ev.Type))
	q.logger.Debug().
		Str("job_id", job.ID).
		Str("event", string(ev.Type)).
		Str("path", ev.Path).
		Msg("Job enqueued")

	return job.ID, nil
}

func (q *Queue) push(ctx context.Context, queue string, job *Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := q.backend.Push(ctx, queue, payload); err != nil {
		return err
	}
	q.refreshSize(ctx, queue)
	return nil
}

// pop returns the next job or (nil, nil) on timeout. Undecodable payloads are
// dropped with an error log.
func (q *Queue) pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	payload, err := q.backend.Pop(ctx, queue, timeout)
	if err != nil || payload == nil {
		return nil, err
	}
	q.refreshSize(ctx, queue)

	job, err := DecodeJob(payload)
	if err != nil {
		q.logger.Error().Err(err).Str("queue", queue).Msg("Dropping undecodable job")
		return nil, nil
	}
	return job, nil
}

func (q *Queue) refreshSize(ctx context.Context, queue string) {
	if n, err := q.backend.Len(ctx, queue); err == nil {
		observability.SetQueueSize(queue, n)
	}
}

// Stats returns pending and dead-lettered job counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.backend.Len(ctx, SyncQueue)
	if err != nil {
		return Stats{}, err
	}
	failed, err := q.backend.Len(ctx, DeadLetterQueue)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pending: pending, Failed: failed}, nil
}

// RetryDeadLetters moves every dead-lettered job back to the sync queue with
// a reset retry count. The move is atomic in the backend; it returns the
// number of jobs moved.
func (q *Queue) RetryDeadLetters(ctx context.Context) (int, error) {
	moved, err := q.backend.Move(ctx, DeadLetterQueue, SyncQueue, resetRetries)
	if err != nil {
		return 0, fmt.Errorf("requeue dead letters: %w", err)
	}
	q.refreshSize(ctx, DeadLetterQueue)
	q.refreshSize(ctx, SyncQueue)

	if moved > 0 {
		q.logger.Info().Int("jobs", moved).Msg("Dead-lettered jobs requeued")
	}
	return moved, nil
}

// resetRetries clears a job's failure history. Undecodable payloads pass
// through unchanged and are dropped when popped.
func resetRetries(payload []byte) []byte {
	job, err := DecodeJob(payload)
	if err != nil {
		return payload
	}
	job.RetryCount = 0
	job.LastError = ""
	out, err := EncodeJob(job)
	if err != nil {
		return payload
	}
	return out
}

// Close releases the backend.
func (q *Queue) Close() error {
	if err := q.backend.Close(); err != nil && !errors.Is(err, ErrQueueClosed) {
		return err
	}
	return nil
}
