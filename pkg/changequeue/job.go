package changequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Queue names
const (
	SyncQueue       = "sync_jobs"
	DeadLetterQueue = "failed_jobs"
)

// JobTypeSync is the only job type produced today.
const JobTypeSync = "sync"

// EventType is the kind of filesystem change a job carries.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// ParseEventType validates s.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventCreated, EventModified, EventDeleted:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidJob, s)
	}
}

// Event is a single change to one file.
type Event struct {
	Type EventType
	Path string
}

// Job is a queued event plus its retry bookkeeping.
type Job struct {
	ID         string
	Type       string
	Event      Event
	RetryCount int
	CreatedAt  time.Time
	LastError  string
}

// NewJob wraps ev in a fresh job.
func NewJob(ev Event, now time.Time) (*Job, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	return &Job{
		ID:        id,
		Type:      JobTypeSync,
		Event:     ev,
		CreatedAt: now.UTC(),
	}, nil
}

type wirePayload struct {
	EventType string `json:"event_type"`
	FilePath  string `json:"file_path"`
}

type wireJob struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Payload    wirePayload `json:"payload"`
	RetryCount int         `json:"retry_count"`
	CreatedAt  time.Time   `json:"created_at"`
	LastError  *string     `json:"last_error"`
}

// EncodeJob serializes job for a Backend.
func EncodeJob(job *Job) ([]byte, error) {
	w := wireJob{
		ID:   job.ID,
		Type: job.Type,
		Payload: wirePayload{
			EventType: string(job.Event.Type),
			FilePath:  job.Event.Path,
		},
		RetryCount: job.RetryCount,
		CreatedAt:  job.CreatedAt,
	}
	if job.LastError != "" {
		msg := job.LastError
		w.LastError = &msg
	}
	return json.Marshal(w)
}

// DecodeJob parses and validates a payload produced by EncodeJob.
func DecodeJob(data []byte) (*Job, error) {
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	eventType, err := ParseEventType(w.Payload.EventType)
	if err != nil {
		return nil, err
	}
	if w.Payload.FilePath == "" {
		return nil, fmt.Errorf("%w: missing file path", ErrInvalidJob)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidJob)
	}

	job := &Job{
		ID:         w.ID,
		Type:       w.Type,
		Event:      Event{Type: eventType, Path: w.Payload.FilePath},
		RetryCount: w.RetryCount,
		CreatedAt:  w.CreatedAt,
	}
	if job.Type == "" {
		job.Type = JobTypeSync
	}
	if w.LastError != nil {
		job.LastError = *w.LastError
	}
	return job, nil
}

var (
	// ErrQueueConnection is returned when the queue backend cannot be reached.
	ErrQueueConnection = errors.New("queue connection failed")

	// ErrQueueClosed is returned by operations on a closed backend.
	ErrQueueClosed = errors.New("queue closed")

	// ErrJobFailed marks a job whose handler returned an error.
	ErrJobFailed = errors.New("job processing failed")

	// ErrInvalidJob marks a payload that cannot be decoded into a job.
	ErrInvalidJob = errors.New("invalid job payload")
)

// JobError describes one failed attempt at a job.
type JobError struct {
	JobID   string
	Event   Event
	Attempt int
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s (%s %s) attempt %d: %v", e.JobID, e.Event.Type, e.Event.Path, e.Attempt, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrJobFailed) match every *JobError.
func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}
