package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// PassIDKey identifies one bulk sync pass
	PassIDKey ContextKey = "pass_id"
	// JobIDKey identifies one change-queue job
	JobIDKey ContextKey = "job_id"
	// TriggerKey records who started the work ("api", "cli", "scheduler", "startup")
	TriggerKey ContextKey = "trigger"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	PassID  string
	JobID   string
	Trigger string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewPassID generates a new sync pass ID
func NewPassID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithPassID adds a sync pass ID to the context
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, PassIDKey, passID)
}

// WithJobID adds a queue job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithTrigger records the origin of the work
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetPassID retrieves the sync pass ID from the context
func GetPassID(ctx context.Context) string {
	return getString(ctx, PassIDKey)
}

// GetJobID retrieves the job ID from the context
func GetJobID(ctx context.Context) string {
	return getString(ctx, JobIDKey)
}

// GetTrigger retrieves the trigger from the context
func GetTrigger(ctx context.Context) string {
	return getString(ctx, TriggerKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		PassID:  GetPassID(ctx),
		JobID:   GetJobID(ctx),
		Trigger: GetTrigger(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.PassID != "" {
		ctx = WithPassID(ctx, tc.PassID)
	}
	if tc.JobID != "" {
		ctx = WithJobID(ctx, tc.JobID)
	}
	if tc.Trigger != "" {
		ctx = WithTrigger(ctx, tc.Trigger)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewPassContext starts a sync pass context, keeping any existing trace ID.
func NewPassContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithPassID(ctx, NewPassID())
}
