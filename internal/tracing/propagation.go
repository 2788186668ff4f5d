package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID == "" && tc.PassID == "" && tc.JobID == "" && tc.Trigger == "" {
		return logger
	}

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.PassID != "" {
		lc = lc.Str("pass_id", tc.PassID)
	}
	if tc.JobID != "" {
		lc = lc.Str("job_id", tc.JobID)
	}
	if tc.Trigger != "" {
		lc = lc.Str("trigger", tc.Trigger)
	}
	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying ctx's tracing values. Work
// started from a request outlives the request with it.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
