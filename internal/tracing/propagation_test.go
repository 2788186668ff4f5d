package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithPassID(ctx, "pass-456")

	ctxLogger := LoggerFromContext(ctx, logger)
	ctxLogger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-123"`) {
		t.Errorf("Expected trace_id in log output, got %s", out)
	}
	if !strings.Contains(out, `"pass_id":"pass-456"`) {
		t.Errorf("Expected pass_id in log output, got %s", out)
	}
	if strings.Contains(out, "job_id") {
		t.Errorf("Unexpected job_id in log output, got %s", out)
	}
}

func TestPropagateToLogger_NoContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	plainLogger := PropagateToLogger(context.Background(), logger)
	plainLogger.Info().Msg("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("Unexpected trace_id in log output, got %s", buf.String())
	}
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(WithPassID(context.Background(), "p1"))
	detached := Detach(parent)
	cancel()

	if detached.Err() != nil {
		t.Error("Detached context should not be canceled with its parent")
	}
	if GetPassID(detached) != "p1" {
		t.Error("Pass ID should survive detach")
	}
}
