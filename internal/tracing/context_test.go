package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithQueryID(t *testing.T) {
	ctx := WithQueryID(context.Background(), "q-1")

	if got := GetQueryID(ctx); got != "q-1" {
		t.Errorf("Expected query ID q-1, got %s", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())

	if tc.TraceID != "" || tc.SessionID != "" || tc.QueryID != "" {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
}

func TestNewSessionContext(t *testing.T) {
	t.Run("assigns both ids", func(t *testing.T) {
		ctx := NewSessionContext(context.Background())

		if GetTraceID(ctx) == "" {
			t.Error("Expected trace ID to be set")
		}
		if GetSessionID(ctx) == "" {
			t.Error("Expected session ID to be set")
		}
	})

	t.Run("keeps an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "parent-trace")
		ctx = NewSessionContext(ctx)

		if got := GetTraceID(ctx); got != "parent-trace" {
			t.Errorf("Expected parent-trace, got %s", got)
		}
	})

	t.Run("new session per call", func(t *testing.T) {
		a := NewSessionContext(context.Background())
		b := NewSessionContext(context.Background())

		if GetSessionID(a) == GetSessionID(b) {
			t.Error("Expected distinct session IDs")
		}
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithQueryID(ctx, "query-7")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-1"`) {
		t.Errorf("Expected trace_id in output, got %s", out)
	}
	if !strings.Contains(out, `"query_id":"query-7"`) {
		t.Errorf("Expected query_id in output, got %s", out)
	}
	if strings.Contains(out, "session_id") {
		t.Errorf("Did not expect session_id in output, got %s", out)
	}
}
