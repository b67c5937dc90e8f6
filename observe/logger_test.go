package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, s string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, s)
	}
	return entry
}

func TestLogger_IncludesOpFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithOp(OpMeta{
		Component: "remote",
		Name:      "send_message",
		Target:    "chat:42",
	})

	logger.Info(context.Background(), "sent")

	entry := decodeLine(t, buf.String())
	if entry["component"] != "remote" {
		t.Errorf("component = %v, want remote", entry["component"])
	}
	if entry["op"] != "send_message" {
		t.Errorf("op = %v, want send_message", entry["op"])
	}
	if entry["target"] != "chat:42" {
		t.Errorf("target = %v, want chat:42", entry["target"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["msg"] != "sent" {
		t.Errorf("msg = %v, want sent", entry["msg"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	logger.Warn(context.Background(), "warn")
	if !strings.Contains(buf.String(), `"warn"`) {
		t.Errorf("expected warn entry, got %q", buf.String())
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "calling",
		F("token", "123:abc"),
		F("authorization", "Bearer x"),
		F("chat_id", 42),
	)

	entry := decodeLine(t, buf.String())
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry["token"])
	}
	if entry["authorization"] != "[REDACTED]" {
		t.Errorf("authorization = %v, want [REDACTED]", entry["authorization"])
	}
	if entry["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v, want 42", entry["chat_id"])
	}
}

func TestLogger_ErrorValuesRendered(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "failed", F("error", errors.New("database is locked")))

	entry := decodeLine(t, buf.String())
	if entry["error"] != "database is locked" {
		t.Errorf("error = %v, want %q", entry["error"], "database is locked")
	}
}

func TestLogger_WithOpDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter("info", &buf)
	_ = parent.WithOp(OpMeta{Component: "pool"})

	parent.Info(context.Background(), "plain")

	entry := decodeLine(t, buf.String())
	if _, ok := entry["component"]; ok {
		t.Errorf("parent logger gained component field: %v", entry)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLogLevel(tc.in); got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLogger_CarriesSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Warn(ctx, "retrying")
	entry := decodeLine(t, buf.String())

	if entry["trace_id"] != sc.TraceID().String() {
		t.Errorf("trace_id = %v, want %v", entry["trace_id"], sc.TraceID().String())
	}
	if entry["span_id"] != sc.SpanID().String() {
		t.Errorf("span_id = %v, want %v", entry["span_id"], sc.SpanID().String())
	}

	buf.Reset()
	logger.Warn(context.Background(), "retrying")
	if _, ok := decodeLine(t, buf.String())["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
}
