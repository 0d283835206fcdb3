package util

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWithRequestIDKeepsGivenID(t *testing.T) {
	const incoming = "req-incoming-123"
	ctx := WithRequestID(context.Background(), incoming)
	if got := RequestIDFromContext(ctx); got != incoming {
		t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got == "" {
		t.Fatal("expected generated request id in context")
	}
}

func TestEnsureRequestIDReusesExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	next, id := EnsureRequestID(ctx)
	if id != "req-1" || next != ctx {
		t.Fatalf("expected existing id to be reused, got %q", id)
	}
	_, fresh := EnsureRequestID(context.Background())
	if fresh == "" {
		t.Fatal("expected fresh request id")
	}
}

func TestContextLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := ContextWithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-42")

	LoggerFromContext(ctx, nil).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["request_id"] != "req-42" {
		t.Fatalf("request_id = %v, want req-42", line["request_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
