package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error messages should be logged, got: %s", out)
	}
}

func TestLoggerStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithService("firmsync-test"))

	logger.Info("sync completed", "entity", "exchanges", "synced", 42)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be valid JSON: %v", err)
	}
	if entry["service"] != "firmsync-test" {
		t.Errorf("expected service firmsync-test, got %v", entry["service"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("expected fields map in log entry")
	}
	if fields["entity"] != "exchanges" {
		t.Errorf("expected entity field exchanges, got %v", fields["entity"])
	}
}

func TestLoggerCorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	ctx := WithCorrelationID(context.Background(), "run-123")
	logger.InfoWithContext(ctx, "page fetched")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be valid JSON: %v", err)
	}
	if entry["correlation_id"] != "run-123" {
		t.Errorf("expected correlation_id run-123, got %v", entry["correlation_id"])
	}
}

func TestMustGetCorrelationID(t *testing.T) {
	ctx := context.Background()
	id := MustGetCorrelationID(ctx)
	if id == "" {
		t.Fatal("expected a generated correlation ID")
	}

	ctx = WithCorrelationID(ctx, "fixed-id")
	if got := MustGetCorrelationID(ctx); got != "fixed-id" {
		t.Errorf("expected fixed-id, got %s", got)
	}
}
