package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONLoggerIncludesFieldsAndSession(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "queue"))

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	log.Info(ctx, "command enqueued", String("command", "PING"), Float("latency_s", 90))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "command enqueued" {
		t.Fatalf("msg = %v, want %q", rec["msg"], "command enqueued")
	}
	if rec["component"] != "queue" || rec["command"] != "PING" || rec["session_id"] != "sess-1" {
		t.Fatalf("record = %v, missing expected fields", rec)
	}
	if rec["latency_s"] != float64(90) {
		t.Fatalf("latency_s = %v, want 90", rec["latency_s"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q, want only warn record", out)
	}
}

func TestFileOutputRotatesThroughLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missionsim.log")
	log := New(Config{Format: "text", File: path, MaxSizeMB: 1})

	log.Error(context.Background(), "delivery failed", Err(os.ErrDeadlineExceeded))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "delivery failed") {
		t.Fatalf("log file = %q, want record", data)
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID returned empty id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("EnsureRequestID = %q on second call, want %q", again, id)
	}
}

func TestContextLoggerDefaultsToNoop(t *testing.T) {
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("LoggerFromContext returned nil after storing nil logger")
	}
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("LoggerFromContext on empty context = non-nil")
	}
}
