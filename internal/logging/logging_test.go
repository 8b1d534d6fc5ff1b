package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept", String("protocol", "cunche"), Int("users", 3), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at warn level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["protocol"] != "cunche" || rec["users"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestWithRunLoggerAttachesRunID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, log := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatal("run ID missing from context")
	}
	if LoggerFromContext(ctx, nil) != log {
		t.Fatal("logger not stored on context")
	}

	again, sameID := EnsureRunID(ctx)
	if sameID != id || RunIDFromContext(again) != id {
		t.Fatalf("EnsureRunID replaced an existing ID: %q vs %q", sameID, id)
	}

	log.Info(ctx, "hello")
	if !strings.Contains(buf.String(), `"run_id":"`+id+`"`) {
		t.Fatalf("run_id not logged: %s", buf.String())
	}
}

func TestFreshContextsGetDistinctRunIDs(t *testing.T) {
	_, a := EnsureRunID(context.Background())
	_, b := EnsureRunID(context.Background())
	if a == b {
		t.Fatalf("expected distinct run IDs, got %q twice", a)
	}
}

func TestNoopAndFallbacks(t *testing.T) {
	Noop().With(String("k", "v")).Error(context.Background(), "ignored")
	if LoggerFromContext(context.Background(), nil) == nil {
		t.Fatal("LoggerFromContext should never return nil")
	}
	if parseLevel("WARNING") != parseLevel("warn") {
		t.Fatal("warning should alias warn")
	}
}
