package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentApp, Output: &buf})

	l.WithComponent(ComponentInsight).Info("cache hit", FieldUserID, "u1")

	out := buf.String()
	if !strings.Contains(out, "component=insight") || !strings.Contains(out, "user_id=u1") {
		t.Fatalf("unexpected log line: %s", out)
	}
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("component logged more than once: %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil || l.Component() != "unknown" {
		t.Fatalf("expected default logger, got %+v", l)
	}

	mine := New(DefaultConfig())
	if FromContext(WithLogger(context.Background(), mine)) != mine {
		t.Fatalf("expected stored logger")
	}
}

func TestLogMutation(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelInfo, Output: &buf}))

	sl.LogMutation(context.Background(), OpCreate, "u1", "Food", "12.50", nil, "")
	sl.LogMutation(context.Background(), OpUpsert, "u1", "Food", "", errors.New("boom"), "persistence_error")

	out := buf.String()
	if !strings.Contains(out, "Mutation applied") || !strings.Contains(out, "Mutation rejected") {
		t.Fatalf("missing messages: %s", out)
	}
	if !strings.Contains(out, "error_kind=persistence_error") {
		t.Fatalf("missing error kind: %s", out)
	}
}
