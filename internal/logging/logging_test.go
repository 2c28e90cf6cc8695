package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := NewContext(context.Background(), l)
	FromContext(ctx).Info("hello", "unit_id", "u1")
	if !bytes.Contains(buf.Bytes(), []byte("unit_id=u1")) {
		t.Fatalf("logger not stored in context: %q", buf.String())
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
}

func TestNewWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "k=1") {
		t.Fatalf("warn line missing: %q", out)
	}
}
