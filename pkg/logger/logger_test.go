package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{" Warn ", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTrimPathDepth(t *testing.T) {
	if got := trimPathDepth("a/b/c/d.go", 3); got != "b/c/d.go" {
		t.Errorf("trimPathDepth() = %q, want %q", got, "b/c/d.go")
	}
	if got := trimPathDepth("d.go", 3); got != "d.go" {
		t.Errorf("trimPathDepth() = %q, want %q", got, "d.go")
	}
}

func TestNewLogger_Development(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, false, "")

	l.Debug("debug message", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "debug message") {
		t.Fatalf("development logger dropped debug record: %q", out)
	}
	if !strings.Contains(out, "caller=") {
		t.Errorf("record missing caller attribute: %q", out)
	}
}

func TestNewLogger_ProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, true, "")

	l.Debug("hidden")
	l.Info("shown", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("production record is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, false, "ERROR")

	l.Warn("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("WARN record written with ERROR level: %q", buf.String())
	}
}
