package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Config{Enabled: true, Level: "debug", File: "logs/test.log"}, dir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "test.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") || !strings.Contains(string(data), "k=v") {
		t.Fatalf("log file = %q, want msg and attrs", data)
	}
}

func TestSetOutputRespectsLevel(t *testing.T) {
	if err := Init(Config{Enabled: true, Level: "warn"}, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	Info("quiet")
	Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("output = %q, info line should be filtered", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("output = %q, want warn line", out)
	}
}

func TestDisabledLoggerDropsEverything(t *testing.T) {
	if err := Init(Config{Enabled: false}, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Error("nothing") // must not panic
	if Enabled(slog.LevelError) {
		t.Fatal("Enabled(error) = true on a disabled logger")
	}
}

func TestJSONFormat(t *testing.T) {
	if err := Init(Config{Enabled: true, Level: "debug", Format: "JSON"}, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	Debug("tool cache hit", "tool", "list_devices")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if line["msg"] != "tool cache hit" || line["tool"] != "list_devices" || line["level"] != "DEBUG" {
		t.Fatalf("line = %v", line)
	}
	if !Enabled(slog.LevelDebug) {
		t.Fatal("Enabled(debug) = false at debug level")
	}
}
