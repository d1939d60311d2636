// Package logger is the process-wide structured logger. Lines go to stdout
// and an optional file, as logfmt text or JSON for log shippers.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes logger settings.
type Config struct {
	Enabled bool
	Level   string
	Format  string // "text" (default) or "json"
	Stdout  bool
	File    string
}

var (
	mu      sync.RWMutex
	base    *slog.Logger
	enabled = true

	current  Config
	logFile  *os.File  // log file opened during Init
	override io.Writer // non-nil when output was redirected with SetOutput
)

// Init initializes the logger with the provided config.
// Relative file paths are resolved against dir.
func Init(cfg Config, dir string) error {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	if !cfg.Enabled {
		enabled = false
		base = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
		return nil
	}

	var initErr error
	if cfg.File != "" {
		path := expandPath(cfg.File, dir)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("logger: create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			initErr = fmt.Errorf("logger: open log file: %w", err)
		} else {
			logFile = f
		}
	}

	rebuild()
	return initErr
}

// SetOutput sends log lines to w instead of stdout and the log file.
// A nil writer restores the configured outputs.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	override = w
	rebuild()
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	rebuild()
	return err
}

// rebuild reconstructs the slog handler from current state.
// Must be called with mu held.
func rebuild() {
	opts := &slog.HandlerOptions{Level: parseLevel(current.Level)}

	var writers []io.Writer
	switch {
	case override != nil:
		writers = append(writers, override)
	default:
		if current.Stdout {
			writers = append(writers, os.Stdout)
		}
		if logFile != nil {
			writers = append(writers, logFile)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	out := io.MultiWriter(writers...)
	if strings.EqualFold(current.Format, "json") {
		base = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		base = slog.New(slog.NewTextHandler(out, opts))
	}
	enabled = current.Enabled || override != nil
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	log(slog.LevelError, msg, args...)
}

// Enabled reports whether a message at level would be written.
func Enabled(level slog.Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled && base != nil && base.Enabled(context.Background(), level)
}

func log(level slog.Level, msg string, args ...any) {
	mu.RLock()
	l := base
	on := enabled
	mu.RUnlock()

	if !on || l == nil {
		return
	}

	l.Log(context.Background(), level, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandPath(path, dir string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	if dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}
