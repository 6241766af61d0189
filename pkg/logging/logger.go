// Package logging wraps log/slog with the process-wide logger used by every
// component of override-dns.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"override-dns/pkg/config"
)

// Logger wraps slog.Logger with override-dns specific helpers
type Logger struct {
	*slog.Logger
	cfg *config.LoggingConfig
}

// New creates a new logger from configuration
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	return &Logger{
		Logger: slog.New(newHandler(output, cfg)),
		cfg:    cfg,
	}, nil
}

// NewWriter creates a logger writing to w, mostly for tests
func NewWriter(w io.Writer, cfg *config.LoggingConfig) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(w, cfg)),
		cfg:    cfg,
	}
}

// NewDefault creates a logger with sensible defaults (info level, text format, stdout)
func NewDefault() *Logger {
	return NewWriter(os.Stdout, &config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	})
}

// NewDiscard returns a logger that drops everything
func NewDiscard() *Logger {
	return NewWriter(io.Discard, &config.LoggingConfig{Level: "error", Format: "text"})
}

func newHandler(w io.Writer, cfg *config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Event emits a named diagnostic event with structured fields
func (l *Logger) Event(ctx context.Context, level slog.Level, name string, fields ...any) {
	if l == nil {
		return
	}
	l.Log(ctx, level, name, append([]any{"event", name}, fields...)...)
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.Logger.With(args...),
		cfg:    l.cfg,
	}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		cfg:    l.cfg,
	}
}

// Component tags every record with the emitting component
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var global = NewDefault()

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the global logger
func Global() *Logger {
	return global
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	global.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	global.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	global.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	global.Error(msg, args...)
}
