package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file created inside Options.Dir.
const LogFileName = "portaldocs.log"

// Options selects the sink and verbosity of a Logger.
type Options struct {
	// Dir enables JSON file logging to {Dir}/portaldocs.log. Empty logs to Stderr.
	Dir string
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string
	// Rotation applies to the file sink only.
	Rotation RotationConfig
	// Stderr overrides the console sink, mostly for tests.
	Stderr io.Writer
	// Color forces colour on or off for the console sink; nil detects a TTY.
	Color *bool
}

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	sink   *sink
}

// sink is shared by a Logger and every child derived from it.
type sink struct {
	mu     sync.Mutex
	writer *RotatingWriter
}

// New creates a Logger according to opts.
func New(opts Options) (*Logger, error) {
	level := parseLevel(opts.Level)

	if opts.Dir != "" {
		return NewLogger(opts.Dir, opts.Level, opts.Rotation)
	}

	w := opts.Stderr
	color := false
	if w == nil {
		w = colorable.NewColorable(os.Stderr)
		color = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	}
	if opts.Color != nil {
		color = *opts.Color
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !color,
	})
	return &Logger{logger: slog.New(handler), sink: &sink{}}, nil
}

// NewLogger creates a Logger that appends JSON records to {dir}/portaldocs.log,
// rotating it according to rotation.
func NewLogger(dir, level string, rotation RotationConfig) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), rotation)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(rw, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		sink:   &sink{writer: rw},
	}, nil
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithDocument returns a child Logger tagging every record with the document name.
func (l *Logger) WithDocument(name string) *Logger {
	return l.With("document", name)
}

// WithCommand returns a child Logger tagging every record with the CLI command.
func (l *Logger) WithCommand(command string) *Logger {
	return l.With("command", command)
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), sink: l.sink}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Close flushes and closes the log file. It is a no-op for console loggers
// and for repeated calls.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.writer == nil {
		return nil
	}
	err := l.sink.writer.Close()
	l.sink.writer = nil
	return err
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		sink:   &sink{},
	}
}

// ParseLevel normalizes a level string to one of the Level constants.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
