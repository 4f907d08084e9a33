// Package logger is the process-wide structured logger. It wraps log/slog
// with a colored text handler for terminals and a JSON handler for
// collectors. The level can change at runtime.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is a log severity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// destination is where records go and how they are rendered.
type destination struct {
	w     io.Writer
	color bool
	json  bool
}

var (
	// level is shared by every handler so SetLevel also applies to loggers
	// derived with With.
	level = new(slog.LevelVar)

	mu      sync.Mutex
	dest    = destination{w: os.Stdout, color: isTerminal(os.Stdout.Fd())}
	current atomic.Pointer[slog.Logger]
)

func init() {
	install(dest)
}

// install builds the handler for d. Callers hold mu or run during init.
func install(d destination) {
	dest = d
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if d.json {
		h = slog.NewJSONHandler(d.w, opts)
	} else {
		h = NewColorTextHandler(d.w, opts, d.color)
	}
	current.Store(slog.New(h))
}

// Init applies cfg. Output can be "stdout", "stderr", or a file path;
// empty fields keep the current setting.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	d := dest
	switch out := strings.ToLower(cfg.Output); out {
	case "":
	case "stdout":
		d.w, d.color = os.Stdout, isTerminal(os.Stdout.Fd())
	case "stderr":
		d.w, d.color = os.Stderr, isTerminal(os.Stderr.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		d.w, d.color = f, false
	}

	if cfg.Format != "" {
		json, ok := parseFormat(cfg.Format)
		if !ok {
			return fmt.Errorf("invalid log format %q", cfg.Format)
		}
		d.json = json
	}
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level.Set(l)
	}

	install(d)
	return nil
}

// InitWithWriter sends uncolored output to w. Empty level or format keep the
// current setting.
func InitWithWriter(w io.Writer, level, format string) error {
	if err := Init(Config{Level: level, Format: format}); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	d := dest
	d.w, d.color = w, false
	install(d)
	return nil
}

// SetLevel sets the minimum log level. Invalid names are ignored.
func SetLevel(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.Set(l)
	}
}

// GetLevel returns the current minimum log level name
func GetLevel() string {
	return level.Level().String()
}

// ParseLevel validates a level name. Accepted names are DEBUG, INFO, WARN
// and ERROR, case-insensitively.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
}

// SetFormat switches between text and json. Invalid formats are ignored.
func SetFormat(format string) {
	json, ok := parseFormat(format)
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	d := dest
	d.json = json
	install(d)
}

func parseFormat(format string) (json bool, ok bool) {
	switch strings.ToLower(format) {
	case "text":
		return false, true
	case "json":
		return true, true
	default:
		return false, false
	}
}

// Debug logs at debug level: Debug("message", "key1", value1, ...)
func Debug(msg string, args ...any) { current.Load().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { current.Load().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { current.Load().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { current.Load().Error(msg, args...) }

// Log logs at the given level. Used where the severity is computed, such as
// state transitions whose level depends on the error that caused them.
func Log(l Level, msg string, args ...any) {
	current.Load().Log(context.Background(), l, msg, args...)
}

// DebugCtx logs at debug level with the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logCtx(ctx, LevelDebug, msg, args)
}

// InfoCtx logs at info level with the LogContext fields of ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logCtx(ctx, LevelInfo, msg, args)
}

// WarnCtx logs at warn level with the LogContext fields of ctx.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logCtx(ctx, LevelWarn, msg, args)
}

func logCtx(ctx context.Context, l Level, msg string, args []any) {
	lg := current.Load()
	if ctx == nil {
		ctx = context.Background()
	}
	if !lg.Enabled(ctx, l) {
		return
	}
	lg.Log(ctx, l, msg, FromContext(ctx).prepend(args)...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return current.Load().With(args...)
}
