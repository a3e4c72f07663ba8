// Package logger is the process-wide structured logger. Records go through
// log/slog, either as JSON or as colored text lines; level and format can be
// changed at runtime by a configuration reload.
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

// Level is a minimum severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{LevelDebug: "DEBUG", LevelInfo: "INFO", LevelWarn: "WARN", LevelError: "ERROR"}

var slogLevels = [...]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) slogLevel() slog.Level {
	if l < LevelDebug || l > LevelError {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

// ParseLevel converts a level name, in any case, into a Level. "WARNING" is
// accepted for WARN. Unknown names report false.
func ParseLevel(name string) (Level, bool) {
	name = strings.ToUpper(name)
	if name == "WARNING" {
		return LevelWarn, true
	}
	for l, n := range levelNames {
		if n == name {
			return Level(l), true
		}
	}
	return LevelInfo, false
}

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value

	mu       sync.RWMutex
	slogger  *slog.Logger
	output   io.Writer = os.Stderr
	useColor bool
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")
	useColor = isTerminal(os.Stderr.Fd())
	reconfigure()
}

func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: GetLevel().slogLevel()}
	if format, _ := currentFormat.Load().(string); format == "json" {
		slogger = slog.New(slog.NewJSONHandler(output, opts))
		return
	}
	slogger = slog.New(NewColorTextHandler(output, opts, useColor))
}

// openOutput resolves an output name to a writer and whether it is a
// terminal.
func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open log file %q: %w", name, err)
	}
	return f, false, nil
}

// Init applies cfg. Empty fields keep the current setting.
func Init(cfg Config) error {
	if cfg.Output == "" {
		apply(cfg.Level, cfg.Format)
		return nil
	}
	w, color, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	InitWithWriter(w, cfg.Level, cfg.Format, color)
	return nil
}

// InitWithWriter directs output to w. Used by tests to capture log lines.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output, useColor = w, enableColor
	mu.Unlock()
	apply(level, format)
}

func apply(level, format string) {
	if l, ok := ParseLevel(level); ok {
		currentLevel.Store(int32(l))
	}
	if f := strings.ToLower(format); f == "text" || f == "json" {
		currentFormat.Store(f)
	}
	reconfigure()
}

// SetLevel sets the minimum level. Invalid names are ignored.
func SetLevel(level string) {
	if _, ok := ParseLevel(level); ok {
		apply(level, "")
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetFormat switches between "text" and "json". Other values are ignored.
func SetFormat(format string) {
	apply("", format)
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func logAt(ctx context.Context, l Level, msg string, args []any) {
	if l < GetLevel() {
		return
	}
	args = appendContextFields(ctx, args)
	getLogger().Log(ctx, l.slogLevel(), msg, args...)
}

// Debug logs key/value pairs or slog.Attr values at debug level.
func Debug(msg string, args ...any) { logAt(context.Background(), LevelDebug, msg, args) }

func Info(msg string, args ...any) { logAt(context.Background(), LevelInfo, msg, args) }

func Warn(msg string, args ...any) { logAt(context.Background(), LevelWarn, msg, args) }

func Error(msg string, args ...any) { logAt(context.Background(), LevelError, msg, args) }

// DebugCtx logs at debug level, prepending the LogContext fields carried by
// ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelDebug, msg, args) }

func InfoCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelInfo, msg, args) }

func WarnCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelWarn, msg, args) }

func ErrorCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelError, msg, args) }

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 10+len(args))
	for _, f := range []struct {
		key string
		val string
	}{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyOperation, lc.Operation},
		{KeyServer, lc.Server},
	} {
		if f.val != "" {
			fields = append(fields, f.key, f.val)
		}
	}
	if lc.FileID != 0 {
		fields = append(fields, KeyFileID, lc.FileID)
	}
	return append(fields, args...)
}

// With returns a logger that adds args to every record.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
