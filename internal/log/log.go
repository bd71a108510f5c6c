package log

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	lv   = new(slog.LevelVar) // default info
	opts = &slog.HandlerOptions{Level: lv}
	base atomic.Value // *slog.Logger
)

func init() {
	base.Store(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
}

// SetLevel changes the runtime log level.
func SetLevel(level slog.Level) {
	lv.Set(level)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// MakeDefault sets slog.Default() to this package's logger.
func MakeDefault() {
	slog.SetDefault(From())
}

// With returns a child logger with default keyvals.
func With(args ...any) *slog.Logger {
	return From().With(args...)
}

// From returns the current base logger.
func From() *slog.Logger {
	if l, _ := base.Load().(*slog.Logger); l != nil {
		return l
	}
	l := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	base.Store(l)
	return l
}

func Debug(msg string, args ...any) {
	From().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	From().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	From().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	From().Error(msg, args...)
}

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	From().Error(msg, args...)
	os.Exit(1)
}
