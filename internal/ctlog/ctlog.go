// Package ctlog configures the copytool's structured logging: a log/slog
// logger with syslog-flavored levels layered on top of the stock Debug/
// Info/Warn/Error set, the way rclone's fs/log package extends slog.Level
// with Notice/Critical/Alert/Emergency.
package ctlog

import (
	"context"
	"log/slog"
	"os"
)

// Custom levels, positioned relative to the stock slog levels the same way
// rclone's fs.SlogLevelNotice/Critical/Alert/Emergency are: Notice sits
// between Info and Warn; Critical/Alert/Emergency sit above Error, in
// increasing severity.
const (
	LevelNotice    = slog.LevelInfo + 2
	LevelCritical  = slog.LevelError + 4
	LevelAlert     = slog.LevelError + 8
	LevelEmergency = slog.LevelError + 12
)

func levelString(l slog.Level) string {
	switch l {
	case LevelNotice:
		return "NOTICE"
	case LevelCritical:
		return "CRITICAL"
	case LevelAlert:
		return "ALERT"
	case LevelEmergency:
		return "EMERGENCY"
	default:
		return l.String()
	}
}

// replaceLevel renders the custom levels by name instead of slog's default
// "INFO+2"-style numeric offset rendering.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	l, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	a.Value = slog.StringValue(levelString(l))
	return a
}

// LevelForVerbosity maps the copytool's signed verbosity count (-v/-q
// repeated on the command line) to a slog.Level: 0 is Notice, each -v
// lowers the threshold one step (Info, then Debug) and each -q raises it
// one step (Warn, then Error), matching ct_parseopts's opt.o_verbose
// increment/decrement.
func LevelForVerbosity(v int) slog.Level {
	switch {
	case v >= 2:
		return slog.LevelDebug
	case v == 1:
		return slog.LevelInfo
	case v == 0:
		return LevelNotice
	case v == -1:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// New builds a logger writing to w at the level implied by verbosity.
func New(w *os.File, verbosity int) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       LevelForVerbosity(verbosity),
		ReplaceAttr: replaceLevel,
	})
	return slog.New(h)
}

// Helpers mirroring the original's CT_TRACE/CT_ERROR naming, so call sites
// read the same way the C source did.

func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func Notice(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelNotice, msg, args...)
}

func Warn(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func Error(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), slog.LevelError, msg, args...)
}

func Critical(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}
