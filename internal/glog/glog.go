// Package glog is a small leveled, key-value structured logger in the
// style of go-ethereum's log package (the lineage tos-network/gtos itself
// forks): Info/Warn/Error/Debug calls taking alternating key/value pairs,
// backed by the standard library's structured logger.
package glog

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-stack/stack"
)

// Logger is the interface every component logs through. Components take a
// Logger (or embed the package Root) rather than importing slog directly,
// so call sites read "log.Warn(msg, kv...)" exactly as in the teacher.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	h    *slog.Logger
	base []any
}

// New builds a Logger writing leveled text to w (os.Stderr if nil).
func New(w *os.File) Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &logger{h: h}
}

// Root is the process-wide default logger, mutated only at startup.
var Root Logger = New(os.Stderr)

func (l *logger) with(ctx []any) []any {
	if len(l.base) == 0 {
		return ctx
	}
	out := make([]any, 0, len(l.base)+len(ctx))
	out = append(out, l.base...)
	out = append(out, ctx...)
	return out
}

func (l *logger) Trace(msg string, ctx ...any) { l.h.Debug(msg, l.with(ctx)...) }
func (l *logger) Debug(msg string, ctx ...any) { l.h.Debug(msg, l.with(ctx)...) }
func (l *logger) Info(msg string, ctx ...any)  { l.h.Info(msg, l.with(ctx)...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.h.Warn(msg, l.with(ctx)...) }
func (l *logger) Error(msg string, ctx ...any) { l.h.Error(msg, l.with(ctx)...) }
func (l *logger) Crit(msg string, ctx ...any) {
	l.h.Log(context.Background(), slog.LevelError+4, msg, l.with(ctx)...)
}

func (l *logger) With(ctx ...any) Logger {
	return &logger{h: l.h, base: l.with(ctx)}
}

// Caller returns the calling frame's file:line, used by components that
// want to attach a caller tag to Crit-level logs (fatal/startup paths).
func Caller(skip int) string {
	c := stack.Caller(skip + 1)
	return c.String()
}

// Package-level convenience wrappers over Root, matching go-ethereum's
// log.Info/log.Warn/... free functions.
func Trace(msg string, ctx ...any) { Root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root.Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { Root.Crit(msg, ctx...) }
