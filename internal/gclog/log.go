// Package gclog is the shared logger for the allocator, mapper, and host
// channel packages.
package gclog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// nopHandler silently discards all log records. Enabled returns false so
// the caller skips message formatting entirely, making disabled logging
// effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger used by the allocator, mapper, and host
// channel. By default the library produces no log output. Pass nil to
// restore the default silent behavior.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the currently configured logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// Level names the six verbosity tiers gated by
// ro.boot.qemu.gralloc.debug_level.
type Level int

const (
	LevelError Level = iota
	LevelAlloc
	LevelImport
	LevelLock
	LevelFlush
	LevelMetadata
)

// Enabled reports whether the given tier should log, given the configured
// debug level (0-5). Level N enables tiers 0..N, in the order
// ERROR, ALLOC, IMPORT, LOCK, FLUSH, METADATA — so level 5 enables every
// tier including METADATA.
func Enabled(configured int, tier Level) bool {
	return configured >= int(tier)
}

// Logf logs at slog.LevelDebug when the tier is enabled for the configured
// debug level. format/args follow fmt.Sprintf conventions, not slog's
// key-value attrs — this mirrors the printf-style ALOGD/ALOGE call sites
// it replaces. It is a no-op (and formats nothing) when disabled.
func Logf(configured int, tier Level, format string, args ...any) {
	if !Enabled(configured, tier) {
		return
	}
	Logger().Debug(fmt.Sprintf(format, args...))
}
