// Package telemetry wraps log/slog with the formatted-logging helpers used across
// the adapters and pipeline. Init is called once from main; packages log through
// the package-level helpers.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var logger *slog.Logger

func Init(level slog.Level) {
	logger = slog.New(&lineHandler{w: os.Stderr, level: level})
	slog.SetDefault(logger)
}

func L() *slog.Logger {
	if logger == nil {
		Init(slog.LevelInfo)
	}
	return logger
}

func Infof(format string, args ...any)  { L().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { L().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { L().Error(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { L().Debug(fmt.Sprintf(format, args...)) }

// lineHandler outputs: [2026-02-21 17:10:39] LEVEL message
type lineHandler struct {
	w     io.Writer
	level slog.Level
	mu    sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.w, "[%s] %s %s\n", ts, r.Level.String(), r.Message)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *lineHandler) WithGroup(name string) slog.Handler       { return h }
