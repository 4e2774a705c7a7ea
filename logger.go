package liveshader

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/liveshader/export"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/render"
	"github.com/gogpu/liveshader/watch"
)

// nopHandler is a slog.Handler that discards everything. Enabled returns
// false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for liveshader and all its sub-packages.
// By default nothing is logged. Pass nil to restore silence.
//
// Log levels:
//   - [slog.LevelDebug]: state transitions (compiling, linking, resize)
//   - [slog.LevelInfo]: lifecycle and pipeline swaps
//   - [slog.LevelWarn]: compile and link failures, watch errors, skipped frames
//   - [slog.LevelError]: device loss
//
// Example:
//
//	liveshader.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	watch.SetLogger(l)
	pipeline.SetLogger(l)
	render.SetLogger(l)
	export.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
