package liveshader

import (
	"errors"

	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/render"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/liveshader/watch"
)

// Error types of the engine, usable with errors.As.
type (
	// WatchError reports a watched path that cannot be read. Watching
	// continues.
	WatchError = watch.Error

	// CompileError carries the diagnostic of a failed compile. The previous
	// pipeline stays in use.
	CompileError = shader.CompileError

	// LinkError reports compiled stages that could not be linked.
	LinkError = pipeline.LinkError

	// SubmissionError describes a skipped frame.
	SubmissionError = render.SubmissionError

	// DeviceLostError is fatal: the engine must stop.
	DeviceLostError = render.DeviceLostError
)

var (
	// ErrNoShaders is returned by New without shader paths.
	ErrNoShaders = errors.New("liveshader: no shader paths")

	// ErrNotStarted is returned by Frame and Paint before Start.
	ErrNotStarted = errors.New("liveshader: engine not started")

	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("liveshader: engine already started")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("liveshader: engine stopped")
)

// IsFatal reports whether err means the GPU device is gone.
func IsFatal(err error) bool {
	var dle *DeviceLostError
	return errors.As(err, &dle)
}
