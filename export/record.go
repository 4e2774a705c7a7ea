package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFPS is the frame rate of a recording that does not set one.
const DefaultFPS = 30

// ErrStopped is returned by Capture after Stop.
var ErrStopped = errors.New("export: recording stopped")

// Recording describes a numbered image sequence.
type Recording struct {
	Dir    string
	Width  uint32
	Height uint32
	FPS    int
	Format Format
}

// Recorder captures one slot at a fixed frame rate into Dir as
// frame-000000.tiff, frame-000001.tiff and so on.
//
// Frames fall due on a wall-clock schedule, but the shader time of frame n
// is the time of frame 0 plus n/FPS. The sequence therefore plays back
// evenly at FPS even when capturing cannot keep up. Capture must be called
// from the render thread; files are written in the background.
type Recorder struct {
	exp      *Exporter
	rec      Recording
	interval time.Duration

	// Render thread state.
	next     time.Time
	start    float32
	captured int
	stopped  bool

	written atomic.Int64
	pending sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Record validates r, creates its directory and returns a recorder that
// shares the exporter's offscreen path and writers.
func (e *Exporter) Record(r Recording) (*Recorder, error) {
	if r.Width == 0 || r.Height == 0 {
		return nil, fmt.Errorf("export: recording size %dx%d", r.Width, r.Height)
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, r.Width, r.Height)
	}
	if r.FPS <= 0 {
		r.FPS = DefaultFPS
	}
	if r.Format != FormatTIFF && r.Format != FormatPNG {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, r.Format)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	slogger().Info("export: recording", "dir", r.Dir, "width", r.Width, "height", r.Height, "fps", r.FPS)
	return &Recorder{
		exp:      e,
		rec:      r,
		interval: time.Second / time.Duration(r.FPS),
	}, nil
}

// Path returns the file of frame n.
func (r *Recorder) Path(n int) string {
	return filepath.Join(r.rec.Dir, fmt.Sprintf("frame-%06d.%s", n, r.rec.Format))
}

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.rec.Dir }

// Due reports whether a frame should be captured at now.
func (r *Recorder) Due(now time.Time) bool {
	return !r.stopped && (r.captured == 0 || !now.Before(r.next))
}

// Capture renders the next frame of the sequence if one is due at now and
// reports whether it did. Path, size and timing of req are set by the
// recorder; slot, mouse and parameters are taken as given.
func (r *Recorder) Capture(now time.Time, req Request) (bool, error) {
	if r.stopped {
		return false, ErrStopped
	}
	if !r.Due(now) {
		return false, nil
	}
	n := r.captured
	if n == 0 {
		r.start = req.Frame.Time
		r.next = now
	}
	// After a stall the schedule restarts from now instead of bursting.
	if r.next = r.next.Add(r.interval); r.next.Before(now) {
		r.next = now.Add(r.interval)
	}

	step := 1 / float32(r.rec.FPS)
	req.Path = r.Path(n)
	req.Width, req.Height = r.rec.Width, r.rec.Height
	req.Frame.Time = r.start + float32(n)*step
	req.Frame.TimeDelta = step
	req.Frame.Frame = uint32(n) //nolint:gosec // frame counts stay far below 2^32

	img, err := r.exp.Capture(req)
	if err != nil {
		return false, err
	}
	r.captured++
	r.pending.Add(1)
	r.exp.group.Go(func() error {
		defer r.pending.Done()
		if err := WriteFile(req.Path, img); err != nil {
			slogger().Warn("export: recording frame", "path", req.Path, "err", err)
			r.errMu.Lock()
			if r.err == nil {
				r.err = err
			}
			r.errMu.Unlock()
			return nil
		}
		r.written.Add(1)
		return nil
	})
	return true, nil
}

// Captured returns how many frames have been rendered.
func (r *Recorder) Captured() int { return r.captured }

// Written returns how many frames are on disk.
func (r *Recorder) Written() int { return int(r.written.Load()) }

// Stop ends the recording, waits for its pending writes and returns the
// number of frames written with the first write error. Safe to call more
// than once.
func (r *Recorder) Stop() (int, error) {
	if !r.stopped {
		r.stopped = true
		slogger().Info("export: recording stopped", "dir", r.rec.Dir, "frames", r.captured)
	}
	r.pending.Wait()
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.Written(), r.err
}
