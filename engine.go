package liveshader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/export"
	"github.com/gogpu/liveshader/overlay"
	"github.com/gogpu/liveshader/params"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/render"
	"github.com/gogpu/liveshader/resource"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/liveshader/watch"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"
)

// moduleCacheSize is how many compiled stages are kept across rebuilds.
const moduleCacheSize = 64

// Engine wires the watcher, the pipeline manager and the frame renderer
// around a device supplied by the host.
//
// Frame, Resize and Paint must be called from the render thread. The other
// methods are safe from any goroutine.
type Engine struct {
	opts      options
	dev       hal.Device
	queue     hal.Queue
	format    gputypes.TextureFormat
	presenter render.Presenter
	params    *params.Set

	// Set by Start.
	res      *resource.Manager
	pipes    *pipeline.Manager
	renderer *render.Renderer
	overlay  *overlay.Overlay
	exporter *export.Exporter
	watcher  *watch.Watcher

	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	started bool
	stopped bool
	stopErr error

	slotMu sync.Mutex
	slots  []string

	sizeMu      sync.Mutex
	pendingSize *[2]uint32

	paintPending atomic.Bool
	recordToggle atomic.Bool
	recording    atomic.Bool
	fatal        atomic.Pointer[error]

	// recorder is owned by the render thread.
	recorder *export.Recorder
}

// New validates the options and extracts the HAL device from provider.
// Nothing is allocated on the GPU until Start.
func New(provider gpucontext.DeviceProvider, presenter render.Presenter, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.shaders) == 0 {
		return nil, ErrNoShaders
	}
	if presenter == nil {
		return nil, errors.New("liveshader: nil presenter")
	}
	dev, queue, err := render.HAL(provider)
	if err != nil {
		return nil, err
	}
	format := o.format
	if format == gputypes.TextureFormatUndefined {
		format = provider.SurfaceFormat()
	}
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}
	ps, err := params.NewSet(o.params...)
	if err != nil {
		return nil, err
	}
	if o.compiler == nil {
		o.compiler = shader.NewNagaCompiler(
			shader.WithValidation(o.validate),
			shader.WithDebugInfo(o.shaderDebug),
		)
	}
	return &Engine{
		opts:      o,
		dev:       dev,
		queue:     queue,
		format:    format,
		presenter: presenter,
		params:    ps,
	}, nil
}

// Start creates the GPU resources, registers every program found under
// the shader paths, compiles them once and starts watching. A failure
// leaves nothing allocated and the engine cannot be started again.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.stopped:
		return ErrStopped
	case e.started:
		return ErrStarted
	}
	defer func() {
		if err != nil {
			e.release()
			e.stopped = true
		}
	}()

	programs, err := pipeline.Discover(e.opts.shaders)
	if err != nil {
		return fmt.Errorf("liveshader: %w", err)
	}
	var wopts []watch.Option
	wopts = append(wopts, watch.WithDebounce(e.opts.debounce))
	if len(e.opts.extensions) > 0 {
		wopts = append(wopts, watch.WithExtensions(e.opts.extensions...))
	}
	if e.watcher, err = watch.New(e.opts.shaders, wopts...); err != nil {
		return fmt.Errorf("liveshader: %w", err)
	}

	if e.res, err = resource.NewManager(e.dev, e.queue, e.format); err != nil {
		return fmt.Errorf("liveshader: %w", err)
	}

	var fan reporters
	if e.opts.overlay {
		e.overlay, err = overlay.New(e.dev, e.queue, e.format,
			overlay.WithCompiler(e.opts.compiler), overlay.WithStats(e.opts.stats))
		if err != nil {
			return fmt.Errorf("liveshader: %w", err)
		}
		fan = append(fan, e.overlay)
	}
	if e.opts.reporter != nil {
		fan = append(fan, e.opts.reporter)
	}

	e.pipes = pipeline.NewManager(e.dev, e.res, e.opts.compiler,
		pipeline.WithWorkers(e.opts.workers),
		pipeline.WithCompileTimeout(e.opts.compileTimeout),
		pipeline.WithReporter(fan),
		pipeline.WithModuleCache(moduleCacheSize),
	)
	for _, p := range programs {
		if err := e.pipes.Register(p); err != nil {
			return fmt.Errorf("liveshader: %w", err)
		}
		e.slots = append(e.slots, p.Slot)
	}
	e.pipes.Rebuild()

	slot := e.opts.slot
	if slot == "" || !slices.Contains(e.slots, slot) {
		slot = e.slots[0]
	}
	ropts := []render.Option{
		render.WithSlot(slot),
		render.WithFallbackColor(e.opts.fallback),
		render.WithStatsReporter(fan),
		render.WithParams(e.params),
	}
	if e.overlay != nil {
		ropts = append(ropts, render.WithCompositor(e.overlay))
	}
	e.renderer = render.NewRenderer(e.dev, e.queue, e.res, e.pipes, e.presenter, ropts...)
	e.exporter = export.New(e.dev, e.queue, e.res, e.pipes, export.WithWriters(e.opts.workers))

	if e.opts.width > 0 && e.opts.height > 0 {
		if err := e.renderer.Resize(e.opts.width, e.opts.height); err != nil {
			return fmt.Errorf("liveshader: %w", err)
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.group, wctx = errgroup.WithContext(wctx)
	e.group.Go(func() error { return e.dispatch(wctx) })

	e.started = true
	e.updateStatus()
	slogger().Info("liveshader: started", "slots", len(e.slots), "active", slot, "format", e.format,
		"watching", e.watcher.Paths(), "debounce", e.watcher.Debounce())
	return nil
}

// dispatch turns watch events into rebuilds.
func (e *Engine) dispatch(ctx context.Context) error {
	for ev := range e.watcher.Watch(ctx) {
		if ev.Err != nil {
			slogger().Warn("liveshader: watch error", "err", ev.Err)
			if errors.Is(ev.Err, watch.ErrUnreachable) {
				e.rescan()
			}
			continue
		}
		if e.pipes.Notify(ev.Path) {
			slogger().Debug("liveshader: change", "path", ev.Path, "op", ev.Op)
			continue
		}
		if ev.Op&(watch.OpCreate|watch.OpWrite|watch.OpRename) != 0 {
			e.rescan()
		}
	}
	return nil
}

// rescan registers programs created since Start and picks up vertex
// shaders added to or removed from known slots.
func (e *Engine) rescan() {
	programs, err := pipeline.Discover(e.opts.shaders)
	if err != nil {
		slogger().Debug("liveshader: rescan", "err", err)
		return
	}
	known := make(map[string]bool)
	for _, p := range e.pipes.Programs() {
		known[p.Slot] = true
	}
	for _, p := range programs {
		if known[p.Slot] {
			changed, err := e.pipes.Update(p)
			if err != nil {
				slogger().Warn("liveshader: update program", "slot", p.Slot, "err", err)
				continue
			}
			if changed {
				slogger().Info("liveshader: program files changed", "slot", p.Slot, "vertex", p.Vertex)
				e.build(p.Slot)
			}
			continue
		}
		if err := e.pipes.Register(p); err != nil {
			slogger().Warn("liveshader: new program", "slot", p.Slot, "err", err)
			continue
		}
		e.slotMu.Lock()
		e.slots = append(e.slots, p.Slot)
		e.slotMu.Unlock()
		slogger().Info("liveshader: new program", "slot", p.Slot)
		e.build(p.Slot)
	}
}

// build schedules a slot. Scheduling only fails once the engine is
// shutting down, which is not worth a warning.
func (e *Engine) build(slot string) {
	if err := e.pipes.Build(slot); err != nil && !errors.Is(err, pipeline.ErrClosed) {
		slogger().Warn("liveshader: schedule build", "slot", slot, "err", err)
	}
}

// Frame renders one frame. It returns a *DeviceLostError when the device
// is gone; the engine is unusable afterwards.
func (e *Engine) Frame() error {
	if err := e.ready(); err != nil {
		return err
	}
	if p := e.fatal.Load(); p != nil {
		return *p
	}
	e.sizeMu.Lock()
	size := e.pendingSize
	e.pendingSize = nil
	e.sizeMu.Unlock()
	if size != nil {
		if err := e.renderer.Resize(size[0], size[1]); err != nil {
			slogger().Warn("liveshader: resize", "err", err)
		}
	}
	if e.paintPending.Swap(false) {
		e.paintDefault()
	}
	now := time.Now()
	if e.recordToggle.Swap(false) {
		e.toggleRecording()
	}
	if e.recorder != nil {
		e.recordFrame(now)
	}
	err := e.renderer.Frame(now)
	if IsFatal(err) {
		e.fatal.Store(&err)
	}
	return err
}

// Resize changes the render size. Zero suspends rendering.
func (e *Engine) Resize(w, h uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.renderer.Resize(w, h)
}

// RequestResize records a size to apply at the start of the next Frame.
// Use it from event callbacks that may not run on the render thread.
func (e *Engine) RequestResize(w, h uint32) {
	e.sizeMu.Lock()
	e.pendingSize = &[2]uint32{w, h}
	e.sizeMu.Unlock()
}

// Paint renders the active slot at w x h and writes it to path in the
// background. A zero size selects the configured export size. The channel
// receives one Result.
func (e *Engine) Paint(ctx context.Context, path string, w, h uint32) <-chan export.Result {
	if w == 0 || h == 0 {
		w, h = e.opts.exportWidth, e.opts.exportHeight
	}
	if err := e.ready(); err != nil {
		out := make(chan export.Result, 1)
		out <- export.Result{Path: path, Width: w, Height: h, Err: err}
		close(out)
		return out
	}
	st := e.renderer.Stats()
	req := export.Request{
		Path:   path,
		Width:  w,
		Height: h,
		Slot:   e.renderer.ActiveSlot(),
		Frame: resource.UniformFrame{
			Time:   float32(e.renderer.Elapsed().Seconds()),
			Frame:  uint32(st.Frames),
			Mouse:  e.renderer.Mouse(),
			Params: e.params.Values(),
		},
	}
	src := e.exporter.Export(ctx, req)
	out := make(chan export.Result, 1)
	go func() {
		defer close(out)
		r := <-src
		if e.overlay != nil {
			if r.Err != nil {
				e.overlay.Notify("export failed: %v", r.Err)
			} else {
				e.overlay.Notify("saved %s (%dx%d)", filepath.Base(r.Path), r.Width, r.Height)
			}
		}
		out <- r
	}()
	return out
}

// RequestPaint asks the next Frame to export the active slot to the
// configured export directory.
func (e *Engine) RequestPaint() { e.paintPending.Store(true) }

func (e *Engine) paintDefault() {
	if err := os.MkdirAll(e.opts.exportDir, 0o755); err != nil {
		slogger().Warn("liveshader: export dir", "err", err)
		return
	}
	name := fmt.Sprintf("%s-%s.tiff", sanitize(e.renderer.ActiveSlot()), time.Now().Format("20060102-150405"))
	ch := e.Paint(context.Background(), filepath.Join(e.opts.exportDir, name), e.opts.exportWidth, e.opts.exportHeight)
	go func() { <-ch }()
}

// ToggleRecording starts or stops an image sequence recording of the
// active slot on the next Frame.
func (e *Engine) ToggleRecording() { e.recordToggle.Store(true) }

// Recording reports whether a recording is running.
func (e *Engine) Recording() bool { return e.recording.Load() }

func (e *Engine) toggleRecording() {
	if e.recorder != nil {
		e.stopRecording()
		return
	}
	base := e.opts.recordDir
	if base == "" {
		base = e.opts.exportDir
	}
	dir := filepath.Join(base, fmt.Sprintf("%s-%s", sanitize(e.renderer.ActiveSlot()), time.Now().Format("20060102-150405")))
	rec, err := e.exporter.Record(export.Recording{
		Dir:    dir,
		Width:  e.opts.recordWidth,
		Height: e.opts.recordHeight,
		FPS:    e.opts.recordFPS,
	})
	if err != nil {
		slogger().Warn("liveshader: recording", "err", err)
		if e.overlay != nil {
			e.overlay.Notify("recording failed: %v", err)
		}
		return
	}
	e.recorder = rec
	e.recording.Store(true)
	e.updateStatus()
	if e.overlay != nil {
		e.overlay.Notify("recording to %s", filepath.Base(dir))
	}
}

// recordFrame captures the next frame of the recording when one is due.
// A slot without a ready pipeline is skipped; other errors end the
// recording.
func (e *Engine) recordFrame(now time.Time) {
	st := e.renderer.Stats()
	_, err := e.recorder.Capture(now, export.Request{
		Slot: e.renderer.ActiveSlot(),
		Frame: resource.UniformFrame{
			Time:   float32(e.renderer.Elapsed().Seconds()),
			Frame:  uint32(st.Frames),
			Mouse:  e.renderer.Mouse(),
			Params: e.params.Values(),
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, export.ErrNoPipeline):
		slogger().Debug("liveshader: recording skipped frame", "err", err)
	default:
		slogger().Warn("liveshader: recording", "err", err)
		e.stopRecording()
	}
}

func (e *Engine) stopRecording() {
	rec := e.recorder
	e.recorder = nil
	e.recording.Store(false)
	n, err := rec.Stop()
	if err != nil {
		slogger().Warn("liveshader: recording", "dir", rec.Dir(), "err", err)
	}
	e.updateStatus()
	if e.overlay != nil {
		if err != nil {
			e.overlay.Notify("recording failed: %v", err)
		} else {
			e.overlay.Notify("recorded %d frames to %s", n, filepath.Base(rec.Dir()))
		}
	}
}

// RecordedFrames returns how many frames the running recording has
// captured, or zero. Call it from the render thread.
func (e *Engine) RecordedFrames() int {
	if e.recorder == nil {
		return 0
	}
	return e.recorder.Captured()
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '/' || c == '\\' || c == '#' || c == ':' {
			b[i] = '_'
		}
	}
	return string(b)
}

// Stop shuts the engine down: the watcher stops, pending exports finish,
// the GPU drains and every object is destroyed. Safe to call more than
// once; later calls return the first result.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return e.stopErr
	}
	e.stopped = true
	if !e.started {
		return nil
	}
	e.cancel()
	if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.stopErr = err
	}
	e.release()
	slogger().Info("liveshader: stopped")
	return e.stopErr
}

// release frees whatever Start created, in reverse order.
func (e *Engine) release() {
	if e.recorder != nil {
		e.stopRecording()
	}
	if e.exporter != nil {
		e.exporter.Wait()
	}
	if e.renderer != nil {
		e.renderer.Close()
	}
	if e.overlay != nil {
		e.overlay.Close()
	}
	if e.pipes != nil {
		e.pipes.Close()
	}
	if e.res != nil {
		e.res.Destroy()
	}
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.stopped:
		return ErrStopped
	case !e.started:
		return ErrNotStarted
	}
	return nil
}

// Slots returns the registered program slots.
func (e *Engine) Slots() []string {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	return slices.Clone(e.slots)
}

// ActiveSlot returns the slot being rendered.
func (e *Engine) ActiveSlot() string {
	if e.renderer == nil {
		return e.opts.slot
	}
	return e.renderer.ActiveSlot()
}

// SetSlot selects the slot to render.
func (e *Engine) SetSlot(slot string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !slices.Contains(e.Slots(), slot) {
		return fmt.Errorf("%w: %q", pipeline.ErrUnknownSlot, slot)
	}
	e.renderer.SetActiveSlot(slot)
	e.updateStatus()
	return nil
}

// CycleSlot moves the active slot forward (or backward for a negative
// step) and returns the new slot.
func (e *Engine) CycleSlot(step int) string {
	slots := e.Slots()
	if len(slots) == 0 || e.renderer == nil {
		return ""
	}
	i := slices.Index(slots, e.renderer.ActiveSlot())
	n := len(slots)
	next := slots[((i+step)%n+n)%n]
	e.renderer.SetActiveSlot(next)
	e.updateStatus()
	return next
}

// TogglePause freezes or resumes time and returns the new state.
func (e *Engine) TogglePause() bool {
	if e.renderer == nil {
		return false
	}
	p := e.renderer.TogglePause()
	e.updateStatus()
	return p
}

// SetPaused freezes or resumes time.
func (e *Engine) SetPaused(p bool) {
	if e.renderer != nil {
		e.renderer.SetPaused(p)
		e.updateStatus()
	}
}

// Paused reports whether time is frozen.
func (e *Engine) Paused() bool {
	return e.renderer != nil && e.renderer.Paused()
}

// SetMouse sets the cursor position in pixels.
func (e *Engine) SetMouse(x, y float32) {
	if e.renderer != nil {
		e.renderer.SetMouse(x, y)
	}
}

// SetClick records a click position.
func (e *Engine) SetClick(x, y float32) {
	if e.renderer != nil {
		e.renderer.SetClick(x, y)
	}
}

// Rebuild recompiles every slot.
func (e *Engine) Rebuild() {
	if e.pipes != nil {
		e.pipes.Rebuild()
	}
}

// Params returns the user parameters.
func (e *Engine) Params() *params.Set { return e.params }

// Status returns the build state of a slot.
func (e *Engine) Status(slot string) (pipeline.SlotStatus, bool) {
	if e.pipes == nil {
		return pipeline.SlotStatus{}, false
	}
	return e.pipes.Status(slot)
}

// Stats returns frame statistics.
func (e *Engine) Stats() render.Stats {
	if e.renderer == nil {
		return render.Stats{}
	}
	return e.renderer.Stats()
}

func (e *Engine) updateStatus() {
	if e.overlay == nil || e.renderer == nil {
		return
	}
	s := e.renderer.ActiveSlot()
	if e.renderer.Paused() {
		s += "  paused"
	}
	if e.recording.Load() {
		s += "  rec"
	}
	e.overlay.SetStatus(s)
}
