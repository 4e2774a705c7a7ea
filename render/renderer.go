// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/resource"
	"github.com/gogpu/liveshader/surface"
	"github.com/gogpu/wgpu/hal"
)

// Presenter hands out surface frames. surface.Presenter and
// surface.Headless implement it.
type Presenter interface {
	Configure(w, h uint32) error
	AcquireFrame() (*surface.Frame, error)
	Present(f *surface.Frame) error
	Discard(f *surface.Frame)

	// Format may change after Configure.
	Format() gputypes.TextureFormat
}

// Compositor draws on top of the finished shader image, after it has been
// copied to the surface frame.
type Compositor interface {
	Composite(enc hal.CommandEncoder, f *surface.Frame) error
	SetFormat(format gputypes.TextureFormat) error
}

// StatsReporter receives frame statistics after every presented frame.
type StatsReporter interface {
	ReportFrameStats(fps float64, frameTime time.Duration)
}

// ParamSource supplies user parameters for the uniform block.
type ParamSource interface {
	Values() []float32
}

// PipelineSource is the part of pipeline.Manager the renderer uses.
type PipelineSource interface {
	Current(slot string) *pipeline.Pipeline
	Collect(completed uint64) int
	Rebuild()
}

// DefaultFallbackColor is shown while no pipeline has ever compiled.
var DefaultFallbackColor = gputypes.Color{R: 0.08, G: 0.02, B: 0.10, A: 1}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	fallback   gputypes.Color
	compositor Compositor
	stats      StatsReporter
	params     ParamSource
	slot       string
	fpsAlpha   float32
}

func defaultOptions() options {
	return options{
		fallback: DefaultFallbackColor,
		fpsAlpha: 0.1,
	}
}

// WithFallbackColor sets the colour shown when no pipeline is available.
func WithFallbackColor(c gputypes.Color) Option {
	return func(o *options) { o.fallback = c }
}

// WithCompositor sets the overlay drawn over every frame.
func WithCompositor(c Compositor) Option {
	return func(o *options) { o.compositor = c }
}

// WithStatsReporter sets the receiver of per-frame statistics.
func WithStatsReporter(r StatsReporter) Option {
	return func(o *options) { o.stats = r }
}

// WithParams sets the user parameter source.
func WithParams(p ParamSource) Option {
	return func(o *options) { o.params = p }
}

// WithSlot selects the initial program slot.
func WithSlot(slot string) Option {
	return func(o *options) { o.slot = slot }
}

type inflight struct {
	submission uint64
	cmd        hal.CommandBuffer
}

// Renderer runs the per-frame loop: capture the current pipeline, upload
// uniforms, record, submit, composite and present. Frame, Resize and Close
// must be called from one thread. The setters are safe from any goroutine.
type Renderer struct {
	dev       hal.Device
	queue     hal.Queue
	res       *resource.Manager
	pipes     PipelineSource
	presenter Presenter
	opts      options

	slot   atomic.Pointer[string]
	paused atomic.Bool
	redraw atomic.Bool

	mouseMu sync.Mutex
	mouse   [4]float32

	// Render thread state.
	started   bool
	last      time.Time
	elapsed   time.Duration
	frame     uint32
	drawn     bool
	suspended bool
	pending   []inflight
	fps       fpsMeter

	statsMu sync.Mutex
	stats   Stats
}

// NewRenderer creates a renderer. Call Resize before the first Frame.
func NewRenderer(dev hal.Device, queue hal.Queue, res *resource.Manager, pipes PipelineSource, presenter Presenter, opts ...Option) *Renderer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Renderer{
		dev:       dev,
		queue:     queue,
		res:       res,
		pipes:     pipes,
		presenter: presenter,
		opts:      o,
		fps:       newFPSMeter(o.fpsAlpha),
	}
	slot := o.slot
	r.slot.Store(&slot)
	return r
}

// Resize resizes the targets and the surface. A zero size suspends
// rendering until the next non-zero Resize.
func (r *Renderer) Resize(w, h uint32) error {
	if w == 0 || h == 0 {
		slogger().Debug("render: suspended", "width", w, "height", h)
		r.suspended = true
		return nil
	}
	if err := r.res.Resize(w, h); err != nil {
		return err
	}
	if err := r.presenter.Configure(w, h); err != nil {
		return err
	}
	if err := r.syncFormat(); err != nil {
		return err
	}
	r.suspended = false
	r.drawn = false
	slogger().Debug("render: resized", "width", w, "height", h)
	return nil
}

// syncFormat follows a surface format change: the targets are recreated
// and every slot is rebuilt. Until a rebuilt pipeline is published the
// fallback colour is shown.
func (r *Renderer) syncFormat() error {
	format := r.presenter.Format()
	changed, err := r.res.SetFormat(format)
	if err != nil || !changed {
		return err
	}
	slogger().Info("render: surface format changed", "format", format)
	if r.opts.compositor != nil {
		if err := r.opts.compositor.SetFormat(format); err != nil {
			return err
		}
	}
	r.pipes.Rebuild()
	r.drawn = false
	return nil
}

// Frame renders and presents one frame. Transient failures skip the frame
// and return nil; the only error returned is *DeviceLostError, or
// ErrNoTargets before the first Resize.
func (r *Renderer) Frame(now time.Time) error {
	r.reclaim()
	if r.suspended {
		return nil
	}
	tg := r.res.Targets()
	if !tg.Valid() {
		return ErrNoTargets
	}

	var wall time.Duration
	if r.started {
		wall = max(now.Sub(r.last), 0)
	}
	r.started, r.last = true, now
	paused := r.paused.Load()
	dt := wall
	if paused {
		dt = 0
	}
	r.elapsed += dt

	slot := *r.slot.Load()
	p := r.pipes.Current(slot)
	if p != nil && (p.Status() != pipeline.StatusReady || p.Format != tg.Format) {
		p = nil
	}

	u := resource.UniformFrame{
		Time:       float32(r.elapsed.Seconds()),
		TimeDelta:  float32(dt.Seconds()),
		Frame:      r.frame,
		Resolution: [2]float32{float32(tg.Width), float32(tg.Height)},
		Mouse:      r.Mouse(),
	}
	if r.opts.params != nil {
		u.Params = r.opts.params.Values()
	}
	if err := r.res.WriteUniforms(&u); err != nil {
		return r.skip("uniforms", err)
	}

	frame, err := r.presenter.AcquireFrame()
	if err != nil {
		return r.skip("acquire", err)
	}

	draw := r.redraw.Swap(false) || !paused || !r.drawn
	cmd, err := r.record(tg, frame, p, draw)
	if err != nil {
		r.presenter.Discard(frame)
		return r.skip("record", err)
	}

	idx, err := r.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		r.dev.FreeCommandBuffer(cmd)
		r.presenter.Discard(frame)
		return r.skip("submit", err)
	}
	r.pending = append(r.pending, inflight{submission: idx, cmd: cmd})
	if p != nil && draw {
		p.MarkUsed(idx)
	}
	if draw {
		r.drawn = true
	}

	if err := r.presenter.Present(frame); err != nil {
		return r.skip("present", err)
	}

	r.frame++
	r.finish(wall, slot, p, paused)
	return nil
}

// record encodes the shader pass, the copy to the surface frame and the
// overlay. Without a pipeline the target is cleared to the fallback colour.
func (r *Renderer) record(tg resource.Targets, f *surface.Frame, p *pipeline.Pipeline, draw bool) (hal.CommandBuffer, error) {
	enc, err := r.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "liveshader_frame"})
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding("liveshader_frame"); err != nil {
		enc.DiscardEncoding()
		return nil, err
	}

	if draw {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "liveshader_scene",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       tg.View,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: r.opts.fallback,
			}},
		})
		if p != nil {
			pass.SetPipeline(p.Raw())
			pass.SetBindGroup(0, r.res.BindGroup(), nil)
			pass.SetViewport(0, 0, float32(tg.Width), float32(tg.Height), 0, 1)
			pass.Draw(3, 1, 0, 0)
		}
		pass.End()
	}

	enc.TransitionTextures([]hal.TextureBarrier{
		{Texture: tg.Color, Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		}},
		{Texture: f.Texture, Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopyDst,
		}},
	})
	enc.CopyTextureToTexture(tg.Color, f.Texture, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: tg.Color},
		DstBase: hal.ImageCopyTexture{Texture: f.Texture},
		Size: hal.Extent3D{
			Width:              min(tg.Width, f.Width),
			Height:             min(tg.Height, f.Height),
			DepthOrArrayLayers: 1,
		},
	}})
	enc.TransitionTextures([]hal.TextureBarrier{
		{Texture: tg.Color, Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		}},
		{Texture: f.Texture, Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopyDst,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		}},
	})

	if r.opts.compositor != nil {
		if err := r.opts.compositor.Composite(enc, f); err != nil {
			slogger().Warn("render: overlay failed", "err", err)
		}
	}
	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		return nil, err
	}
	return cmd, nil
}

// skip classifies a failed frame. Device and surface loss are returned,
// everything else is counted and swallowed.
func (r *Renderer) skip(stage string, err error) error {
	if isDeviceLost(err) {
		slogger().Error("render: device lost", "stage", stage, "err", err)
		return &DeviceLostError{Stage: stage, Err: err}
	}

	var skipErr error = &SubmissionError{Stage: stage, Err: err}
	switch {
	case errors.Is(err, hal.ErrSurfaceOutdated):
		tg := r.res.Targets()
		cerr := r.presenter.Configure(tg.Width, tg.Height)
		if cerr == nil {
			cerr = r.syncFormat()
		}
		if cerr != nil {
			if isDeviceLost(cerr) {
				return &DeviceLostError{Stage: "reconfigure", Err: cerr}
			}
			slogger().Warn("render: reconfigure failed", "err", cerr)
		}
		slogger().Debug("render: surface outdated, reconfigured", "stage", stage)
	case errors.Is(err, hal.ErrTimeout):
		r.statsMu.Lock()
		r.stats.Timeouts++
		r.statsMu.Unlock()
		slogger().Debug("render: acquire timeout", "stage", stage)
	default:
		slogger().Warn("render: frame skipped", "stage", stage, "err", err)
	}

	r.statsMu.Lock()
	r.stats.Skipped++
	r.stats.LastSkip = skipErr
	r.statsMu.Unlock()
	return nil
}

// reclaim frees command buffers and retired pipelines the GPU is done with.
func (r *Renderer) reclaim() {
	done := r.queue.PollCompleted()
	keep := r.pending[:0]
	for _, f := range r.pending {
		if f.submission <= done {
			r.dev.FreeCommandBuffer(f.cmd)
		} else {
			keep = append(keep, f)
		}
	}
	clear(r.pending[len(keep):])
	r.pending = keep
	r.pipes.Collect(done)
}

func (r *Renderer) finish(wall time.Duration, slot string, p *pipeline.Pipeline, paused bool) {
	r.statsMu.Lock()
	s := &r.stats
	s.Frames++
	s.Slot = slot
	s.Paused = paused
	s.Generation = 0
	if p != nil {
		s.Generation = p.Generation
	}
	if wall > 0 {
		s.FrameTime = wall
	}
	s.FPS = float64(r.fps.add(wall))
	fps, frameTime := s.FPS, s.FrameTime
	r.statsMu.Unlock()

	if r.opts.stats != nil {
		r.opts.stats.ReportFrameStats(fps, frameTime)
	}
}

// Close waits for the GPU and frees outstanding command buffers.
func (r *Renderer) Close() {
	if err := r.dev.WaitIdle(); err != nil {
		slogger().Warn("render: wait idle", "err", err)
	}
	for _, f := range r.pending {
		r.dev.FreeCommandBuffer(f.cmd)
	}
	r.pending = nil
}

// SetPaused freezes or resumes time. While paused the shader pass is not
// re-run and the last image stays on screen.
func (r *Renderer) SetPaused(p bool) { r.paused.Store(p) }

// Paused reports whether time is frozen.
func (r *Renderer) Paused() bool { return r.paused.Load() }

// TogglePause flips the pause state and returns the new state.
func (r *Renderer) TogglePause() bool {
	for {
		old := r.paused.Load()
		if r.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// SetMouse sets the cursor position in pixels.
func (r *Renderer) SetMouse(x, y float32) {
	r.mouseMu.Lock()
	r.mouse[0], r.mouse[1] = x, y
	r.mouseMu.Unlock()
}

// SetClick records the position of the last click.
func (r *Renderer) SetClick(x, y float32) {
	r.mouseMu.Lock()
	r.mouse[2], r.mouse[3] = x, y
	r.mouseMu.Unlock()
}

// Mouse returns cursor x, y and last click x, y.
func (r *Renderer) Mouse() [4]float32 {
	r.mouseMu.Lock()
	defer r.mouseMu.Unlock()
	return r.mouse
}

// SetActiveSlot selects the program drawn from the next frame on.
func (r *Renderer) SetActiveSlot(slot string) {
	r.slot.Store(&slot)
	r.redraw.Store(true)
	slogger().Info("render: active slot", "slot", slot)
}

// ActiveSlot returns the selected program slot.
func (r *Renderer) ActiveSlot() string { return *r.slot.Load() }

// Elapsed returns shader time: wall time since the first frame minus
// paused time.
func (r *Renderer) Elapsed() time.Duration { return r.elapsed }

// Stats returns a snapshot of the counters.
func (r *Renderer) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
