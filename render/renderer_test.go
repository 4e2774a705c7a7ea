// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/internal/gputest"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/resource"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/liveshader/surface"
	"github.com/gogpu/wgpu/hal"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type flakyPresenter struct {
	*surface.Headless
	acquireErr error
	configures int

	// format, when set, replaces the headless format after Configure.
	format gputypes.TextureFormat
}

func (p *flakyPresenter) Format() gputypes.TextureFormat {
	if p.format != gputypes.TextureFormatUndefined {
		return p.format
	}
	return p.Headless.Format()
}

func (p *flakyPresenter) Configure(w, h uint32) error {
	p.configures++
	return p.Headless.Configure(w, h)
}

func (p *flakyPresenter) AcquireFrame() (*surface.Frame, error) {
	if err := p.acquireErr; err != nil {
		p.acquireErr = nil
		return nil, err
	}
	return p.Headless.AcquireFrame()
}

type statsSink struct {
	calls int
	fps   float64
	ft    time.Duration
}

func (s *statsSink) ReportFrameStats(fps float64, ft time.Duration) {
	s.calls++
	s.fps, s.ft = fps, ft
}

type fixedParams []float32

func (p fixedParams) Values() []float32 { return p }

var stubCompiler = shader.CompilerFunc(func(src shader.Source) (*shader.Module, error) {
	entry := "fs_main"
	if src.Stage == shader.StageVertex {
		entry = shader.FullscreenVertexEntry
	}
	return &shader.Module{
		SPIRV:       []uint32{0x07230203, 0x00010300, 0, 1, 0},
		EntryPoint:  entry,
		Stage:       src.Stage,
		Fingerprint: src.Fingerprint,
	}, nil
})

type fixture struct {
	dev       *gputest.Device
	queue     *gputest.Queue
	res       *resource.Manager
	pipes     *pipeline.Manager
	presenter *flakyPresenter
	stats     *statsSink
	r         *Renderer
	frag      string
}

func newFixture(t *testing.T, manual bool, opts ...Option) *fixture {
	t.Helper()
	d, q := gputest.NewNoopDevice(t)
	f := &fixture{
		dev:   gputest.WrapDevice(d),
		queue: gputest.WrapQueue(q, manual),
		stats: &statsSink{},
	}
	var err error
	f.res, err = resource.NewManager(f.dev, f.queue, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	f.pipes = pipeline.NewManager(f.dev, f.res, stubCompiler, pipeline.WithWorkers(1))
	f.presenter = &flakyPresenter{Headless: surface.NewHeadless(f.dev, gputypes.TextureFormatBGRA8Unorm)}

	f.frag = filepath.Join(t.TempDir(), "plasma.wgsl")
	if err := os.WriteFile(f.frag, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.pipes.Register(pipeline.Program{Slot: "plasma", Fragment: f.frag}); err != nil {
		t.Fatal(err)
	}

	opts = append([]Option{WithSlot("plasma"), WithStatsReporter(f.stats)}, opts...)
	f.r = NewRenderer(f.dev, f.queue, f.res, f.pipes, f.presenter, opts...)
	t.Cleanup(func() {
		f.r.Close()
		f.pipes.Close()
		f.presenter.Close()
		f.res.Destroy()
	})
	if err := f.r.Resize(320, 180); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	return f
}

func (f *fixture) build(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	if err := f.pipes.Build("plasma"); err != nil {
		t.Fatal(err)
	}
	f.pipes.Wait()
	p := f.pipes.Current("plasma")
	if p == nil {
		t.Fatal("pipeline build failed")
	}
	return p
}

func (f *fixture) frame(t *testing.T, now time.Time) {
	t.Helper()
	if err := f.r.Frame(now); err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
}

func lastPass(t *testing.T, dev *gputest.Device) gputest.PassRecord {
	t.Helper()
	passes := dev.Passes()
	if len(passes) == 0 {
		t.Fatal("no render pass recorded")
	}
	return passes[len(passes)-1]
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

func TestFrameFallbackWithoutPipeline(t *testing.T) {
	f := newFixture(t, false)
	f.frame(t, time.Now())

	pass := lastPass(t, f.dev)
	if pass.LoadOp != gputypes.LoadOpClear || pass.Clear != DefaultFallbackColor {
		t.Errorf("pass = %+v, want clear to the fallback colour", pass)
	}
	if pass.Draws != 0 {
		t.Errorf("Draws = %d without a pipeline, want 0", pass.Draws)
	}
	if f.presenter.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", f.presenter.Presented())
	}
	if st := f.r.Stats(); st.Generation != 0 || st.Frames != 1 {
		t.Errorf("Stats() = %+v, want fallback frame", st)
	}
}

func TestFrameCustomFallbackColor(t *testing.T) {
	red := gputypes.Color{R: 1, A: 1}
	f := newFixture(t, false, WithFallbackColor(red))
	f.frame(t, time.Now())
	if got := lastPass(t, f.dev).Clear; got != red {
		t.Errorf("Clear = %+v, want %+v", got, red)
	}
}

func TestFrameDrawsCurrentPipeline(t *testing.T) {
	f := newFixture(t, false)
	p := f.build(t)
	f.frame(t, time.Now())

	pass := lastPass(t, f.dev)
	if pass.Draws != 1 || pass.Vertices != 3 {
		t.Errorf("pass = %+v, want one 3-vertex draw", pass)
	}
	if pass.Pipeline != p.Raw() {
		t.Error("pass bound a different pipeline than Current()")
	}
	if p.LastUse() != f.queue.Submitted() {
		t.Errorf("LastUse() = %d, want submission %d", p.LastUse(), f.queue.Submitted())
	}
	if st := f.r.Stats(); st.Generation != 1 || st.Slot != "plasma" {
		t.Errorf("Stats() = %+v, want plasma gen 1", st)
	}
}

func TestFrameNoTargets(t *testing.T) {
	d, q := gputest.NewNoopDevice(t)
	res, err := resource.NewManager(d, q, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Destroy()
	pipes := pipeline.NewManager(d, res, stubCompiler)
	defer pipes.Close()
	r := NewRenderer(d, q, res, pipes, surface.NewHeadless(d, gputypes.TextureFormatBGRA8Unorm))
	if err := r.Frame(time.Now()); !errors.Is(err, ErrNoTargets) {
		t.Errorf("Frame() before Resize error = %v, want ErrNoTargets", err)
	}
}

func TestFrameSubmissionErrorSkips(t *testing.T) {
	f := newFixture(t, false)
	f.queue.FailNextSubmit(gputest.ErrInjected)
	f.frame(t, time.Now())

	st := f.r.Stats()
	if st.Skipped != 1 || st.Frames != 0 {
		t.Errorf("Stats() = %+v, want one skipped frame", st)
	}
	var se *SubmissionError
	if !errors.As(st.LastSkip, &se) || se.Stage != "submit" {
		t.Errorf("LastSkip = %v, want *SubmissionError at submit", st.LastSkip)
	}
	if f.presenter.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", f.presenter.Discarded())
	}

	f.frame(t, time.Now())
	if f.r.Stats().Frames != 1 {
		t.Error("rendering did not continue after a skipped frame")
	}
}

func TestFrameEncodingErrorSkips(t *testing.T) {
	f := newFixture(t, false)
	f.dev.FailBeginEncoding.Store(true)
	f.frame(t, time.Now())

	st := f.r.Stats()
	if st.Skipped != 1 || st.Frames != 0 {
		t.Errorf("Stats() = %+v, want one skipped frame", st)
	}
	if n := f.dev.Discards(); n != 1 {
		t.Errorf("Discards() = %d, want the failed encoder discarded", n)
	}

	f.dev.FailBeginEncoding.Store(false)
	f.frame(t, time.Now())
	if f.r.Stats().Frames != 1 {
		t.Error("rendering did not continue after a failed encoder")
	}
}

func TestSurfaceFormatChangeRebuilds(t *testing.T) {
	f := newFixture(t, false)
	old := f.build(t)

	f.presenter.format = gputypes.TextureFormatRGBA8Unorm
	if err := f.r.Resize(320, 180); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if got := f.res.Format(); got != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("targets format = %v, want RGBA8Unorm", got)
	}
	f.pipes.Wait()
	p := f.pipes.Current("plasma")
	if p == nil || p == old || p.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Fatalf("Current() = %+v, want a pipeline rebuilt for RGBA8Unorm", p)
	}
	f.frame(t, time.Now())
	if lp := lastPass(t, f.dev); lp.Draws != 1 {
		t.Errorf("scene pass = %+v, want a draw with the rebuilt pipeline", lp)
	}
}

func TestFrameDeviceLost(t *testing.T) {
	for _, lost := range []error{hal.ErrDeviceLost, hal.ErrSurfaceLost} {
		f := newFixture(t, false)
		f.queue.FailNextSubmit(lost)
		err := f.r.Frame(time.Now())
		var dle *DeviceLostError
		if !errors.As(err, &dle) || !errors.Is(err, lost) {
			t.Errorf("Frame() error = %v, want *DeviceLostError wrapping %v", err, lost)
		}
	}
}

func TestFrameSurfaceOutdatedReconfigures(t *testing.T) {
	f := newFixture(t, false)
	before := f.presenter.configures
	f.presenter.acquireErr = hal.ErrSurfaceOutdated
	f.frame(t, time.Now())

	if f.presenter.configures != before+1 {
		t.Errorf("configures = %d, want %d", f.presenter.configures, before+1)
	}
	if st := f.r.Stats(); st.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", st.Skipped)
	}
}

func TestFrameAcquireTimeout(t *testing.T) {
	f := newFixture(t, false)
	f.presenter.acquireErr = hal.ErrTimeout
	f.frame(t, time.Now())
	if st := f.r.Stats(); st.Timeouts != 1 || st.Skipped != 1 {
		t.Errorf("Stats() = %+v, want one timeout", st)
	}
}

func TestResizeZeroSuspends(t *testing.T) {
	f := newFixture(t, false)
	if err := f.r.Resize(0, 0); err != nil {
		t.Fatalf("Resize(0, 0) error = %v", err)
	}
	f.frame(t, time.Now())
	if f.presenter.Presented() != 0 {
		t.Error("frame presented while suspended")
	}
	if err := f.r.Resize(64, 64); err != nil {
		t.Fatal(err)
	}
	f.frame(t, time.Now())
	if f.presenter.Presented() != 1 {
		t.Error("rendering did not resume after Resize")
	}
}

// ---------------------------------------------------------------------------
// Uniforms and pause
// ---------------------------------------------------------------------------

func uniformTime(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[32:]))
}

func TestPauseFreezesTime(t *testing.T) {
	f := newFixture(t, false, WithParams(fixedParams{0.5}))
	f.build(t)
	t0 := time.Now()

	f.frame(t, t0)
	f.frame(t, t0.Add(time.Second))
	if got := uniformTime(f.queue.LastWrite()); got != 1 {
		t.Fatalf("time = %v, want 1", got)
	}

	f.r.SetPaused(true)
	passes := len(f.dev.Passes())
	f.frame(t, t0.Add(2*time.Second))
	if got := uniformTime(f.queue.LastWrite()); got != 1 {
		t.Errorf("time while paused = %v, want 1", got)
	}
	if len(f.dev.Passes()) != passes {
		t.Error("shader pass recorded while paused")
	}
	if f.presenter.Presented() != 3 {
		t.Errorf("Presented() = %d, want 3 (paused frames still present)", f.presenter.Presented())
	}

	if f.r.TogglePause() {
		t.Fatal("TogglePause() = true, want false")
	}
	f.frame(t, t0.Add(3*time.Second))
	if got := uniformTime(f.queue.LastWrite()); got != 2 {
		t.Errorf("time after resume = %v, want 2", got)
	}

	w := f.queue.LastWrite()
	if n := binary.LittleEndian.Uint32(w[44:]); n != 1 {
		t.Errorf("param_count = %d, want 1", n)
	}
	if frame := binary.LittleEndian.Uint32(w[40:]); frame != 3 {
		t.Errorf("frame index = %d, want 3", frame)
	}
}

func TestMouseInUniforms(t *testing.T) {
	f := newFixture(t, false)
	f.r.SetMouse(12, 34)
	f.r.SetClick(5, 6)
	f.frame(t, time.Now())
	w := f.queue.LastWrite()
	for i, want := range []float32{12, 34, 5, 6} {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(w[16+4*i:])); got != want {
			t.Errorf("mouse[%d] = %v, want %v", i, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Retirement
// ---------------------------------------------------------------------------

func TestRetiredPipelineWaitsForCompletion(t *testing.T) {
	f := newFixture(t, true)
	first := f.build(t)
	f.frame(t, time.Now())

	second := f.build(t)
	if second == first {
		t.Fatal("rebuild did not publish a new pipeline")
	}
	f.frame(t, time.Now())
	if _, destroyed := f.dev.Pipelines(); destroyed != 0 {
		t.Fatalf("pipeline destroyed while its frame is in flight")
	}

	f.queue.Complete()
	f.frame(t, time.Now())
	if _, destroyed := f.dev.Pipelines(); destroyed != 1 {
		t.Errorf("destroyed = %d after completion, want 1", destroyed)
	}
	if f.pipes.Retired() != 0 {
		t.Errorf("Retired() = %d, want 0", f.pipes.Retired())
	}
}

func TestStatsReported(t *testing.T) {
	f := newFixture(t, false)
	t0 := time.Now()
	f.frame(t, t0)
	f.frame(t, t0.Add(20*time.Millisecond))
	if f.stats.calls != 2 {
		t.Errorf("ReportFrameStats calls = %d, want 2", f.stats.calls)
	}
	if f.stats.ft != 20*time.Millisecond {
		t.Errorf("frame time = %v, want 20ms", f.stats.ft)
	}
	if math.Abs(f.stats.fps-50) > 0.5 {
		t.Errorf("fps = %v, want ~50", f.stats.fps)
	}
}

func TestSetActiveSlot(t *testing.T) {
	f := newFixture(t, false)
	f.build(t)
	f.r.SetActiveSlot("missing")
	f.frame(t, time.Now())
	if pass := lastPass(t, f.dev); pass.Draws != 0 {
		t.Error("unknown slot should render the fallback")
	}
	if f.r.ActiveSlot() != "missing" {
		t.Errorf("ActiveSlot() = %q", f.r.ActiveSlot())
	}
}

func TestFPSMeter(t *testing.T) {
	m := newFPSMeter(0.5)
	if got := m.add(0); got != 0 {
		t.Errorf("add(0) = %v, want 0", got)
	}
	if got := m.add(10 * time.Millisecond); math.Abs(float64(got)-100) > 0.01 {
		t.Errorf("first sample = %v, want 100", got)
	}
	if got := m.add(20 * time.Millisecond); math.Abs(float64(got)-75) > 0.01 {
		t.Errorf("smoothed = %v, want 75", got)
	}
}
