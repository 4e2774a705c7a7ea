package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/internal/gputest"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/wgpu/hal"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type testLayout struct {
	format gputypes.TextureFormat
	bgl    hal.BindGroupLayout
}

func (l *testLayout) Format() gputypes.TextureFormat       { return l.format }
func (l *testLayout) BindGroupLayout() hal.BindGroupLayout { return l.bgl }

// fakeCompiler accepts any text except text containing "BROKEN", which fails
// on line 2. Text containing "SLOW" blocks until release is closed.
type fakeCompiler struct {
	entered chan string
	release chan struct{}
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{entered: make(chan string, 16), release: make(chan struct{})}
}

func (c *fakeCompiler) Compile(src shader.Source) (*shader.Module, error) {
	if src.Stage == shader.StageFragment {
		select {
		case c.entered <- src.Text:
		default:
		}
	}
	if strings.Contains(src.Text, "SLOW") {
		<-c.release
	}
	if strings.Contains(src.Text, "BROKEN") {
		return nil, &shader.CompileError{
			Diagnostic: shader.Diagnostic{Path: src.Path, Line: 2, Column: 5, Message: "expected expression"},
		}
	}
	entry := "fs_main"
	if src.Stage == shader.StageVertex {
		entry = "vs_main"
	}
	return &shader.Module{
		SPIRV:       []uint32{0x07230203, 0x00010300, 0, 1, 0},
		EntryPoint:  entry,
		Stage:       src.Stage,
		Fingerprint: src.Fingerprint,
	}, nil
}

type reports struct {
	mu  sync.Mutex
	got []*shader.Diagnostic
}

func (r *reports) ReportDiagnostic(_ string, d *shader.Diagnostic) {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
}

func (r *reports) last() (*shader.Diagnostic, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return nil, 0
	}
	return r.got[len(r.got)-1], len(r.got)
}

type fixture struct {
	dev      *gputest.Device
	layout   *testLayout
	compiler *fakeCompiler
	reports  *reports
	m        *Manager
	dir      string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	d, _ := gputest.NewNoopDevice(t)
	dev := gputest.WrapDevice(d)
	bgl, err := dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: "test"})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		dev:      dev,
		layout:   &testLayout{format: gputypes.TextureFormatBGRA8Unorm, bgl: bgl},
		compiler: newFakeCompiler(),
		reports:  &reports{},
		dir:      t.TempDir(),
	}
	opts = append([]Option{WithWorkers(2), WithReporter(f.reports)}, opts...)
	f.m = NewManager(dev, f.layout, f.compiler, opts...)
	t.Cleanup(func() {
		select {
		case <-f.compiler.release:
		default:
			close(f.compiler.release)
		}
		f.m.Close()
	})
	return f
}

func (f *fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) register(t *testing.T, p Program) {
	t.Helper()
	if err := f.m.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Build and swap
// ---------------------------------------------------------------------------

func TestManagerFirstBuild(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})

	if f.m.Current("plasma") != nil {
		t.Fatal("Current() before any build should be nil")
	}
	if err := f.m.Build("plasma"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	f.m.Wait()

	p := f.m.Current("plasma")
	if p == nil {
		t.Fatal("Current() = nil after successful build")
	}
	if p.Generation != 1 || p.Status() != StatusReady || p.Raw() == nil {
		t.Errorf("pipeline = gen %d status %v raw %v, want gen 1 ready", p.Generation, p.Status(), p.Raw())
	}
	if p.Vertex.EntryPoint != "vs_main" || p.Fragment.EntryPoint != "fs_main" {
		t.Errorf("entry points = %s/%s", p.Vertex.EntryPoint, p.Fragment.EntryPoint)
	}
	st, _ := f.m.Status("plasma")
	if st.State != StateIdle || st.Generation != 1 || st.Diagnostic != nil {
		t.Errorf("Status() = %+v, want idle gen 1", st)
	}
	if d, n := f.reports.last(); n != 1 || d != nil {
		t.Errorf("reports = %d, last %v; want one nil report", n, d)
	}
}

func TestManagerFailureKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()
	good := f.m.Current("plasma")

	f.write(t, "plasma.wgsl", "BROKEN")
	if !f.m.Notify(frag) {
		t.Fatal("Notify() = false for a registered file")
	}
	f.m.Wait()

	if got := f.m.Current("plasma"); got != good {
		t.Errorf("Current() changed after failed build: gen %d", got.Generation)
	}
	st, _ := f.m.Status("plasma")
	if st.State != StateFailed || st.Diagnostic == nil {
		t.Fatalf("Status() = %+v, want failed with diagnostic", st)
	}
	if st.Diagnostic.Line != 2 || st.Diagnostic.Path != frag {
		t.Errorf("Diagnostic = %v, want %s line 2", st.Diagnostic, frag)
	}
	var ce *shader.CompileError
	if !errors.As(st.Err, &ce) {
		t.Errorf("Status().Err = %v, want *shader.CompileError", st.Err)
	}
	if d, _ := f.reports.last(); d == nil || d.Line != 2 {
		t.Errorf("last report = %v, want the diagnostic", d)
	}

	f.write(t, "plasma.wgsl", "v3")
	f.m.Notify(frag)
	f.m.Wait()
	if p := f.m.Current("plasma"); p == nil || p.Generation != 2 {
		t.Errorf("after fix Current() = %v, want generation 2", p)
	}
	if d, _ := f.reports.last(); d != nil {
		t.Errorf("last report after fix = %v, want nil", d)
	}
}

func TestManagerBrokenFirstRun(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "BROKEN")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()

	if f.m.Current("plasma") != nil {
		t.Error("Current() != nil after broken first build")
	}
	if st, _ := f.m.Status("plasma"); st.State != StateFailed {
		t.Errorf("State = %v, want failed", st.State)
	}

	f.write(t, "plasma.wgsl", "fixed")
	f.m.Notify(frag)
	f.m.Wait()
	if p := f.m.Current("plasma"); p == nil || p.Generation != 1 {
		t.Errorf("Current() = %v, want generation 1", p)
	}
}

func TestManagerLastEditWins(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "SLOW")
	f.register(t, Program{Slot: "plasma", Fragment: frag})

	f.m.Notify(frag)
	select {
	case <-f.compiler.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("slow compile never started")
	}

	f.write(t, "plasma.wgsl", "fast")
	f.m.Notify(frag)
	waitFor(t, "fast build", func() bool { return f.m.Current("plasma") != nil })

	fast := f.m.Current("plasma")
	want := shader.NewSource(frag, "fast", shader.StageFragment).Fingerprint
	if fast.Fragment.Fingerprint != want {
		t.Fatal("published pipeline is not built from the latest edit")
	}

	close(f.compiler.release)
	f.m.Wait()

	if got := f.m.Current("plasma"); got != fast {
		t.Errorf("stale build replaced the latest pipeline (gen %d)", got.Generation)
	}
	if created, _ := f.dev.Pipelines(); created != 1 {
		t.Errorf("pipelines created = %d, want 1 (stale build must not link)", created)
	}
	if st, _ := f.m.Status("plasma"); st.State != StateIdle || st.Generation != 1 {
		t.Errorf("Status() = %+v, want idle gen 1", st)
	}
}

func TestManagerJointFailure(t *testing.T) {
	f := newFixture(t)
	vert := f.write(t, "plasma.vert.wgsl", "v1")
	frag := f.write(t, "plasma.frag.wgsl", "f1")
	f.register(t, Program{Slot: "plasma", Vertex: vert, Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()
	good := f.m.Current("plasma")
	if good == nil {
		t.Fatal("initial build failed")
	}

	// A valid fragment edit must not be published while the vertex stage
	// is broken.
	f.write(t, "plasma.vert.wgsl", "BROKEN")
	f.write(t, "plasma.frag.wgsl", "f2")
	f.m.Notify(frag)
	f.m.Wait()

	if got := f.m.Current("plasma"); got != good {
		t.Error("pipeline swapped with a broken vertex stage")
	}
	st, _ := f.m.Status("plasma")
	if st.State != StateFailed || st.Diagnostic.Path != vert {
		t.Errorf("Status() = %+v, want failure in %s", st, vert)
	}
}

func TestManagerLinkFailure(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.dev.FailPipeline.Store(true)
	f.m.Notify(frag)
	f.m.Wait()

	st, _ := f.m.Status("plasma")
	var le *LinkError
	if !errors.As(st.Err, &le) {
		t.Fatalf("Status().Err = %v, want *LinkError", st.Err)
	}
	if !errors.Is(st.Err, gputest.ErrInjected) {
		t.Errorf("Status().Err = %v, want wrapped ErrInjected", st.Err)
	}
	if f.m.Current("plasma") != nil {
		t.Error("Current() != nil after link failure")
	}
}

func TestManagerUndefinedFormat(t *testing.T) {
	f := newFixture(t)
	f.layout.format = gputypes.TextureFormatUndefined
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()

	st, _ := f.m.Status("plasma")
	if !errors.Is(st.Err, ErrUndefinedFormat) {
		t.Errorf("Status().Err = %v, want ErrUndefinedFormat", st.Err)
	}
}

func TestManagerCompileTimeout(t *testing.T) {
	f := newFixture(t, WithCompileTimeout(50*time.Millisecond))
	frag := f.write(t, "plasma.wgsl", "SLOW")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()

	st, _ := f.m.Status("plasma")
	if st.State != StateFailed || !errors.Is(st.Err, ErrCompileTimeout) {
		t.Errorf("Status() = %+v, want failed with ErrCompileTimeout", st)
	}
}

// ---------------------------------------------------------------------------
// Retirement
// ---------------------------------------------------------------------------

func TestManagerRetirement(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()

	first := f.m.Current("plasma")
	first.MarkUsed(5)

	f.write(t, "plasma.wgsl", "v2")
	f.m.Notify(frag)
	f.m.Wait()

	if f.m.Retired() != 1 {
		t.Fatalf("Retired() = %d, want 1", f.m.Retired())
	}
	if n := f.m.Collect(4); n != 0 {
		t.Errorf("Collect(4) destroyed %d, want 0 while submission 5 is in flight", n)
	}
	if _, destroyed := f.dev.Pipelines(); destroyed != 0 {
		t.Errorf("destroyed = %d before completion, want 0", destroyed)
	}
	if n := f.m.Collect(5); n != 1 {
		t.Errorf("Collect(5) destroyed %d, want 1", n)
	}
	if _, destroyed := f.dev.Pipelines(); destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", destroyed)
	}
	if f.m.Current("plasma").Generation != 2 {
		t.Error("current pipeline affected by Collect")
	}
}

func TestPipelineMarkUsedMonotonic(t *testing.T) {
	var p Pipeline
	p.MarkUsed(7)
	p.MarkUsed(3)
	if p.LastUse() != 7 {
		t.Errorf("LastUse() = %d, want 7", p.LastUse())
	}
}

func TestManagerClose(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	f.m.Notify(frag)
	f.m.Wait()
	f.write(t, "plasma.wgsl", "v2")
	f.m.Notify(frag)
	f.m.Wait()

	f.m.Close()
	f.m.Close()

	created, destroyed := f.dev.Pipelines()
	if created != 2 || destroyed != 2 {
		t.Errorf("pipelines created/destroyed = %d/%d, want 2/2", created, destroyed)
	}
	if err := f.m.Build("plasma"); !errors.Is(err, ErrClosed) {
		t.Errorf("Build() after Close error = %v, want ErrClosed", err)
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestManagerRegister(t *testing.T) {
	f := newFixture(t)
	vert := f.write(t, "a.vert.wgsl", "v")
	frag := f.write(t, "a.frag.wgsl", "f")
	f.register(t, Program{Slot: "a", Vertex: vert, Fragment: frag})

	if err := f.m.Register(Program{Slot: "a", Fragment: frag}); err == nil {
		t.Error("duplicate Register() error = nil")
	}
	if err := f.m.Register(Program{Slot: "b"}); err == nil {
		t.Error("Register() without fragment error = nil")
	}
	for _, p := range []string{vert, frag} {
		if slot, ok := f.m.SlotFor(p); !ok || slot != "a" {
			t.Errorf("SlotFor(%q) = %q, %v", p, slot, ok)
		}
	}
	if f.m.Notify(filepath.Join(f.dir, "other.wgsl")) {
		t.Error("Notify() = true for an unknown file")
	}
	if err := f.m.Build("nope"); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Build(unknown) error = %v, want ErrUnknownSlot", err)
	}
	if got := f.m.Programs(); len(got) != 1 || got[0].Slot != "a" {
		t.Errorf("Programs() = %+v", got)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"plasma.frag.wgsl", "plasma.vert.wgsl", "tunnel.wgsl", "sim.comp.wgsl", "orphan.vert.wgsl", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	progs, err := Discover([]string{dir})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(progs) != 2 {
		t.Fatalf("Discover() = %+v, want 2 programs", progs)
	}
	if progs[0].Slot != "plasma" || progs[0].Vertex != filepath.Join(dir, "plasma.vert.wgsl") {
		t.Errorf("progs[0] = %+v", progs[0])
	}
	if progs[1].Slot != "tunnel" || progs[1].Vertex != "" {
		t.Errorf("progs[1] = %+v", progs[1])
	}

	if _, err := Discover([]string{t.TempDir()}); !errors.Is(err, ErrNoPrograms) {
		t.Errorf("Discover(empty) error = %v, want ErrNoPrograms", err)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle: "idle", StateCompiling: "compiling", StateLinking: "linking",
		StateSwapping: "swapping", StateFailed: "failed", State(99): "unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

func TestManagerModuleCache(t *testing.T) {
	f := newFixture(t, WithModuleCache(8))
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})

	for range 2 {
		if err := f.m.Build("plasma"); err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		f.m.Wait()
	}
	if n := len(f.compiler.entered); n != 1 {
		t.Errorf("fragment compiles = %d, want 1 for an unchanged source", n)
	}
	if p := f.m.Current("plasma"); p == nil || p.Generation != 2 {
		t.Errorf("Current() = %v, want generation 2 after the cached rebuild", p)
	}

	f.write(t, "plasma.wgsl", "v2")
	f.m.Notify(frag)
	f.m.Wait()
	if n := len(f.compiler.entered); n != 2 {
		t.Errorf("fragment compiles = %d, want 2 after an edit", n)
	}
}

func TestManagerUpdate(t *testing.T) {
	f := newFixture(t)
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})
	vert := f.write(t, "plasma.vert.wgsl", "v1")

	changed, err := f.m.Update(Program{Slot: "plasma", Vertex: vert, Fragment: frag})
	if err != nil || !changed {
		t.Fatalf("Update() = %v, %v; want true, nil", changed, err)
	}
	if slot, ok := f.m.SlotFor(vert); !ok || slot != "plasma" {
		t.Errorf("SlotFor(vertex) = %q, %v; want plasma", slot, ok)
	}
	if changed, _ := f.m.Update(Program{Slot: "plasma", Vertex: vert, Fragment: frag}); changed {
		t.Error("Update() with the same files reported a change")
	}

	f.write(t, "plasma.vert.wgsl", "BROKEN")
	f.m.Notify(vert)
	f.m.Wait()
	st, _ := f.m.Status("plasma")
	if st.State != StateFailed || st.Diagnostic == nil || st.Diagnostic.Path != vert {
		t.Errorf("Status() = %+v, want failure in %s", st, vert)
	}

	if _, err := f.m.Update(Program{Slot: "plasma", Fragment: frag}); err != nil {
		t.Fatalf("Update() dropping the vertex error = %v", err)
	}
	if _, ok := f.m.SlotFor(vert); ok {
		t.Error("SlotFor(vertex) still resolves after the vertex was dropped")
	}
	if f.m.Notify(vert) {
		t.Error("Notify(vertex) = true after the vertex was dropped")
	}
	if _, err := f.m.Update(Program{Slot: "nope", Fragment: frag}); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Update(unknown) error = %v, want ErrUnknownSlot", err)
	}
}

// A build that finishes while an older report is still being delivered must
// not have its outcome overwritten by that older report.
func TestManagerReportsInBuildOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		got     []*shader.Diagnostic
		entered = make(chan struct{})
		gate    = make(chan struct{})
	)
	blocking := ReporterFunc(func(_ string, d *shader.Diagnostic) {
		mu.Lock()
		first := len(got) == 0
		mu.Unlock()
		if first {
			close(entered)
			<-gate
		}
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})
	f := newFixture(t, WithReporter(blocking))
	frag := f.write(t, "plasma.wgsl", "v1")
	f.register(t, Program{Slot: "plasma", Fragment: frag})

	f.m.Notify(frag)
	<-entered
	f.write(t, "plasma.wgsl", "BROKEN")
	f.m.Notify(frag)
	waitFor(t, "second build to fail", func() bool {
		st, _ := f.m.Status("plasma")
		return st.State == StateFailed
	})
	close(gate)
	f.m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("reports = %d, want 2", len(got))
	}
	if got[0] != nil || got[1] == nil {
		t.Errorf("reports = [%v %v], want success then failure", got[0], got[1])
	}
}
