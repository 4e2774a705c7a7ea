package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/liveshader/internal/parallel"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/wgpu/hal"
)

// DefaultCompileTimeout bounds one compile of a slot.
const DefaultCompileTimeout = 5 * time.Second

var (
	// ErrCompileTimeout is wrapped by the CompileError of a build that did
	// not finish within the compile timeout.
	ErrCompileTimeout = errors.New("pipeline: compile timed out")

	// ErrUnknownSlot is returned for operations on an unregistered slot.
	ErrUnknownSlot = errors.New("pipeline: unknown slot")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline: manager closed")
)

// Reporter receives the outcome of every build that is not superseded:
// the diagnostic of a failure, or nil after a successful swap.
// It is called from worker goroutines.
type Reporter interface {
	ReportDiagnostic(slot string, d *shader.Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(slot string, d *shader.Diagnostic)

func (f ReporterFunc) ReportDiagnostic(slot string, d *shader.Diagnostic) { f(slot, d) }

// Option configures a Manager.
type Option func(*options)

type options struct {
	workers   int
	timeout   time.Duration
	reporter  Reporter
	cacheSize int
}

func defaultOptions() options {
	return options{
		workers: 2,
		timeout: DefaultCompileTimeout,
	}
}

// WithWorkers sets the number of background build workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithCompileTimeout bounds the compile step of one build. Zero or negative
// disables the bound.
func WithCompileTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithModuleCache keeps up to n compiled modules so rebuilding unchanged
// sources skips the compiler. Zero disables the cache.
func WithModuleCache(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithReporter sets the build outcome receiver.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// SlotStatus is a snapshot of one slot.
type SlotStatus struct {
	State      State
	Generation uint64

	// Diagnostic is set while State is StateFailed.
	Diagnostic *shader.Diagnostic
	Err        error
}

type slot struct {
	name    string
	program atomic.Pointer[Program]
	current atomic.Pointer[Pipeline]

	// token identifies the latest requested build. A build holding an older
	// token is stale and its results are dropped.
	token atomic.Uint64

	// reportMu keeps reporter calls in build order.
	reportMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	diag       *shader.Diagnostic
	err        error
}

// Manager owns the programs and their current pipelines.
//
// Builds run on a worker pool. Publication is an atomic pointer swap under
// the slot lock, so the render thread sees either the old or the new
// pipeline, never a partial one. Replaced pipelines are retired and only
// destroyed by Collect once the queue has finished every submission that
// used them.
type Manager struct {
	dev      hal.Device
	layout   LayoutSource
	compiler shader.Compiler
	opts     options
	pool     *parallel.WorkerPool

	mu    sync.Mutex // serializes Register
	slots atomic.Pointer[slotTable]

	retireMu sync.Mutex
	retired  []*Pipeline

	closed atomic.Bool
}

// slotTable is replaced wholesale on Register so lookups need no lock.
type slotTable struct {
	byName map[string]*slot
	byPath map[string]*slot
	order  []*slot
}

// NewManager creates a Manager. Nothing is built until Register and
// Notify or Rebuild are called.
func NewManager(dev hal.Device, layout LayoutSource, compiler shader.Compiler, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize > 0 {
		compiler = shader.NewCachingCompiler(compiler, o.cacheSize)
	}
	m := &Manager{
		dev:      dev,
		layout:   layout,
		compiler: compiler,
		opts:     o,
		pool:     parallel.NewWorkerPool(o.workers),
	}
	m.slots.Store(&slotTable{byName: map[string]*slot{}, byPath: map[string]*slot{}})
	return m
}

// Register adds a program. Paths are made absolute. Registering a slot
// name twice is an error.
func (m *Manager) Register(p Program) error {
	p, err := absProgram(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.slots.Load()
	if _, ok := old.byName[p.Slot]; ok {
		return fmt.Errorf("pipeline: slot %q already registered", p.Slot)
	}
	next := &slotTable{
		byName: make(map[string]*slot, len(old.byName)+1),
		byPath: make(map[string]*slot, len(old.byPath)+2),
		order:  append(old.order[:len(old.order):len(old.order)], nil),
	}
	for k, v := range old.byName {
		next.byName[k] = v
	}
	for k, v := range old.byPath {
		next.byPath[k] = v
	}
	s := &slot{name: p.Slot}
	s.program.Store(&p)
	next.order[len(next.order)-1] = s
	next.byName[p.Slot] = s
	for _, f := range p.Files() {
		next.byPath[f] = s
	}
	m.slots.Store(next)
	slogger().Debug("pipeline: registered", "slot", p.Slot, "vertex", p.Vertex, "fragment", p.Fragment)
	return nil
}

func absProgram(p Program) (Program, error) {
	if p.Slot == "" || p.Fragment == "" {
		return p, fmt.Errorf("pipeline: program needs a slot and a fragment shader: %+v", p)
	}
	var err error
	if p.Fragment, err = filepath.Abs(p.Fragment); err != nil {
		return p, fmt.Errorf("pipeline: %w", err)
	}
	if p.Vertex != "" {
		if p.Vertex, err = filepath.Abs(p.Vertex); err != nil {
			return p, fmt.Errorf("pipeline: %w", err)
		}
	}
	return p, nil
}

// Update replaces the files of a registered slot, e.g. when a vertex
// shader appears next to a fragment-only program or goes away again. It
// reports whether anything changed. The caller schedules the rebuild.
func (m *Manager) Update(p Program) (bool, error) {
	p, err := absProgram(p)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.slots.Load()
	s, ok := old.byName[p.Slot]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownSlot, p.Slot)
	}
	prev := s.program.Load()
	if *prev == p {
		return false, nil
	}
	next := &slotTable{
		byName: old.byName,
		byPath: make(map[string]*slot, len(old.byPath)+1),
		order:  old.order,
	}
	for k, v := range old.byPath {
		if v != s {
			next.byPath[k] = v
		}
	}
	for _, f := range p.Files() {
		next.byPath[f] = s
	}
	s.program.Store(&p)
	m.slots.Store(next)
	slogger().Debug("pipeline: updated", "slot", p.Slot, "vertex", p.Vertex, "fragment", p.Fragment)
	return true, nil
}

// Programs returns the registered programs in registration order.
func (m *Manager) Programs() []Program {
	t := m.slots.Load()
	out := make([]Program, len(t.order))
	for i, s := range t.order {
		out[i] = *s.program.Load()
	}
	return out
}

// SlotFor returns the slot a file belongs to.
func (m *Manager) SlotFor(path string) (string, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s, ok := m.slots.Load().byPath[path]
	if !ok {
		return "", false
	}
	return s.name, true
}

// Notify schedules a rebuild of the slot that owns path and returns at
// once. It reports false for paths that belong to no slot.
func (m *Manager) Notify(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s, ok := m.slots.Load().byPath[path]
	if !ok {
		return false
	}
	return m.schedule(s)
}

// Build schedules a rebuild of one slot by name.
func (m *Manager) Build(name string) error {
	s, ok := m.slots.Load().byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, name)
	}
	if !m.schedule(s) {
		return ErrClosed
	}
	return nil
}

// Rebuild schedules every slot, e.g. after the target format changed.
func (m *Manager) Rebuild() {
	for _, s := range m.slots.Load().order {
		m.schedule(s)
	}
}

// Wait blocks until no build is queued or running.
func (m *Manager) Wait() { m.pool.Wait() }

func (m *Manager) schedule(s *slot) bool {
	if m.closed.Load() {
		return false
	}
	tok := s.token.Add(1)
	m.setState(s, tok, StateCompiling)
	return m.pool.Submit(func(ctx context.Context) {
		m.build(ctx, s, tok)
	})
}

// Current returns the published pipeline of a slot, or nil. Safe to call
// from the render thread without blocking.
func (m *Manager) Current(name string) *Pipeline {
	s, ok := m.slots.Load().byName[name]
	if !ok {
		return nil
	}
	return s.current.Load()
}

// Status returns a snapshot of a slot.
func (m *Manager) Status(name string) (SlotStatus, bool) {
	s, ok := m.slots.Load().byName[name]
	if !ok {
		return SlotStatus{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStatus{
		State:      s.state,
		Generation: s.generation,
		Diagnostic: s.diag,
		Err:        s.err,
	}, true
}

// setState moves the slot to st if tok is still the latest build.
func (m *Manager) setState(s *slot, tok uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.Load() != tok {
		return false
	}
	slogger().Debug("pipeline: state", "slot", s.name, "from", s.state, "to", st)
	s.state = st
	return true
}

func (m *Manager) build(ctx context.Context, s *slot, tok uint64) {
	stale := func() bool { return ctx.Err() != nil || s.token.Load() != tok }
	if stale() {
		return
	}
	name := s.name

	vs, fs, err := m.compile(ctx, *s.program.Load())
	if stale() {
		slogger().Debug("pipeline: dropping superseded compile", "slot", name)
		return
	}
	if err != nil {
		m.fail(s, tok, err)
		return
	}
	if !m.setState(s, tok, StateLinking) {
		return
	}

	res, err := link(m.dev, m.layout, name, vs, fs)
	if err != nil {
		m.fail(s, tok, err)
		return
	}
	p := &Pipeline{
		Slot:     name,
		Format:   m.layout.Format(),
		Vertex:   vs,
		Fragment: fs,
		status:   StatusBuilding,
		res:      res,
	}

	s.mu.Lock()
	if stale() {
		s.mu.Unlock()
		slogger().Debug("pipeline: dropping superseded pipeline", "slot", name)
		p.destroy()
		return
	}
	s.state = StateSwapping
	s.generation++
	p.Generation = s.generation
	p.status = StatusReady
	old := s.current.Swap(p)
	s.state = StateIdle
	s.diag, s.err = nil, nil
	s.mu.Unlock()

	if old != nil {
		m.retire(old)
	}
	for _, d := range slices.Concat(vs.Diagnostics, fs.Diagnostics) {
		slogger().Debug("pipeline: shader warning", "slot", name, "diag", d.String())
	}
	slogger().Info("pipeline: swapped", "slot", name, "generation", p.Generation)
	m.report(s, tok, nil)
}

// compile loads and compiles both stages. Both are always rebuilt so that a
// published pipeline never mixes stages from different edits.
func (m *Manager) compile(ctx context.Context, prog Program) (vs, fs *shader.Module, err error) {
	type result struct {
		vs, fs *shader.Module
		err    error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		r.vs, r.fs, r.err = m.compileStages(prog)
		done <- r
	}()

	var timeout <-chan time.Time
	if m.opts.timeout > 0 {
		t := time.NewTimer(m.opts.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case r := <-done:
		return r.vs, r.fs, r.err
	case <-timeout:
		return nil, nil, &shader.CompileError{
			Diagnostic: shader.Diagnostic{
				Path:    prog.Fragment,
				Message: fmt.Sprintf("compile did not finish within %v", m.opts.timeout),
			},
			Err: ErrCompileTimeout,
		}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (m *Manager) compileStages(prog Program) (vs, fs *shader.Module, err error) {
	fsSrc, err := shader.Load(prog.Fragment, shader.StageFragment)
	if err != nil {
		return nil, nil, loadError(prog.Fragment, err)
	}
	vsSrc := shader.FullscreenSource()
	if prog.Vertex != "" {
		if vsSrc, err = shader.Load(prog.Vertex, shader.StageVertex); err != nil {
			return nil, nil, loadError(prog.Vertex, err)
		}
	}
	if fs, err = m.compiler.Compile(fsSrc); err != nil {
		return nil, nil, err
	}
	if vs, err = m.compiler.Compile(vsSrc); err != nil {
		return nil, nil, err
	}
	return vs, fs, nil
}

func loadError(path string, err error) *shader.CompileError {
	return &shader.CompileError{
		Diagnostic: shader.Diagnostic{Path: path, Message: err.Error()},
		Err:        err,
	}
}

// fail records a failed build unless a newer one has been requested.
func (m *Manager) fail(s *slot, tok uint64, err error) {
	d := diagnosticOf(err)
	s.mu.Lock()
	if s.token.Load() != tok {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.diag, s.err = &d, err
	s.mu.Unlock()

	slogger().Warn("pipeline: build failed", "slot", s.name, "diag", d.String())
	m.report(s, tok, &d)
}

func diagnosticOf(err error) shader.Diagnostic {
	var ce *shader.CompileError
	if errors.As(err, &ce) {
		return ce.Diagnostic
	}
	var le *LinkError
	if errors.As(err, &le) {
		return le.Diagnostic
	}
	return shader.Diagnostic{Message: err.Error()}
}

// report hands the outcome of build tok to the reporter. A build that was
// superseded while it waited for an earlier report stays silent.
func (m *Manager) report(s *slot, tok uint64, d *shader.Diagnostic) {
	if m.opts.reporter == nil {
		return
	}
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.token.Load() != tok {
		return
	}
	m.opts.reporter.ReportDiagnostic(s.name, d)
}

func (m *Manager) retire(p *Pipeline) {
	m.retireMu.Lock()
	m.retired = append(m.retired, p)
	m.retireMu.Unlock()
}

// Collect destroys retired pipelines whose last use is at or below the
// completed submission index and returns how many it destroyed. It must be
// called from the thread that calls MarkUsed.
func (m *Manager) Collect(completed uint64) int {
	m.retireMu.Lock()
	keep := m.retired[:0]
	var done []*Pipeline
	for _, p := range m.retired {
		if p.LastUse() <= completed {
			done = append(done, p)
		} else {
			keep = append(keep, p)
		}
	}
	clear(m.retired[len(keep):])
	m.retired = keep
	m.retireMu.Unlock()

	for _, p := range done {
		slogger().Debug("pipeline: destroyed retired", "slot", p.Slot, "generation", p.Generation)
		p.destroy()
	}
	return len(done)
}

// Retired returns the number of pipelines waiting for Collect.
func (m *Manager) Retired() int {
	m.retireMu.Lock()
	defer m.retireMu.Unlock()
	return len(m.retired)
}

// Close stops the workers and destroys every pipeline. The caller must
// make sure the GPU is idle. Safe to call more than once.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.pool.Close()
	for _, s := range m.slots.Load().order {
		s.token.Add(1)
		if p := s.current.Swap(nil); p != nil {
			p.destroy()
		}
	}
	m.retireMu.Lock()
	for _, p := range m.retired {
		p.destroy()
	}
	m.retired = nil
	m.retireMu.Unlock()
	slogger().Debug("pipeline: manager closed")
}
