// Package overlay draws compile diagnostics and frame statistics over the
// rendered image.
//
// Text is rasterized on the CPU with basicfont into a fixed-size panel,
// uploaded when it changes and blended onto the top-left corner of the
// surface frame.
package overlay

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/liveshader/surface"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Option configures an Overlay.
type Option func(*options)

type options struct {
	compiler  shader.Compiler
	stats     bool
	lang      language.Tag
	noticeFor time.Duration
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		stats:     true,
		lang:      language.English,
		noticeFor: 3 * time.Second,
		now:       time.Now,
	}
}

// WithCompiler sets the compiler for the blit shader. Defaults to naga.
func WithCompiler(c shader.Compiler) Option {
	return func(o *options) { o.compiler = c }
}

// WithStats shows or hides the frame statistics line.
func WithStats(show bool) Option {
	return func(o *options) { o.stats = show }
}

// WithLanguage sets the locale used for number formatting.
func WithLanguage(tag language.Tag) Option {
	return func(o *options) { o.lang = tag }
}

// WithNoticeDuration sets how long a notice stays on screen.
func WithNoticeDuration(d time.Duration) Option {
	return func(o *options) { o.noticeFor = d }
}

// Overlay collects what should be shown and composites it. The report
// methods are safe from any goroutine; Composite runs on the render thread.
type Overlay struct {
	opts    options
	printer *message.Printer
	panel   *panel
	gpu     *gpuPanel

	mu          sync.Mutex
	fps         float64
	frameTime   time.Duration
	haveStats   bool
	status      string
	diagnostics map[string]shader.Diagnostic
	notice      string
	noticeUntil time.Time

	// Render thread state.
	shown  string
	height uint32
}

// New creates the panel texture and the blit pipeline for frames of the
// given format.
func New(dev hal.Device, queue hal.Queue, format gputypes.TextureFormat, opts ...Option) (*Overlay, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.compiler == nil {
		o.compiler = shader.NewNagaCompiler()
	}
	g, err := newGPUPanel(dev, queue, format, o.compiler)
	if err != nil {
		return nil, err
	}
	return &Overlay{
		opts:        o,
		printer:     message.NewPrinter(o.lang),
		panel:       newPanel(),
		gpu:         g,
		diagnostics: make(map[string]shader.Diagnostic),
	}, nil
}

// ReportDiagnostic shows the diagnostic for a slot. A nil diagnostic clears
// it, which happens when the slot compiles again.
func (o *Overlay) ReportDiagnostic(slot string, d *shader.Diagnostic) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d == nil {
		delete(o.diagnostics, slot)
		return
	}
	o.diagnostics[slot] = *d
}

// ReportFrameStats updates the statistics line.
func (o *Overlay) ReportFrameStats(fps float64, frameTime time.Duration) {
	o.mu.Lock()
	o.fps, o.frameTime, o.haveStats = fps, frameTime, true
	o.mu.Unlock()
}

// SetStatus sets a short text shown after the statistics, such as the
// active slot or "paused".
func (o *Overlay) SetStatus(s string) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// Notify shows a transient message.
func (o *Overlay) Notify(format string, args ...any) {
	msg := o.printer.Sprintf(format, args...)
	o.mu.Lock()
	o.notice = msg
	o.noticeUntil = o.opts.now().Add(o.opts.noticeFor)
	o.mu.Unlock()
}

// Diagnostics returns the slots that currently have a diagnostic.
func (o *Overlay) Diagnostics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Sorted(maps.Keys(o.diagnostics))
}

// lines builds the panel content: statistics, notice, then diagnostics
// sorted by slot.
func (o *Overlay) lines() []line {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []line
	if o.opts.stats && o.haveStats {
		s := o.printer.Sprintf("%.1f fps  %.2f ms", o.fps, float64(o.frameTime)/float64(time.Millisecond))
		if o.status != "" {
			s += "  " + o.status
		}
		out = append(out, o.panel.wrap(s, statsColor)...)
	}
	if o.notice != "" {
		if o.opts.now().Before(o.noticeUntil) {
			out = append(out, o.panel.wrap(o.notice, noticeColor)...)
		} else {
			o.notice = ""
		}
	}
	for _, slot := range slices.Sorted(maps.Keys(o.diagnostics)) {
		d := o.diagnostics[slot]
		out = append(out, o.panel.wrap(fmt.Sprintf("[%s] %s", slot, d), errorColor)...)
	}
	return out
}

// Composite redraws the panel if its text changed and blends it onto the
// frame. An empty panel draws nothing.
func (o *Overlay) Composite(enc hal.CommandEncoder, f *surface.Frame) error {
	ls := o.lines()
	key := joinLines(ls)
	if key != o.shown {
		o.panel.draw(ls)
		if err := o.gpu.upload(o.panel.img.Pix); err != nil {
			return fmt.Errorf("overlay: upload: %w", err)
		}
		o.shown = key
		o.height = used(len(ls))
	}
	if o.height == 0 {
		return nil
	}
	o.gpu.blit(enc, f.View, f.Width, f.Height, o.height)
	return nil
}

// SetFormat rebuilds the blend pipeline for frames of a new format. The
// caller must make sure the GPU no longer uses the old one.
func (o *Overlay) SetFormat(format gputypes.TextureFormat) error {
	if o.gpu == nil {
		return nil
	}
	g, err := newGPUPanel(o.gpu.dev, o.gpu.queue, format, o.opts.compiler)
	if err != nil {
		return err
	}
	o.gpu.destroy()
	o.gpu = g
	o.shown = ""
	return nil
}

// Text returns the panel content as plain lines.
func (o *Overlay) Text() []string {
	ls := o.lines()
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.text
	}
	return out
}

// Close releases the GPU objects.
func (o *Overlay) Close() {
	if o.gpu != nil {
		o.gpu.destroy()
		o.gpu = nil
	}
}

func joinLines(ls []line) string {
	var b strings.Builder
	for _, l := range ls {
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return b.String()
}
