package liveshader

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/export"
	"github.com/gogpu/liveshader/params"
	"github.com/gogpu/liveshader/render"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/liveshader/watch"
)

// Option configures an Engine.
//
// Example:
//
//	eng, err := liveshader.New(provider, presenter,
//	    liveshader.WithShaders("shaders/"),
//	    liveshader.WithDebounce(80*time.Millisecond),
//	)
type Option func(*options)

type options struct {
	shaders        []string
	extensions     []string
	debounce       time.Duration
	workers        int
	compileTimeout time.Duration
	compiler       shader.Compiler
	format         gputypes.TextureFormat
	fallback       gputypes.Color
	slot           string
	width, height  uint32
	params         []params.Spec
	reporter       Reporter
	overlay        bool
	stats          bool
	exportDir      string
	exportWidth    uint32
	exportHeight   uint32
	recordDir      string
	recordWidth    uint32
	recordHeight   uint32
	recordFPS      int
	validate       bool
	shaderDebug    bool
}

func defaultOptions() options {
	return options{
		debounce:       watch.DefaultDebounce,
		workers:        2,
		compileTimeout: 5 * time.Second,
		fallback:       render.DefaultFallbackColor,
		overlay:        true,
		stats:          true,
		exportDir:      ".",
		exportWidth:    3840,
		exportHeight:   2160,
		recordWidth:    1920,
		recordHeight:   1080,
		recordFPS:      export.DefaultFPS,
		validate:       true,
	}
}

// WithShaders sets the files and directories to watch. Directories are
// scanned one level deep for .wgsl files.
func WithShaders(paths ...string) Option {
	return func(o *options) { o.shaders = append(o.shaders, paths...) }
}

// WithExtensions sets the file extensions watched inside directories.
func WithExtensions(exts ...string) Option {
	return func(o *options) { o.extensions = exts }
}

// WithDebounce sets the quiet period after the last change of a file.
// Values outside 50..150 ms are clamped.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithWorkers sets the number of background compile workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithCompileTimeout bounds a single compile.
func WithCompileTimeout(d time.Duration) Option {
	return func(o *options) { o.compileTimeout = d }
}

// WithCompiler replaces the naga compiler.
func WithCompiler(c shader.Compiler) Option {
	return func(o *options) { o.compiler = c }
}

// WithFormat overrides the surface format reported by the device provider.
func WithFormat(f gputypes.TextureFormat) Option {
	return func(o *options) { o.format = f }
}

// WithFallbackColor sets the colour shown while no program has compiled.
func WithFallbackColor(c gputypes.Color) Option {
	return func(o *options) { o.fallback = c }
}

// WithSlot selects the program shown first.
func WithSlot(slot string) Option {
	return func(o *options) { o.slot = slot }
}

// WithSize resizes the engine during Start.
func WithSize(w, h uint32) Option {
	return func(o *options) { o.width, o.height = w, h }
}

// WithParams declares user parameters.
func WithParams(specs ...params.Spec) Option {
	return func(o *options) { o.params = append(o.params, specs...) }
}

// WithReporter adds a receiver for diagnostics and frame statistics. The
// built-in overlay keeps receiving them too.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithOverlay enables or disables the on-screen overlay.
func WithOverlay(enabled bool) Option {
	return func(o *options) { o.overlay = enabled }
}

// WithStats shows or hides the statistics line of the overlay.
func WithStats(show bool) Option {
	return func(o *options) { o.stats = show }
}

// WithExport sets where interactive paintings go and their size.
func WithExport(dir string, w, h uint32) Option {
	return func(o *options) {
		o.exportDir = dir
		o.exportWidth, o.exportHeight = w, h
	}
}

// WithRecording sets where image sequences go, their size and frame rate.
// Each recording gets its own subdirectory of dir. An empty dir records
// next to the paintings.
func WithRecording(dir string, w, h uint32, fps int) Option {
	return func(o *options) {
		o.recordDir = dir
		o.recordWidth, o.recordHeight = w, h
		o.recordFPS = fps
	}
}

// WithValidation toggles IR validation in the built-in compiler. Ignored
// with WithCompiler.
func WithValidation(enabled bool) Option {
	return func(o *options) { o.validate = enabled }
}

// WithShaderDebug makes the built-in compiler emit SPIR-V debug names and
// line information. Ignored with WithCompiler.
func WithShaderDebug(enabled bool) Option {
	return func(o *options) { o.shaderDebug = enabled }
}
