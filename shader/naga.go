package shader

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/naga/wgsl"

	"github.com/gogpu/liveshader/internal/native"
)

// CompilerOption configures a NagaCompiler.
type CompilerOption func(*compilerOptions)

type compilerOptions struct {
	validate    bool
	debug       bool
	entryPoints map[Stage]string
}

func defaultCompilerOptions() compilerOptions {
	return compilerOptions{
		validate:    true,
		entryPoints: map[Stage]string{},
	}
}

// WithValidation toggles IR validation before SPIR-V generation. On by default.
func WithValidation(enabled bool) CompilerOption {
	return func(o *compilerOptions) { o.validate = enabled }
}

// WithDebugInfo emits OpName/OpLine debug instructions.
func WithDebugInfo(enabled bool) CompilerOption {
	return func(o *compilerOptions) { o.debug = enabled }
}

// WithEntryPoint pins the entry point name used for a stage. Without it the
// first entry point declared for the stage is used.
func WithEntryPoint(stage Stage, name string) CompilerOption {
	return func(o *compilerOptions) { o.entryPoints[stage] = name }
}

// NagaCompiler compiles WGSL to SPIR-V with the pure-Go naga toolchain.
// It is safe for concurrent use.
type NagaCompiler struct {
	opts compilerOptions
}

var _ Compiler = (*NagaCompiler)(nil)

// NewNagaCompiler creates a WGSL compiler.
func NewNagaCompiler(opts ...CompilerOption) *NagaCompiler {
	o := defaultCompilerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &NagaCompiler{opts: o}
}

// Compile parses, lowers, validates and generates SPIR-V for src.
func (c *NagaCompiler) Compile(src Source) (*Module, error) {
	ast, err := naga.Parse(src.Text)
	if err != nil {
		return nil, compileError(src.Path, err)
	}

	lowered, err := wgsl.LowerWithWarnings(ast, src.Text)
	if err != nil {
		return nil, compileError(src.Path, err)
	}
	module := lowered.Module

	entry, err := c.entryPoint(module, src.Stage)
	if err != nil {
		return nil, &CompileError{
			Diagnostic: Diagnostic{Path: src.Path, Message: err.Error()},
			Err:        err,
		}
	}

	if c.opts.validate {
		verrs, err := naga.Validate(module)
		if err != nil {
			return nil, compileError(src.Path, err)
		}
		if len(verrs) > 0 {
			return nil, compileError(src.Path, &verrs[0])
		}
	}

	spv, err := naga.GenerateSPIRV(module, spirv.Options{
		Version: spirv.Version1_3,
		Debug:   c.opts.debug,
	})
	if err != nil {
		return nil, compileError(src.Path, err)
	}

	words, err := native.SPIRVWords(spv)
	if err != nil {
		return nil, compileError(src.Path, err)
	}

	var warnings []Diagnostic
	for _, w := range lowered.Warnings {
		warnings = append(warnings, Diagnostic{
			Path:    src.Path,
			Line:    w.Span.Start.Line,
			Column:  w.Span.Start.Column,
			Message: w.Message,
		})
	}

	return &Module{
		SPIRV:       words,
		EntryPoint:  entry,
		Stage:       src.Stage,
		Diagnostics: warnings,
		Fingerprint: src.Fingerprint,
	}, nil
}

// errNoEntryPoint is returned when the module declares nothing for a stage.
var errNoEntryPoint = errors.New("no entry point")

func (c *NagaCompiler) entryPoint(m *ir.Module, stage Stage) (string, error) {
	want := irStage(stage)
	pinned := c.opts.entryPoints[stage]
	for _, ep := range m.EntryPoints {
		if ep.Stage != want {
			continue
		}
		if pinned == "" || ep.Name == pinned {
			return ep.Name, nil
		}
	}
	if pinned != "" {
		return "", fmt.Errorf("%w: @%s function %q not found", errNoEntryPoint, stage, pinned)
	}
	return "", fmt.Errorf("%w: no @%s function declared", errNoEntryPoint, stage)
}

func irStage(s Stage) ir.ShaderStage {
	switch s {
	case StageVertex:
		return ir.StageVertex
	case StageCompute:
		return ir.StageCompute
	default:
		return ir.StageFragment
	}
}

// naga.Parse and the lowering pass return errors from an internal package,
// so only wgsl.ParseError can be matched by type. The rest carry their
// position in the text: "line L, column C: msg" from the parser and
// "L:C: msg" from the lowering pass.
var (
	parserPos = regexp.MustCompile(`line (\d+), column (\d+): (.*)`)
	sourcePos = regexp.MustCompile(`(?:^|\s)(\d+):(\d+): (.*)`)
)

// compileError converts a naga error into a CompileError with the best
// location it carries.
func compileError(path string, err error) *CompileError {
	d := Diagnostic{Path: path, Message: err.Error()}
	if pe, ok := parseError(err); ok {
		d.Line, d.Column, d.Message = pe.Line, pe.Column, pe.Message
		return &CompileError{Diagnostic: d, Err: err}
	}
	msg := err.Error()
	if m := parserPos.FindStringSubmatch(msg); m != nil {
		d.Line, _ = strconv.Atoi(m[1])
		d.Column, _ = strconv.Atoi(m[2])
		d.Message = m[3]
	} else if m := sourcePos.FindStringSubmatch(msg); m != nil {
		d.Line, _ = strconv.Atoi(m[1])
		d.Column, _ = strconv.Atoi(m[2])
		d.Message = m[3]
	}
	d.Message = strings.TrimSpace(d.Message)
	return &CompileError{Diagnostic: d, Err: err}
}

func parseError(err error) (wgsl.ParseError, bool) {
	var pe wgsl.ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	var ppe *wgsl.ParseError
	if errors.As(err, &ppe) && ppe != nil {
		return *ppe, true
	}
	return wgsl.ParseError{}, false
}
