package shader

import (
	"fmt"
)

// Compiler turns shader source into GPU bytecode.
//
// Implementations must not touch shared mutable state so that Compile can
// run concurrently on background workers. A failed compile returns a
// *CompileError carrying the Diagnostic.
type Compiler interface {
	Compile(src Source) (*Module, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(src Source) (*Module, error)

// Compile calls f(src).
func (f CompilerFunc) Compile(src Source) (*Module, error) { return f(src) }

// Module is the immutable result of a successful compile.
type Module struct {
	// SPIRV holds little-endian SPIR-V words.
	SPIRV []uint32

	// EntryPoint is the function the pipeline stage invokes.
	EntryPoint string

	Stage Stage

	// Diagnostics holds non-fatal warnings. Empty on a clean compile.
	Diagnostics []Diagnostic

	// Fingerprint of the source this module was built from.
	Fingerprint [32]byte
}

// Diagnostic is a compiler message with a source location suitable for
// direct display. Line and Column are 1-based; zero means unknown.
type Diagnostic struct {
	Path    string
	Line    int
	Column  int
	Message string
}

// String formats the diagnostic as "path:line:col: message", dropping the
// parts that are unknown.
func (d Diagnostic) String() string {
	switch {
	case d.Line > 0 && d.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", d.Path, d.Line, d.Column, d.Message)
	case d.Line > 0:
		return fmt.Sprintf("%s:%d: %s", d.Path, d.Line, d.Message)
	case d.Path != "":
		return fmt.Sprintf("%s: %s", d.Path, d.Message)
	default:
		return d.Message
	}
}

// CompileError reports a shader that failed to compile.
type CompileError struct {
	Diagnostic Diagnostic
	Err        error
}

func (e *CompileError) Error() string {
	return "compile: " + e.Diagnostic.String()
}

func (e *CompileError) Unwrap() error { return e.Err }
