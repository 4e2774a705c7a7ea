// Package shader loads shader sources and compiles them to SPIR-V.
//
// The Compiler interface is the boundary between the engine and the shader
// toolchain. NagaCompiler implements it for WGSL using github.com/gogpu/naga,
// so compiles run in-process without external tools. A failed compile
// returns a *CompileError whose Diagnostic carries the file, line and column
// reported by the toolchain.
//
//	c := shader.NewNagaCompiler()
//	src, err := shader.Load("plasma.wgsl", shader.StageFragment)
//	if err != nil { ... }
//	mod, err := c.Compile(src)
//	var ce *shader.CompileError
//	if errors.As(err, &ce) {
//	    fmt.Println(ce.Diagnostic)
//	}
package shader
