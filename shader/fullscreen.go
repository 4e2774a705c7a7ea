package shader

// FullscreenVertexEntry is the entry point of FullscreenVertex.
const FullscreenVertexEntry = "vs_fullscreen"

// FullscreenVertex is the vertex stage used by programs that only supply a
// fragment shader. Drawing 3 vertices covers the viewport with one
// triangle; no vertex buffers are bound.
const FullscreenVertex = `@vertex
fn vs_fullscreen(@builtin(vertex_index) vi: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(vi & 1u) * 4 - 1);
    let y = f32(i32(vi >> 1u) * 4 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}
`

// FullscreenSource returns FullscreenVertex as a vertex Source.
func FullscreenSource() Source {
	return NewSource("<fullscreen>", FullscreenVertex, StageVertex)
}
