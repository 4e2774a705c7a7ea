package resource

import (
	"encoding/binary"
	"math"
)

// Uniform block layout. Offsets follow WGSL uniform address space rules.
const (
	offResolution = 0
	offMouse      = 16
	offTime       = 32
	offTimeDelta  = 36
	offFrame      = 40
	offParamCount = 44
	offParams     = 48

	// UniformSize is the byte size of the packed UniformFrame.
	UniformSize = 112

	// MaxParams is the number of user parameters the block carries.
	MaxParams = 16
)

// FrameWGSL declares the uniform block in WGSL. Shaders bind it at
// @group(0) @binding(0).
const FrameWGSL = `struct Frame {
    resolution: vec2<f32>,
    mouse: vec4<f32>,
    time: f32,
    time_delta: f32,
    frame: u32,
    param_count: u32,
    params: array<vec4<f32>, 4>,
}

@group(0) @binding(0) var<uniform> frame: Frame;
`

// UniformFrame is the per-frame input to every shader.
type UniformFrame struct {
	// Time is seconds since the engine started, excluding paused time.
	Time      float32
	TimeDelta float32
	Frame     uint32

	// Resolution is the target size in pixels.
	Resolution [2]float32

	// Mouse is x, y of the cursor in pixels and x, y of the last click.
	Mouse [4]float32

	// Params are user parameters; entries past MaxParams are dropped.
	Params []float32
}

// Pack writes u into dst in the layout of FrameWGSL. dst must hold at
// least UniformSize bytes; bytes not covered by a field are zeroed.
func (u *UniformFrame) Pack(dst []byte) []byte {
	dst = dst[:UniformSize]
	clear(dst)
	putF32 := func(off int, v float32) {
		binary.LittleEndian.PutUint32(dst[off:off+4], math.Float32bits(v))
	}
	putF32(offResolution, u.Resolution[0])
	putF32(offResolution+4, u.Resolution[1])
	for i, v := range u.Mouse {
		putF32(offMouse+4*i, v)
	}
	putF32(offTime, u.Time)
	putF32(offTimeDelta, u.TimeDelta)
	binary.LittleEndian.PutUint32(dst[offFrame:], u.Frame)

	n := min(len(u.Params), MaxParams)
	binary.LittleEndian.PutUint32(dst[offParamCount:], uint32(n)) //nolint:gosec // n <= MaxParams
	for i := range n {
		putF32(offParams+4*i, u.Params[i])
	}
	return dst
}
