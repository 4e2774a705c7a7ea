package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// spirvMagic is the first word of every SPIR-V binary.
const spirvMagic = 0x07230203

// ErrBadSPIRV is returned for byte code that is not a whole number of
// little-endian SPIR-V words starting with the magic number.
var ErrBadSPIRV = errors.New("native: malformed SPIR-V")

// SPIRVWords converts SPIR-V bytes to the uint32 words hal expects.
// SPIR-V is little-endian 32-bit words.
func SPIRVWords(spv []byte) ([]uint32, error) {
	if len(spv) < 20 || len(spv)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadSPIRV, len(spv))
	}
	words := make([]uint32, len(spv)/4)
	for i := range words {
		words[i] = uint32(spv[i*4]) |
			uint32(spv[i*4+1])<<8 |
			uint32(spv[i*4+2])<<16 |
			uint32(spv[i*4+3])<<24
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrBadSPIRV, words[0])
	}
	return words, nil
}

// CreateShaderModule creates a HAL shader module from SPIR-V words.
func CreateShaderModule(device hal.Device, label string, words []uint32) (hal.ShaderModule, error) {
	return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: label,
		Source: hal.ShaderSource{
			SPIRV: words,
		},
	})
}

// RenderResources groups the HAL objects behind one render pipeline so they
// can be released together.
type RenderResources struct {
	Device         hal.Device
	Modules        []hal.ShaderModule
	PipelineLayout hal.PipelineLayout
	Pipeline       hal.RenderPipeline
}

// Destroy releases the pipeline first, then its layout and modules.
// Safe to call more than once.
func (r *RenderResources) Destroy() {
	if r.Device == nil {
		return
	}
	if r.Pipeline != nil {
		r.Device.DestroyRenderPipeline(r.Pipeline)
		r.Pipeline = nil
	}
	if r.PipelineLayout != nil {
		r.Device.DestroyPipelineLayout(r.PipelineLayout)
		r.PipelineLayout = nil
	}
	for _, m := range r.Modules {
		if m != nil {
			r.Device.DestroyShaderModule(m)
		}
	}
	r.Modules = nil
}
