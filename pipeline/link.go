package pipeline

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/internal/native"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/wgpu/hal"
)

// LayoutSource supplies what a pipeline is linked against. It is
// implemented by resource.Manager.
type LayoutSource interface {
	Format() gputypes.TextureFormat
	BindGroupLayout() hal.BindGroupLayout
}

var (
	// ErrUndefinedFormat is returned when linking before targets exist.
	ErrUndefinedFormat = errors.New("pipeline: target format undefined")

	// ErrStageMismatch is returned when the modules handed to the linker
	// are not a vertex and a fragment stage.
	ErrStageMismatch = errors.New("pipeline: stage mismatch")
)

// LinkError reports a pair of compiled stages that could not be turned into
// a GPU pipeline.
type LinkError struct {
	Slot       string
	Diagnostic shader.Diagnostic
	Err        error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %s", e.Slot, e.Diagnostic)
}

func (e *LinkError) Unwrap() error { return e.Err }

func linkError(slot, path string, err error) *LinkError {
	return &LinkError{
		Slot:       slot,
		Diagnostic: shader.Diagnostic{Path: path, Message: err.Error()},
		Err:        err,
	}
}

// link creates shader modules, a pipeline layout and a render pipeline for
// a full-screen program. On error every object created so far is released.
func link(dev hal.Device, layout LayoutSource, slot string, vs, fs *shader.Module) (*native.RenderResources, error) {
	format := layout.Format()
	if format == gputypes.TextureFormatUndefined {
		return nil, linkError(slot, "", ErrUndefinedFormat)
	}
	if vs == nil || fs == nil || vs.Stage != shader.StageVertex || fs.Stage != shader.StageFragment {
		return nil, linkError(slot, "", ErrStageMismatch)
	}

	res := &native.RenderResources{Device: dev}
	vsMod, err := native.CreateShaderModule(dev, slot+"_vs", vs.SPIRV)
	if err != nil {
		return nil, linkError(slot, "", fmt.Errorf("create vertex module: %w", err))
	}
	res.Modules = append(res.Modules, vsMod)

	fsMod, err := native.CreateShaderModule(dev, slot+"_fs", fs.SPIRV)
	if err != nil {
		res.Destroy()
		return nil, linkError(slot, "", fmt.Errorf("create fragment module: %w", err))
	}
	res.Modules = append(res.Modules, fsMod)

	res.PipelineLayout, err = dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            slot + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout.BindGroupLayout()},
	})
	if err != nil {
		res.Destroy()
		return nil, linkError(slot, "", fmt.Errorf("create pipeline layout: %w", err))
	}

	res.Pipeline, err = dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  slot + "_pipeline",
		Layout: res.PipelineLayout,
		Vertex: hal.VertexState{
			Module:     vsMod,
			EntryPoint: vs.EntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     fsMod,
			EntryPoint: fs.EntryPoint,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    format,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		res.Destroy()
		return nil, linkError(slot, "", fmt.Errorf("create render pipeline: %w", err))
	}
	return res, nil
}
