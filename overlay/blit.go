package overlay

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/internal/native"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/wgpu/hal"
)

// blitWGSL copies the panel texture 1:1 onto the top-left corner of the
// frame. The viewport limits the triangle to the panel rectangle.
const blitWGSL = `@group(0) @binding(0) var panel: texture_2d<f32>;

@vertex
fn vs_overlay(@builtin(vertex_index) vi: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(vi & 1u) * 4 - 1);
    let y = f32(i32(vi >> 1u) * 4 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}

@fragment
fn fs_overlay(@builtin(position) pos: vec4<f32>) -> @location(0) vec4<f32> {
    return textureLoad(panel, vec2<i32>(pos.xy), 0);
}
`

// gpuPanel owns the panel texture and the blend pipeline drawing it.
type gpuPanel struct {
	dev   hal.Device
	queue hal.Queue

	tex       hal.Texture
	view      hal.TextureView
	layout    hal.BindGroupLayout
	bindGroup hal.BindGroup
	res       *native.RenderResources
}

func newGPUPanel(dev hal.Device, queue hal.Queue, format gputypes.TextureFormat, c shader.Compiler) (*gpuPanel, error) {
	g := &gpuPanel{dev: dev, queue: queue}
	if err := g.init(format, c); err != nil {
		g.destroy()
		return nil, err
	}
	return g, nil
}

func (g *gpuPanel) init(format gputypes.TextureFormat, c shader.Compiler) error {
	src := shader.NewSource("<overlay>", blitWGSL, shader.StageVertex)
	vs, err := c.Compile(src)
	if err != nil {
		return fmt.Errorf("overlay: compile vertex: %w", err)
	}
	src.Stage = shader.StageFragment
	fs, err := c.Compile(src)
	if err != nil {
		return fmt.Errorf("overlay: compile fragment: %w", err)
	}

	g.tex, err = g.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         "overlay_panel",
		Size:          hal.Extent3D{Width: PanelWidth, Height: PanelHeight, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("overlay: create texture: %w", err)
	}
	g.view, err = g.dev.CreateTextureView(g.tex, &hal.TextureViewDescriptor{Label: "overlay_panel_view"})
	if err != nil {
		return fmt.Errorf("overlay: create view: %w", err)
	}

	g.layout, err = g.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "overlay_layout",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("overlay: create bind group layout: %w", err)
	}
	g.bindGroup, err = g.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "overlay_bind",
		Layout: g.layout,
		Entries: []gputypes.BindGroupEntry{{
			Binding:  0,
			Resource: gputypes.TextureViewBinding{TextureView: g.view.NativeHandle()},
		}},
	})
	if err != nil {
		return fmt.Errorf("overlay: create bind group: %w", err)
	}

	g.res = &native.RenderResources{Device: g.dev}
	for _, m := range []*shader.Module{vs, fs} {
		mod, err := native.CreateShaderModule(g.dev, "overlay_"+m.Stage.String(), m.SPIRV)
		if err != nil {
			return fmt.Errorf("overlay: create %s module: %w", m.Stage, err)
		}
		g.res.Modules = append(g.res.Modules, mod)
	}
	g.res.PipelineLayout, err = g.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "overlay_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{g.layout},
	})
	if err != nil {
		return fmt.Errorf("overlay: create pipeline layout: %w", err)
	}
	blend := gputypes.BlendStatePremultiplied()
	g.res.Pipeline, err = g.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "overlay_pipeline",
		Layout: g.res.PipelineLayout,
		Vertex: hal.VertexState{Module: g.res.Modules[0], EntryPoint: vs.EntryPoint},
		Fragment: &hal.FragmentState{
			Module:     g.res.Modules[1],
			EntryPoint: fs.EntryPoint,
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				Blend:     &blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("overlay: create pipeline: %w", err)
	}
	return nil
}

func (g *gpuPanel) upload(pix []byte) error {
	return g.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: g.tex},
		pix,
		&hal.ImageDataLayout{BytesPerRow: PanelWidth * 4, RowsPerImage: PanelHeight},
		&hal.Extent3D{Width: PanelWidth, Height: PanelHeight, DepthOrArrayLayers: 1},
	)
}

// blit draws the top h rows of the panel over view.
func (g *gpuPanel) blit(enc hal.CommandEncoder, view hal.TextureView, fw, fh, h uint32) {
	w := min(uint32(PanelWidth), fw)
	h = min(h, fh)
	if w == 0 || h == 0 {
		return
	}
	pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "overlay",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	pass.SetPipeline(g.res.Pipeline)
	pass.SetBindGroup(0, g.bindGroup, nil)
	pass.SetViewport(0, 0, float32(w), float32(h), 0, 1)
	pass.SetScissorRect(0, 0, w, h)
	pass.Draw(3, 1, 0, 0)
	pass.End()
}

func (g *gpuPanel) destroy() {
	if g.res != nil {
		g.res.Destroy()
		g.res = nil
	}
	if g.bindGroup != nil {
		g.dev.DestroyBindGroup(g.bindGroup)
		g.bindGroup = nil
	}
	if g.layout != nil {
		g.dev.DestroyBindGroupLayout(g.layout)
		g.layout = nil
	}
	if g.view != nil {
		g.dev.DestroyTextureView(g.view)
		g.view = nil
	}
	if g.tex != nil {
		g.dev.DestroyTexture(g.tex)
		g.tex = nil
	}
}
