package resource

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

var (
	// ErrZeroSize is returned for targets with a zero dimension.
	ErrZeroSize = errors.New("resource: zero target size")

	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("resource: manager destroyed")
)

// Targets is the color target the shader renders into.
type Targets struct {
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Color  hal.Texture
	View   hal.TextureView
}

// Valid reports whether the targets have been created.
func (t Targets) Valid() bool { return t.Color != nil && t.View != nil }

// Manager owns the window-sized render target, the uniform buffer and the
// bind group shaders see at group 0.
//
// Targets are mutated only by Resize and SetFormat, which must run on the
// render thread. The uniform buffer and bind group live for the lifetime
// of the Manager.
type Manager struct {
	dev   hal.Device
	queue hal.Queue

	// format is read by pipeline build workers.
	format atomic.Uint32

	targets   Targets
	uniform   hal.Buffer
	layout    hal.BindGroupLayout
	bindGroup hal.BindGroup

	scratch   [UniformSize]byte
	destroyed bool
}

// NewManager creates the uniform buffer and bind group. Targets are created
// by the first Resize.
func NewManager(dev hal.Device, queue hal.Queue, format gputypes.TextureFormat) (*Manager, error) {
	m := &Manager{dev: dev, queue: queue}
	m.format.Store(uint32(format))

	layout, err := dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "frame_uniform_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform bind group layout: %w", err)
	}
	m.layout = layout

	m.uniform, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "frame_uniform",
		Size:  UniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("create uniform buffer: %w", err)
	}

	m.bindGroup, err = dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "frame_uniform_bind",
		Layout: m.layout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: m.uniform.NativeHandle(), Offset: 0, Size: UniformSize,
			}},
		},
	})
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("create uniform bind group: %w", err)
	}
	return m, nil
}

// Resize recreates the targets for a new size. On failure the previous
// targets stay in place. Unchanged sizes are a no-op.
func (m *Manager) Resize(w, h uint32) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("%w: %dx%d", ErrZeroSize, w, h)
	}
	if m.targets.Valid() && m.targets.Width == w && m.targets.Height == h {
		return nil
	}
	return m.recreate(w, h, m.Format())
}

// SetFormat switches the target format and recreates the targets. It
// reports whether the format changed; pipelines must then be rebuilt.
func (m *Manager) SetFormat(format gputypes.TextureFormat) (bool, error) {
	if m.destroyed {
		return false, ErrDestroyed
	}
	if format == m.Format() {
		return false, nil
	}
	if m.targets.Valid() {
		if err := m.recreate(m.targets.Width, m.targets.Height, format); err != nil {
			return false, err
		}
	}
	m.format.Store(uint32(format))
	return true, nil
}

func (m *Manager) recreate(w, h uint32, format gputypes.TextureFormat) error {
	next, err := m.createTargets("frame", w, h, format)
	if err != nil {
		return err
	}
	// The old target may still be referenced by a submitted frame.
	if m.targets.Valid() {
		if err := m.dev.WaitIdle(); err != nil {
			m.release(next)
			return fmt.Errorf("wait idle before resize: %w", err)
		}
		m.release(m.targets)
	}
	m.targets = next
	return nil
}

func (m *Manager) createTargets(label string, w, h uint32, format gputypes.TextureFormat) (Targets, error) {
	tex, err := m.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         label + "_color",
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return Targets{}, fmt.Errorf("create %s target: %w", label, err)
	}
	view, err := m.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: label + "_color_view",
	})
	if err != nil {
		m.dev.DestroyTexture(tex)
		return Targets{}, fmt.Errorf("create %s target view: %w", label, err)
	}
	return Targets{Width: w, Height: h, Format: format, Color: tex, View: view}, nil
}

func (m *Manager) release(t Targets) {
	if t.View != nil {
		m.dev.DestroyTextureView(t.View)
	}
	if t.Color != nil {
		m.dev.DestroyTexture(t.Color)
	}
}

// NewOffscreen creates a standalone target, independent of the window size.
// Free it with Release.
func (m *Manager) NewOffscreen(w, h uint32) (Targets, error) {
	if m.destroyed {
		return Targets{}, ErrDestroyed
	}
	if w == 0 || h == 0 {
		return Targets{}, fmt.Errorf("%w: %dx%d", ErrZeroSize, w, h)
	}
	return m.createTargets("offscreen", w, h, m.Format())
}

// Release destroys targets returned by NewOffscreen.
func (m *Manager) Release(t Targets) { m.release(t) }

// WriteUniforms uploads u to the uniform buffer.
func (m *Manager) WriteUniforms(u *UniformFrame) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if err := m.queue.WriteBuffer(m.uniform, 0, u.Pack(m.scratch[:])); err != nil {
		return fmt.Errorf("write uniforms: %w", err)
	}
	return nil
}

// Targets returns the current window-sized targets.
func (m *Manager) Targets() Targets { return m.targets }

// UniformBuffer returns the uniform buffer.
func (m *Manager) UniformBuffer() hal.Buffer { return m.uniform }

// BindGroup returns the group-0 bind group.
func (m *Manager) BindGroup() hal.BindGroup { return m.bindGroup }

// BindGroupLayout returns the layout pipelines are linked against.
func (m *Manager) BindGroupLayout() hal.BindGroupLayout { return m.layout }

// Format returns the target format.
func (m *Manager) Format() gputypes.TextureFormat {
	return gputypes.TextureFormat(m.format.Load())
}

// Destroy releases every GPU object. Safe to call more than once.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.release(m.targets)
	m.targets = Targets{}
	if m.bindGroup != nil {
		m.dev.DestroyBindGroup(m.bindGroup)
		m.bindGroup = nil
	}
	if m.uniform != nil {
		m.dev.DestroyBuffer(m.uniform)
		m.uniform = nil
	}
	if m.layout != nil {
		m.dev.DestroyBindGroupLayout(m.layout)
		m.layout = nil
	}
}
