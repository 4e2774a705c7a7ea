// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Presenter drives a window swapchain through hal.Surface. It is used from
// the render thread only.
type Presenter struct {
	surface hal.Surface
	dev     hal.Device
	queue   hal.Queue
	format  gputypes.TextureFormat
	mode    gputypes.PresentMode
	formats func() []gputypes.TextureFormat

	width      uint32
	height     uint32
	configured bool
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithPresentMode overrides the default FIFO (vsync) present mode.
func WithPresentMode(mode gputypes.PresentMode) PresenterOption {
	return func(p *Presenter) { p.mode = mode }
}

// WithFormats makes Configure re-query the formats the surface supports.
// When the current format is no longer among them, the presenter switches
// to PreferredFormat of the new list; callers watch Format for the change.
func WithFormats(fn func() []gputypes.TextureFormat) PresenterOption {
	return func(p *Presenter) { p.formats = fn }
}

// PreferredFormat picks a non-sRGB 8-bit format so shader output is
// written unchanged, falling back to the first supported format.
func PreferredFormat(formats []gputypes.TextureFormat) gputypes.TextureFormat {
	for _, want := range []gputypes.TextureFormat{
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatRGBA8Unorm,
	} {
		if slices.Contains(formats, want) {
			return want
		}
	}
	if len(formats) == 0 {
		return gputypes.TextureFormatUndefined
	}
	return formats[0]
}

// NewPresenter wraps a surface created by the host for its window.
func NewPresenter(s hal.Surface, dev hal.Device, queue hal.Queue, format gputypes.TextureFormat, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		surface: s,
		dev:     dev,
		queue:   queue,
		format:  format,
		mode:    gputypes.PresentModeFifo,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configure (re)creates the swapchain for the given size.
func (p *Presenter) Configure(w, h uint32) error {
	if w == 0 || h == 0 {
		return fmt.Errorf("surface: configure %dx%d: %w", w, h, hal.ErrZeroArea)
	}
	if p.formats != nil {
		if supported := p.formats(); len(supported) > 0 && !slices.Contains(supported, p.format) {
			p.format = PreferredFormat(supported)
		}
	}
	err := p.surface.Configure(p.dev, &hal.SurfaceConfiguration{
		Width:       w,
		Height:      h,
		Format:      p.format,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		PresentMode: p.mode,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		p.configured = false
		return fmt.Errorf("surface: configure %dx%d: %w", w, h, err)
	}
	p.width, p.height, p.configured = w, h, true
	return nil
}

// AcquireFrame returns the next swapchain image. hal.ErrSurfaceOutdated,
// hal.ErrSurfaceLost and hal.ErrTimeout are wrapped, not replaced.
func (p *Presenter) AcquireFrame() (*Frame, error) {
	if !p.configured {
		return nil, ErrNotConfigured
	}
	acq, err := p.surface.AcquireTexture(nil)
	if err != nil {
		return nil, fmt.Errorf("surface: acquire: %w", err)
	}
	view, err := p.dev.CreateTextureView(acq.Texture, &hal.TextureViewDescriptor{
		Label: "surface_view",
	})
	if err != nil {
		p.surface.DiscardTexture(acq.Texture)
		return nil, fmt.Errorf("surface: create view: %w", err)
	}
	return &Frame{
		Texture:        acq.Texture,
		View:           view,
		Width:          p.width,
		Height:         p.height,
		Suboptimal:     acq.Suboptimal,
		surfaceTexture: acq.Texture,
	}, nil
}

// Present queues the frame for display.
func (p *Presenter) Present(f *Frame) error {
	defer p.dev.DestroyTextureView(f.View)
	if err := p.queue.Present(p.surface, f.surfaceTexture, nil); err != nil {
		return fmt.Errorf("surface: present: %w", err)
	}
	return nil
}

// Discard returns the frame without presenting it.
func (p *Presenter) Discard(f *Frame) {
	p.dev.DestroyTextureView(f.View)
	p.surface.DiscardTexture(f.surfaceTexture)
}

// Format returns the swapchain format.
func (p *Presenter) Format() gputypes.TextureFormat { return p.format }

// Size returns the configured size.
func (p *Presenter) Size() (w, h uint32) { return p.width, p.height }

// Close unconfigures the surface. The surface itself belongs to the host.
func (p *Presenter) Close() {
	if p.configured {
		p.surface.Unconfigure(p.dev)
		p.configured = false
	}
}
