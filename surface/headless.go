// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Headless presents into an offscreen texture. It stands in for a window in
// batch runs and tests.
type Headless struct {
	dev    hal.Device
	format gputypes.TextureFormat

	tex    hal.Texture
	width  uint32
	height uint32

	presented int
	discarded int
}

// NewHeadless returns an unconfigured headless presenter.
func NewHeadless(dev hal.Device, format gputypes.TextureFormat) *Headless {
	return &Headless{dev: dev, format: format}
}

// Configure recreates the backing texture.
func (h *Headless) Configure(w, ht uint32) error {
	if w == 0 || ht == 0 {
		return fmt.Errorf("surface: configure %dx%d: %w", w, ht, hal.ErrZeroArea)
	}
	if h.tex != nil && h.width == w && h.height == ht {
		return nil
	}
	tex, err := h.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         "headless_surface",
		Size:          hal.Extent3D{Width: w, Height: ht, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        h.format,
		Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst |
			gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("surface: create headless texture: %w", err)
	}
	h.Close()
	h.tex, h.width, h.height = tex, w, ht
	return nil
}

// AcquireFrame returns a frame over the backing texture.
func (h *Headless) AcquireFrame() (*Frame, error) {
	if h.tex == nil {
		return nil, ErrNotConfigured
	}
	view, err := h.dev.CreateTextureView(h.tex, &hal.TextureViewDescriptor{Label: "headless_view"})
	if err != nil {
		return nil, fmt.Errorf("surface: create view: %w", err)
	}
	return &Frame{Texture: h.tex, View: view, Width: h.width, Height: h.height}, nil
}

// Present counts the frame; the texture keeps the image.
func (h *Headless) Present(f *Frame) error {
	h.dev.DestroyTextureView(f.View)
	h.presented++
	return nil
}

// Discard drops the frame.
func (h *Headless) Discard(f *Frame) {
	h.dev.DestroyTextureView(f.View)
	h.discarded++
}

// Format returns the texture format.
func (h *Headless) Format() gputypes.TextureFormat { return h.format }

// Texture returns the backing texture, for readback.
func (h *Headless) Texture() hal.Texture { return h.tex }

// Presented returns how many frames were presented.
func (h *Headless) Presented() int { return h.presented }

// Discarded returns how many frames were discarded.
func (h *Headless) Discarded() int { return h.discarded }

// Close destroys the backing texture.
func (h *Headless) Close() {
	if h.tex != nil {
		h.dev.DestroyTexture(h.tex)
		h.tex = nil
	}
}
