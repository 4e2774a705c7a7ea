// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"errors"

	"github.com/gogpu/wgpu/hal"
)

// ErrNotConfigured is returned by AcquireFrame before Configure succeeded.
var ErrNotConfigured = errors.New("surface: not configured")

// Frame is one acquired presentable image. It must be handed back through
// Present or Discard of the presenter that returned it.
type Frame struct {
	Texture hal.Texture
	View    hal.TextureView
	Width   uint32
	Height  uint32

	// Suboptimal reports that the swapchain still works but should be
	// reconfigured at a convenient time.
	Suboptimal bool

	surfaceTexture hal.SurfaceTexture
}
