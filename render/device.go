// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DeviceHandle provides GPU device access from the host application.
//
// The engine RECEIVES the device from the host, it does NOT create one.
// The host owns the device and the window surface; liveshader only creates
// resources on it.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider so that any host
// in the gpucontext ecosystem can drive the engine.
type DeviceHandle = gpucontext.DeviceProvider

// ErrNoHALDevice is returned when a DeviceHandle does not expose
// hal.Device and hal.Queue.
var ErrNoHALDevice = errors.New("render: device handle does not expose a HAL device")

// halProvider is implemented by hosts that hand out HAL objects next to
// the type-erased gpucontext ones.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// HAL extracts the hal.Device and hal.Queue behind a DeviceHandle. Hosts may
// either implement HalDevice/HalQueue or return HAL objects directly from
// Device and Queue.
func HAL(h DeviceHandle) (hal.Device, hal.Queue, error) {
	if h == nil {
		return nil, nil, ErrNoHALDevice
	}
	var dev, queue any = h.Device(), h.Queue()
	if hp, ok := h.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	}
	d, ok := dev.(hal.Device)
	if !ok || d == nil {
		return nil, nil, ErrNoHALDevice
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return nil, nil, ErrNoHALDevice
	}
	return d, q, nil
}

// HALDevice is a DeviceHandle over an already opened HAL device. The CLI
// and tests use it; embedding hosts usually bring their own handle.
type HALDevice struct {
	Dev    hal.Device
	Q      hal.Queue
	Format gputypes.TextureFormat
	Info   gpucontext.AdapterInfo
}

func (h *HALDevice) Device() gpucontext.Device { return h.Dev }
func (h *HALDevice) Queue() gpucontext.Queue   { return h.Q }
func (h *HALDevice) HalDevice() any            { return h.Dev }
func (h *HALDevice) HalQueue() any             { return h.Q }

// Adapter returns nil; the adapter is not needed after device creation.
func (h *HALDevice) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns the preferred target format, BGRA8 when unset.
func (h *HALDevice) SurfaceFormat() gputypes.TextureFormat {
	if h.Format == gputypes.TextureFormatUndefined {
		return gputypes.TextureFormatBGRA8Unorm
	}
	return h.Format
}

// AdapterInfo returns the adapter metadata the host recorded.
func (h *HALDevice) AdapterInfo() gpucontext.AdapterInfo { return h.Info }

var _ DeviceHandle = (*HALDevice)(nil)
