package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/liveshader"
	"github.com/gogpu/liveshader/render"
	"github.com/gogpu/liveshader/surface"
)

var errNoAdapter = errors.New("no usable GPU adapter")

// backendOrder is the order backends are tried in. The software
// rasterizer registers as BackendEmpty and comes last.
var backendOrder = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

// gpu is an opened device, and the surface it presents to when windowed.
type gpu struct {
	instance hal.Instance
	adapter  hal.Adapter
	surface  hal.Surface
	dev      hal.Device
	queue    hal.Queue
	format   gputypes.TextureFormat
	backend  gputypes.Backend
	name     string
}

// openGPU opens the first backend that yields a device. With a zero
// window handle no surface is created.
func openGPU(display, window uintptr) (*gpu, error) {
	var errs []error
	for _, variant := range backendOrder {
		b, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		g, err := openBackend(b, display, window)
		if err != nil {
			liveshader.Logger().Debug("liveshader: backend unavailable", "backend", variant, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", variant, err))
			continue
		}
		return g, nil
	}
	if len(errs) == 0 {
		return nil, errNoAdapter
	}
	return nil, errors.Join(errs...)
}

func openBackend(b hal.Backend, display, window uintptr) (g *gpu, err error) {
	g = &gpu{backend: b.Variant()}
	defer func() {
		if err != nil {
			g.close()
		}
	}()

	if g.instance, err = b.CreateInstance(&hal.InstanceDescriptor{Backends: gputypes.BackendsAll}); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	if window != 0 {
		if g.surface, err = g.instance.CreateSurface(display, window); err != nil {
			return nil, fmt.Errorf("create surface: %w", err)
		}
	}

	exposed := g.instance.EnumerateAdapters(g.surface)
	if len(exposed) == 0 {
		return nil, errNoAdapter
	}
	// Prefer a discrete GPU.
	slices.SortStableFunc(exposed, func(a, b hal.ExposedAdapter) int {
		return rank(a.Info.DeviceType) - rank(b.Info.DeviceType)
	})
	chosen := exposed[0]
	g.adapter = chosen.Adapter
	g.name = chosen.Info.Name

	od, err := g.adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", g.name, err)
	}
	g.dev, g.queue = od.Device, od.Queue

	g.format = gputypes.TextureFormatBGRA8Unorm
	if g.surface != nil {
		formats := g.surfaceFormats()
		if len(formats) == 0 {
			return nil, fmt.Errorf("%s cannot present to the window", g.name)
		}
		g.format = surface.PreferredFormat(formats)
	}
	liveshader.Logger().Info("liveshader: gpu", "backend", g.backend, "adapter", g.name, "format", g.format)
	return g, nil
}

func rank(t gputypes.DeviceType) int {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return 0
	case gputypes.DeviceTypeIntegratedGPU:
		return 1
	case gputypes.DeviceTypeVirtualGPU:
		return 2
	case gputypes.DeviceTypeCPU:
		return 3
	default:
		return 4
	}
}

// surfaceFormats reports what the window surface accepts right now.
func (g *gpu) surfaceFormats() []gputypes.TextureFormat {
	caps := g.adapter.SurfaceCapabilities(g.surface)
	if caps == nil {
		return nil
	}
	return caps.Formats
}

// handle wraps the device for the engine.
func (g *gpu) handle() *render.HALDevice {
	return &render.HALDevice{Dev: g.dev, Q: g.queue, Format: g.format}
}

// close releases everything in reverse creation order.
func (g *gpu) close() {
	if g.dev != nil {
		_ = g.dev.WaitIdle()
		g.dev.Destroy()
		g.dev = nil
	}
	if g.surface != nil {
		g.surface.Destroy()
		g.surface = nil
	}
	if g.adapter != nil {
		g.adapter.Destroy()
		g.adapter = nil
	}
	if g.instance != nil {
		g.instance.Destroy()
		g.instance = nil
	}
}
