package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/liveshader"
	"github.com/gogpu/liveshader/surface"
)

func init() {
	// glfw calls must come from the main thread.
	runtime.LockOSThread()
}

// runWindow opens a window and renders until it is closed, the context
// ends or the device is lost.
func runWindow(ctx context.Context, s session, opts []liveshader.Option) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw: %w", err)
	}
	defer glfw.Terminate()

	glfw.DefaultWindowHints()
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	win, err := glfw.CreateWindow(int(s.width), int(s.height), "liveshader", nil, nil)
	if err != nil {
		return fmt.Errorf("glfw: %w", err)
	}
	defer win.Destroy()

	display, handle, err := nativeHandles(win)
	if err != nil {
		return err
	}
	g, err := openGPU(display, handle)
	if err != nil {
		return err
	}
	defer g.close()

	presenter := surface.NewPresenter(g.surface, g.dev, g.queue, g.format,
		surface.WithFormats(g.surfaceFormats))
	defer presenter.Close()

	fbw, fbh := win.GetFramebufferSize()
	e, err := liveshader.New(g.handle(), presenter, append(opts, liveshader.WithSize(uint32(fbw), uint32(fbh)))...) //nolint:gosec // glfw sizes are non-negative
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	if s.record {
		e.ToggleRecording()
	}

	events := newWindowEvents(win)
	e.BindEvents(events)
	events.OnKeyPress(func(key gpucontext.Key, _ gpucontext.Modifiers) {
		if key == gpucontext.KeyEscape {
			win.SetShouldClose(true)
		}
	})

	var frameErr error
	for !win.ShouldClose() && ctx.Err() == nil {
		glfw.PollEvents()
		if frameErr = e.Frame(); frameErr != nil {
			break
		}
	}
	if frameErr == nil {
		frameErr = exportOnExit(e, s.export)
	}
	if err := e.Stop(); err != nil && frameErr == nil {
		frameErr = err
	}
	return frameErr
}
