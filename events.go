package liveshader

import (
	"github.com/gogpu/gpucontext"
)

// paramStep is how far the arrow keys move the selected parameter.
const paramStep = 0.05

// BindEvents connects host input to the engine:
//
//   - Space toggles pause
//   - Tab cycles the active slot, Shift+Tab backwards
//   - P exports a painting on the next frame
//   - M starts or stops recording an image sequence
//   - R recompiles every slot
//   - Left/Right select a parameter, Up/Down change it, 0 resets all
//   - the mouse position and clicks feed the mouse uniform
//   - window resizes are applied on the next frame
func (e *Engine) BindEvents(src gpucontext.EventSource) {
	selected := 0
	src.OnKeyPress(func(key gpucontext.Key, mods gpucontext.Modifiers) {
		switch key {
		case gpucontext.KeySpace:
			e.TogglePause()
		case gpucontext.KeyTab:
			step := 1
			if mods.HasShift() {
				step = -1
			}
			e.CycleSlot(step)
		case gpucontext.KeyP:
			e.RequestPaint()
		case gpucontext.KeyM:
			e.ToggleRecording()
		case gpucontext.KeyR:
			e.Rebuild()
		case gpucontext.Key0:
			e.params.Reset()
		case gpucontext.KeyLeft, gpucontext.KeyRight:
			if n := e.params.Len(); n > 0 {
				if key == gpucontext.KeyRight {
					selected = (selected + 1) % n
				} else {
					selected = (selected + n - 1) % n
				}
				if e.overlay != nil {
					sp := e.params.Specs()[selected]
					v, _ := e.params.Get(sp.Name)
					e.overlay.Notify("%s = %.3f", sp.Name, v)
				}
			}
		case gpucontext.KeyUp, gpucontext.KeyDown:
			e.nudgeParam(selected, key == gpucontext.KeyUp)
		}
	})
	src.OnMouseMove(func(x, y float64) {
		e.SetMouse(float32(x), float32(y))
	})
	src.OnMousePress(func(button gpucontext.MouseButton, x, y float64) {
		if button == gpucontext.MouseButtonLeft {
			e.SetClick(float32(x), float32(y))
		}
	})
	src.OnResize(func(w, h int) {
		e.RequestResize(uint32(max(w, 0)), uint32(max(h, 0)))
	})
}

func (e *Engine) nudgeParam(i int, up bool) {
	specs := e.params.Specs()
	if i >= len(specs) {
		return
	}
	sp := specs[i]
	step := float32(paramStep)
	if sp.Bounded() {
		step *= sp.Max - sp.Min
	}
	if !up {
		step = -step
	}
	v, err := e.params.Nudge(sp.Name, step)
	if err != nil {
		return
	}
	if e.overlay != nil {
		e.overlay.Notify("%s = %.3f", sp.Name, v)
	}
}
