package main

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/gogpu/gpucontext"
)

// windowEvents adapts glfw callbacks to gpucontext.EventSource. glfw keeps
// one callback per kind, so handlers are collected and fanned out.
type windowEvents struct {
	keyPress     []func(gpucontext.Key, gpucontext.Modifiers)
	keyRelease   []func(gpucontext.Key, gpucontext.Modifiers)
	text         []func(string)
	mouseMove    []func(x, y float64)
	mousePress   []func(gpucontext.MouseButton, float64, float64)
	mouseRelease []func(gpucontext.MouseButton, float64, float64)
	scroll       []func(dx, dy float64)
	resize       []func(w, h int)
	focus        []func(bool)
}

var _ gpucontext.EventSource = (*windowEvents)(nil)

func newWindowEvents(win *glfw.Window) *windowEvents {
	ev := &windowEvents{}
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, mods glfw.ModifierKey) {
		k, m := mapKey(key), mapMods(mods)
		switch action {
		case glfw.Press, glfw.Repeat:
			for _, fn := range ev.keyPress {
				fn(k, m)
			}
		case glfw.Release:
			for _, fn := range ev.keyRelease {
				fn(k, m)
			}
		}
	})
	win.SetCharCallback(func(_ *glfw.Window, r rune) {
		for _, fn := range ev.text {
			fn(string(r))
		}
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		for _, fn := range ev.mouseMove {
			fn(x, y)
		}
	})
	win.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		x, y := w.GetCursorPos()
		b := mapButton(button)
		handlers := ev.mousePress
		if action == glfw.Release {
			handlers = ev.mouseRelease
		}
		for _, fn := range handlers {
			fn(b, x, y)
		}
	})
	win.SetScrollCallback(func(_ *glfw.Window, dx, dy float64) {
		for _, fn := range ev.scroll {
			fn(dx, dy)
		}
	})
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		for _, fn := range ev.resize {
			fn(w, h)
		}
	})
	win.SetFocusCallback(func(_ *glfw.Window, focused bool) {
		for _, fn := range ev.focus {
			fn(focused)
		}
	})
	return ev
}

func (ev *windowEvents) OnKeyPress(fn func(gpucontext.Key, gpucontext.Modifiers)) {
	ev.keyPress = append(ev.keyPress, fn)
}

func (ev *windowEvents) OnKeyRelease(fn func(gpucontext.Key, gpucontext.Modifiers)) {
	ev.keyRelease = append(ev.keyRelease, fn)
}

func (ev *windowEvents) OnTextInput(fn func(string)) { ev.text = append(ev.text, fn) }

func (ev *windowEvents) OnMouseMove(fn func(x, y float64)) {
	ev.mouseMove = append(ev.mouseMove, fn)
}

func (ev *windowEvents) OnMousePress(fn func(gpucontext.MouseButton, float64, float64)) {
	ev.mousePress = append(ev.mousePress, fn)
}

func (ev *windowEvents) OnMouseRelease(fn func(gpucontext.MouseButton, float64, float64)) {
	ev.mouseRelease = append(ev.mouseRelease, fn)
}

func (ev *windowEvents) OnScroll(fn func(dx, dy float64)) { ev.scroll = append(ev.scroll, fn) }

func (ev *windowEvents) OnResize(fn func(w, h int)) { ev.resize = append(ev.resize, fn) }

func (ev *windowEvents) OnFocus(fn func(bool)) { ev.focus = append(ev.focus, fn) }

// glfw does not report IME composition.
func (ev *windowEvents) OnIMECompositionStart(func())                     {}
func (ev *windowEvents) OnIMECompositionUpdate(func(gpucontext.IMEState)) {}
func (ev *windowEvents) OnIMECompositionEnd(func(string))                 {}

var namedKeys = map[glfw.Key]gpucontext.Key{
	glfw.KeyEscape:       gpucontext.KeyEscape,
	glfw.KeyTab:          gpucontext.KeyTab,
	glfw.KeyBackspace:    gpucontext.KeyBackspace,
	glfw.KeyEnter:        gpucontext.KeyEnter,
	glfw.KeySpace:        gpucontext.KeySpace,
	glfw.KeyInsert:       gpucontext.KeyInsert,
	glfw.KeyDelete:       gpucontext.KeyDelete,
	glfw.KeyHome:         gpucontext.KeyHome,
	glfw.KeyEnd:          gpucontext.KeyEnd,
	glfw.KeyPageUp:       gpucontext.KeyPageUp,
	glfw.KeyPageDown:     gpucontext.KeyPageDown,
	glfw.KeyLeft:         gpucontext.KeyLeft,
	glfw.KeyRight:        gpucontext.KeyRight,
	glfw.KeyUp:           gpucontext.KeyUp,
	glfw.KeyDown:         gpucontext.KeyDown,
	glfw.KeyLeftShift:    gpucontext.KeyLeftShift,
	glfw.KeyRightShift:   gpucontext.KeyRightShift,
	glfw.KeyLeftControl:  gpucontext.KeyLeftControl,
	glfw.KeyRightControl: gpucontext.KeyRightControl,
	glfw.KeyLeftAlt:      gpucontext.KeyLeftAlt,
	glfw.KeyRightAlt:     gpucontext.KeyRightAlt,
	glfw.KeyLeftSuper:    gpucontext.KeyLeftSuper,
	glfw.KeyRightSuper:   gpucontext.KeyRightSuper,
	glfw.KeyMinus:        gpucontext.KeyMinus,
	glfw.KeyEqual:        gpucontext.KeyEqual,
	glfw.KeyLeftBracket:  gpucontext.KeyLeftBracket,
	glfw.KeyRightBracket: gpucontext.KeyRightBracket,
	glfw.KeyBackslash:    gpucontext.KeyBackslash,
	glfw.KeySemicolon:    gpucontext.KeySemicolon,
	glfw.KeyApostrophe:   gpucontext.KeyApostrophe,
	glfw.KeyGraveAccent:  gpucontext.KeyGrave,
	glfw.KeyComma:        gpucontext.KeyComma,
	glfw.KeyPeriod:       gpucontext.KeyPeriod,
	glfw.KeySlash:        gpucontext.KeySlash,
	glfw.KeyCapsLock:     gpucontext.KeyCapsLock,
	glfw.KeyScrollLock:   gpucontext.KeyScrollLock,
	glfw.KeyNumLock:      gpucontext.KeyNumLock,
	glfw.KeyPrintScreen:  gpucontext.KeyPrintScreen,
	glfw.KeyPause:        gpucontext.KeyPause,
	glfw.KeyKPDecimal:    gpucontext.KeyNumpadDecimal,
	glfw.KeyKPDivide:     gpucontext.KeyNumpadDivide,
	glfw.KeyKPMultiply:   gpucontext.KeyNumpadMultiply,
	glfw.KeyKPSubtract:   gpucontext.KeyNumpadSubtract,
	glfw.KeyKPAdd:        gpucontext.KeyNumpadAdd,
	glfw.KeyKPEnter:      gpucontext.KeyNumpadEnter,
}

// mapKey converts a glfw key. Letters, digits, function keys and the
// keypad digits are contiguous ranges in both enumerations.
func mapKey(k glfw.Key) gpucontext.Key {
	switch {
	case k >= glfw.KeyA && k <= glfw.KeyZ:
		return gpucontext.KeyA + gpucontext.Key(k-glfw.KeyA)
	case k >= glfw.Key0 && k <= glfw.Key9:
		return gpucontext.Key0 + gpucontext.Key(k-glfw.Key0)
	case k >= glfw.KeyF1 && k <= glfw.KeyF12:
		return gpucontext.KeyF1 + gpucontext.Key(k-glfw.KeyF1)
	case k >= glfw.KeyKP0 && k <= glfw.KeyKP9:
		return gpucontext.KeyNumpad0 + gpucontext.Key(k-glfw.KeyKP0)
	}
	if g, ok := namedKeys[k]; ok {
		return g
	}
	return gpucontext.KeyUnknown
}

func mapMods(m glfw.ModifierKey) gpucontext.Modifiers {
	var out gpucontext.Modifiers
	for _, p := range [...]struct {
		from glfw.ModifierKey
		to   gpucontext.Modifiers
	}{
		{glfw.ModShift, gpucontext.ModShift},
		{glfw.ModControl, gpucontext.ModControl},
		{glfw.ModAlt, gpucontext.ModAlt},
		{glfw.ModSuper, gpucontext.ModSuper},
		{glfw.ModCapsLock, gpucontext.ModCapsLock},
		{glfw.ModNumLock, gpucontext.ModNumLock},
	} {
		if m&p.from != 0 {
			out |= p.to
		}
	}
	return out
}

func mapButton(b glfw.MouseButton) gpucontext.MouseButton {
	switch b {
	case glfw.MouseButtonRight:
		return gpucontext.MouseButtonRight
	case glfw.MouseButtonMiddle:
		return gpucontext.MouseButtonMiddle
	case glfw.MouseButton4:
		return gpucontext.MouseButton4
	default:
		return gpucontext.MouseButtonLeft
	}
}
