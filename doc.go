// Package liveshader renders full-screen WGSL shaders in real time and
// hot-swaps them while their source is edited on disk.
//
// The host owns the window and the GPU device. It hands both to New, calls
// Start once, then Frame on every tick of its render loop:
//
//	eng, err := liveshader.New(provider, presenter, liveshader.WithShaders("shaders/"))
//	if err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop()
//
//	for running {
//	    if err := eng.Frame(); liveshader.IsFatal(err) {
//	        return err
//	    }
//	}
//
// # Hot reload
//
// A file change is debounced, compiled and linked in the background. The
// new pipeline replaces the old one between frames, vertex and fragment
// together. A broken edit never interrupts rendering: the last good
// pipeline keeps running and the diagnostic is shown in the overlay. Until
// a program has compiled once, a fallback colour is drawn.
//
// # Shader interface
//
// Programs read per-frame values from group 0, binding 0. See
// resource.FrameWGSL for the declaration to paste into a shader.
package liveshader
