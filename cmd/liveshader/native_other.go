//go:build !windows && !(linux && !wayland)

package main

import (
	"errors"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// nativeHandles is not implemented here; use -headless.
func nativeHandles(*glfw.Window) (display, window uintptr, err error) {
	return 0, 0, errors.New("windowed mode is not supported on " + runtime.GOOS + ", use -headless")
}
