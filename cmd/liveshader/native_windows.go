//go:build windows

package main

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"golang.org/x/sys/windows"
)

// nativeHandles returns the module instance and the HWND.
func nativeHandles(win *glfw.Window) (display, window uintptr, err error) {
	var inst windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &inst); err != nil {
		return 0, 0, fmt.Errorf("module handle: %w", err)
	}
	return uintptr(inst), uintptr(unsafe.Pointer(win.GetWin32Window())), nil
}
