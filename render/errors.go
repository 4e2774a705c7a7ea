// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// ErrNoTargets is returned by Frame before the first successful Resize.
var ErrNoTargets = errors.New("render: no render targets")

// SubmissionError reports a frame that could not be recorded, submitted or
// presented. The frame is skipped and rendering continues.
type SubmissionError struct {
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// DeviceLostError reports that the GPU device or the window surface is
// gone. It is fatal for the engine.
type DeviceLostError struct {
	Stage string
	Err   error
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("render: device lost during %s: %v", e.Stage, e.Err)
}

func (e *DeviceLostError) Unwrap() error { return e.Err }

// isDeviceLost reports errors no frame can recover from.
func isDeviceLost(err error) bool {
	return errors.Is(err, hal.ErrDeviceLost) || errors.Is(err, hal.ErrSurfaceLost)
}
