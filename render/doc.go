// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render runs the per-frame loop of the live shader engine.
//
// The renderer RECEIVES a GPU device from the host, it does not create its
// own. HAL extracts the hal.Device and hal.Queue from a
// gpucontext.DeviceProvider; HALDevice wraps a pair the host already has.
//
// # Frame
//
// Each Frame captures the current pipeline of the active slot once, writes
// the uniform block, draws a fullscreen triangle into the render target,
// copies the target to the surface frame, runs the overlay compositor and
// presents. While no pipeline is ready the target is cleared to the
// fallback colour.
//
// # Errors
//
// A failure that affects a single frame is wrapped in *SubmissionError,
// counted in Stats and skipped. Device or surface loss is returned as
// *DeviceLostError and is fatal for the engine.
//
// # Retirement
//
// Submitted command buffers are freed once the queue reports them
// complete, and the same completion index is handed to the pipeline source
// so replaced pipelines are destroyed only after their last frame.
package render
