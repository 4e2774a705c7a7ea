// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package surface hands out frames to present into.
//
// Presenter drives a hal.Surface owned by a window: it configures the
// swapchain, acquires the next texture and presents it. Headless keeps a
// single offscreen texture instead and is used for batch runs and tests.
//
// Both return a Frame carrying the texture and a render view. A frame must
// be given back exactly once, through Present or Discard.
package surface
