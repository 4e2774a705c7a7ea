// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"time"

	"github.com/chewxy/math32"
)

// Stats is a snapshot of renderer counters.
type Stats struct {
	// FPS is an exponential moving average over presented frames.
	FPS float64

	// FrameTime is the interval between the last two presented frames.
	FrameTime time.Duration

	Frames   uint64
	Skipped  uint64
	Timeouts uint64

	// LastSkip is the error that caused the most recent skipped frame.
	LastSkip error

	// Slot and Generation identify what the last frame drew. Generation is
	// zero when the fallback colour was shown.
	Slot       string
	Generation uint64
	Paused     bool
}

// fpsMeter smooths instantaneous frame rates.
type fpsMeter struct {
	alpha float32
	value float32
}

func newFPSMeter(alpha float32) fpsMeter {
	return fpsMeter{alpha: math32.Max(0.01, math32.Min(alpha, 1))}
}

func (m *fpsMeter) add(dt time.Duration) float32 {
	if dt <= 0 {
		return m.value
	}
	inst := 1 / float32(dt.Seconds())
	if math32.IsInf(inst, 0) || math32.IsNaN(inst) {
		return m.value
	}
	if m.value == 0 {
		m.value = inst
		return m.value
	}
	m.value += m.alpha * (inst - m.value)
	return m.value
}
