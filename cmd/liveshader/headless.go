package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/liveshader"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/surface"
)

// firstFrameTimeout bounds the wait for the first successful build.
const firstFrameTimeout = 30 * time.Second

var errNoGoodFrame = errors.New("no program compiled")

// runHeadless renders offscreen until the active program has compiled,
// draws one frame, writes the painting and returns. With a recording it
// first renders until the recording has its frames.
func runHeadless(ctx context.Context, s session, opts []liveshader.Option) error {
	g, err := openGPU(0, 0)
	if err != nil {
		return err
	}
	defer g.close()

	presenter := surface.NewHeadless(g.dev, g.format)
	defer presenter.Close()

	e, err := liveshader.New(g.handle(), presenter, append(opts, liveshader.WithSize(s.width, s.height), liveshader.WithOverlay(false))...)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Stop() //nolint:errcheck // the export result is what matters

	if err := waitFirstBuild(ctx, e); err != nil {
		return err
	}
	if s.record {
		if err := recordHeadless(ctx, e, s); err != nil {
			return err
		}
		if s.export == "" {
			return nil
		}
	}
	if err := e.Frame(); err != nil {
		return err
	}
	exportPath := s.export
	if exportPath == "" {
		exportPath = e.ActiveSlot() + ".tiff"
	}
	return exportOnExit(e, exportPath)
}

var errRecordingStopped = errors.New("recording stopped early")

// recordHeadless renders at the recording frame rate until recordFrames
// frames are captured, then stops the recording.
func recordHeadless(ctx context.Context, e *liveshader.Engine, s session) error {
	tick := time.NewTicker(time.Second / time.Duration(s.recordFPS))
	defer tick.Stop()
	e.ToggleRecording()
	for {
		if err := e.Frame(); err != nil {
			return err
		}
		if !e.Recording() {
			return errRecordingStopped
		}
		if e.RecordedFrames() >= s.recordFrames {
			e.ToggleRecording()
			return e.Frame()
		}
		select {
		case <-ctx.Done():
			e.ToggleRecording()
			return e.Frame()
		case <-tick.C:
		}
	}
}

// waitFirstBuild polls the active slot until it has a pipeline or its
// first build fails.
func waitFirstBuild(ctx context.Context, e *liveshader.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		st, _ := e.Status(e.ActiveSlot())
		switch {
		case st.Generation > 0:
			return nil
		case st.State == pipeline.StateFailed:
			if st.Diagnostic != nil {
				return fmt.Errorf("%w: %s", errNoGoodFrame, st.Diagnostic)
			}
			return fmt.Errorf("%w: %v", errNoGoodFrame, st.Err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errNoGoodFrame, ctx.Err())
		case <-tick.C:
		}
	}
}
