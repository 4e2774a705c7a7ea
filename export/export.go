// Package export renders a "painting": one frame of a shader at a
// resolution independent of the window, read back and written to disk.
//
// The GPU part runs synchronously on the render thread. Encoding and the
// file write run in the background; each request reports once on its
// result channel.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/pipeline"
	"github.com/gogpu/liveshader/resource"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"
)

// MaxDimension bounds each side of an export.
const MaxDimension = 16384

// copyPitchAlignment is the row alignment required for texture to buffer
// copies.
const copyPitchAlignment = 256

var (
	// ErrNoPipeline is returned when the slot has no ready pipeline.
	ErrNoPipeline = errors.New("export: no ready pipeline")

	// ErrTooLarge is returned when a side exceeds MaxDimension.
	ErrTooLarge = errors.New("export: size too large")

	// ErrUnsupportedFormat is returned for target formats that cannot be
	// converted to RGBA8.
	ErrUnsupportedFormat = errors.New("export: unsupported target format")
)

// PipelineSource is the part of pipeline.Manager the exporter uses.
type PipelineSource interface {
	Current(slot string) *pipeline.Pipeline
}

// Request describes one export.
type Request struct {
	Path   string
	Width  uint32
	Height uint32
	Slot   string

	// Frame carries time, mouse and parameters. Resolution is overwritten
	// with the export size.
	Frame resource.UniformFrame
}

// Result reports a finished export.
type Result struct {
	Path    string
	Width   uint32
	Height  uint32
	Elapsed time.Duration
	Err     error
}

// Option configures an Exporter.
type Option func(*options)

type options struct {
	writers int
}

// WithWriters limits concurrent encodes. Defaults to 2.
func WithWriters(n int) Option {
	return func(o *options) { o.writers = max(n, 1) }
}

// Exporter renders offscreen and writes images.
type Exporter struct {
	dev   hal.Device
	queue hal.Queue
	res   *resource.Manager
	pipes PipelineSource

	group *errgroup.Group
}

// New creates an exporter sharing the engine's resources.
func New(dev hal.Device, queue hal.Queue, res *resource.Manager, pipes PipelineSource, opts ...Option) *Exporter {
	o := options{writers: 2}
	for _, opt := range opts {
		opt(&o)
	}
	g := new(errgroup.Group)
	g.SetLimit(o.writers)
	return &Exporter{dev: dev, queue: queue, res: res, pipes: pipes, group: g}
}

// Export captures the image now and writes it in the background. The
// channel receives exactly one Result and is then closed. Cancelling ctx
// before the write starts aborts it.
func (e *Exporter) Export(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	start := time.Now()
	result := Result{Path: req.Path, Width: req.Width, Height: req.Height}

	finish := func(err error) {
		result.Err = err
		result.Elapsed = time.Since(start)
		if err != nil {
			slogger().Warn("export: failed", "path", req.Path, "err", err)
		} else {
			slogger().Info("export: written", "path", req.Path,
				"width", req.Width, "height", req.Height, "elapsed", result.Elapsed)
		}
		out <- result
		close(out)
	}

	if _, err := FormatFromPath(req.Path); err != nil {
		finish(err)
		return out
	}
	img, err := e.Capture(req)
	if err != nil {
		finish(err)
		return out
	}
	e.group.Go(func() error {
		if err := ctx.Err(); err != nil {
			finish(err)
			return nil
		}
		finish(WriteFile(req.Path, img))
		return nil
	})
	return out
}

// Wait blocks until every background write has finished.
func (e *Exporter) Wait() {
	_ = e.group.Wait()
}

// Capture renders req.Slot at the requested size and reads it back.
func (e *Exporter) Capture(req Request) (*image.RGBA, error) {
	w, h := req.Width, req.Height
	if w > MaxDimension || h > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, w, h)
	}
	p := e.pipes.Current(req.Slot)
	if p == nil || p.Status() != pipeline.StatusReady {
		return nil, fmt.Errorf("%w: %q", ErrNoPipeline, req.Slot)
	}
	swap, err := swapsRB(e.res.Format())
	if err != nil {
		return nil, err
	}

	tg, err := e.res.NewOffscreen(w, h)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	defer e.res.Release(tg)

	u := req.Frame
	u.Resolution = [2]float32{float32(w), float32(h)}
	if err := e.res.WriteUniforms(&u); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	rowPitch := (w*4 + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	size := uint64(rowPitch) * uint64(h)
	staging, err := e.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "export_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("export: create staging buffer: %w", err)
	}
	defer e.dev.DestroyBuffer(staging)

	cmd, err := e.record(tg, p, staging, rowPitch)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	defer e.dev.FreeCommandBuffer(cmd)

	idx, err := e.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return nil, fmt.Errorf("export: submit: %w", err)
	}
	p.MarkUsed(idx)
	if err := e.dev.WaitIdle(); err != nil {
		return nil, fmt.Errorf("export: wait for GPU: %w", err)
	}

	m, err := e.dev.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("export: map: %w", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	unpack(img, unsafe.Slice((*byte)(m.Ptr), size), int(rowPitch), swap)
	if err := e.dev.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("export: unmap: %w", err)
	}
	return img, nil
}

func (e *Exporter) record(tg resource.Targets, p *pipeline.Pipeline, staging hal.Buffer, rowPitch uint32) (hal.CommandBuffer, error) {
	enc, err := e.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "export"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("export"); err != nil {
		enc.DiscardEncoding()
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "export_scene",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       tg.View,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{A: 1},
		}},
	})
	pass.SetPipeline(p.Raw())
	pass.SetBindGroup(0, e.res.BindGroup(), nil)
	pass.SetViewport(0, 0, float32(tg.Width), float32(tg.Height), 0, 1)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tg.Color,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	enc.CopyTextureToBuffer(tg.Color, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: rowPitch, RowsPerImage: tg.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: tg.Color},
		Size:         hal.Extent3D{Width: tg.Width, Height: tg.Height, DepthOrArrayLayers: 1},
	}})

	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmd, nil
}

func swapsRB(f gputypes.TextureFormat) (bool, error) {
	switch f {
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true, nil
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
}

// unpack strips row padding and converts BGRA to RGBA when swap is set.
func unpack(dst *image.RGBA, src []byte, pitch int, swap bool) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := range h {
		row := src[y*pitch : y*pitch+w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		copy(out, row)
		if swap {
			for i := 0; i < len(out); i += 4 {
				out[i], out[i+2] = out[i+2], out[i]
			}
		}
	}
}
