package pipeline

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/internal/native"
	"github.com/gogpu/liveshader/shader"
	"github.com/gogpu/wgpu/hal"
)

// Pipeline is a linked GPU render pipeline for one slot. A published
// Pipeline is immutable apart from its last-use mark.
type Pipeline struct {
	Slot       string
	Generation uint64

	// Format is the color target format the pipeline was linked against.
	Format gputypes.TextureFormat

	Vertex   *shader.Module
	Fragment *shader.Module

	status  Status
	res     *native.RenderResources
	lastUse atomic.Uint64
}

// Raw returns the HAL pipeline to bind.
func (p *Pipeline) Raw() hal.RenderPipeline {
	if p == nil || p.res == nil {
		return nil
	}
	return p.res.Pipeline
}

// Status returns the pipeline status. Pipelines returned by
// Manager.Current are always StatusReady.
func (p *Pipeline) Status() Status { return p.status }

// MarkUsed records that a queue submission references this pipeline.
// The mark only moves forward.
func (p *Pipeline) MarkUsed(submission uint64) {
	for {
		cur := p.lastUse.Load()
		if submission <= cur || p.lastUse.CompareAndSwap(cur, submission) {
			return
		}
	}
}

// LastUse returns the highest submission index recorded by MarkUsed.
func (p *Pipeline) LastUse() uint64 { return p.lastUse.Load() }

func (p *Pipeline) destroy() {
	if p.res != nil {
		p.res.Destroy()
	}
	p.status = StatusFailed
}
