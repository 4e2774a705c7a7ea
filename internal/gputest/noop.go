// Package gputest provides noop-backend devices and failure injection for
// tests of GPU-facing packages.
package gputest

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("gputest: injected failure")

// NewNoopDevice opens a device on the noop backend. Resources are released
// through t.Cleanup.
func NewNoopDevice(t testing.TB) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// NewNoopSurface creates a noop hal.Surface.
func NewNoopSurface(t testing.TB) hal.Surface {
	t.Helper()
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	s, err := instance.CreateSurface(0, 0)
	if err != nil {
		t.Fatalf("CreateSurface failed: %v", err)
	}
	return s
}

// Device wraps a hal.Device and counts or fails selected calls.
type Device struct {
	hal.Device

	// FailPipeline makes CreateRenderPipeline return ErrInjected.
	FailPipeline atomic.Bool

	// FailTexture makes CreateTexture return ErrInjected.
	FailTexture atomic.Bool

	// FailBeginEncoding makes BeginEncoding on new encoders return
	// ErrInjected.
	FailBeginEncoding atomic.Bool

	mu                 sync.Mutex
	passes             []PassRecord
	createdPipelines   int
	destroyedPipelines int
	createdTextures    int
	destroyedTextures  int
	discards           int
}

// WrapDevice returns a counting wrapper around d.
func WrapDevice(d hal.Device) *Device { return &Device{Device: d} }

func (d *Device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	if d.FailPipeline.Load() {
		return nil, ErrInjected
	}
	p, err := d.Device.CreateRenderPipeline(desc)
	if err == nil {
		d.mu.Lock()
		d.createdPipelines++
		d.mu.Unlock()
	}
	return p, err
}

func (d *Device) DestroyRenderPipeline(p hal.RenderPipeline) {
	d.mu.Lock()
	d.destroyedPipelines++
	d.mu.Unlock()
	d.Device.DestroyRenderPipeline(p)
}

func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if d.FailTexture.Load() {
		return nil, ErrInjected
	}
	t, err := d.Device.CreateTexture(desc)
	if err == nil {
		d.mu.Lock()
		d.createdTextures++
		d.mu.Unlock()
	}
	return t, err
}

func (d *Device) DestroyTexture(t hal.Texture) {
	d.mu.Lock()
	d.destroyedTextures++
	d.mu.Unlock()
	d.Device.DestroyTexture(t)
}

// PassRecord describes one recorded render pass.
type PassRecord struct {
	Label    string
	LoadOp   gputypes.LoadOp
	Clear    gputypes.Color
	Pipeline hal.RenderPipeline
	Vertices uint32
	Draws    int
}

func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &encoder{CommandEncoder: enc, dev: d}, nil
}

// Passes returns the render passes recorded so far.
func (d *Device) Passes() []PassRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PassRecord(nil), d.passes...)
}

// ResetPasses forgets recorded passes.
func (d *Device) ResetPasses() {
	d.mu.Lock()
	d.passes = nil
	d.mu.Unlock()
}

type encoder struct {
	hal.CommandEncoder
	dev *Device
}

func (e *encoder) BeginEncoding(label string) error {
	if e.dev.FailBeginEncoding.Load() {
		return ErrInjected
	}
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *encoder) DiscardEncoding() {
	e.dev.mu.Lock()
	e.dev.discards++
	e.dev.mu.Unlock()
	e.CommandEncoder.DiscardEncoding()
}

// Discards returns how many encoders were discarded.
func (d *Device) Discards() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discards
}

func (e *encoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	rec := PassRecord{Label: desc.Label}
	if len(desc.ColorAttachments) > 0 {
		rec.LoadOp = desc.ColorAttachments[0].LoadOp
		rec.Clear = desc.ColorAttachments[0].ClearValue
	}
	return &pass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), dev: e.dev, rec: rec}
}

type pass struct {
	hal.RenderPassEncoder
	dev *Device
	rec PassRecord
}

func (p *pass) SetPipeline(rp hal.RenderPipeline) {
	p.rec.Pipeline = rp
	p.RenderPassEncoder.SetPipeline(rp)
}

func (p *pass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.rec.Draws++
	p.rec.Vertices += vertexCount
	p.RenderPassEncoder.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *pass) End() {
	p.RenderPassEncoder.End()
	p.dev.mu.Lock()
	p.dev.passes = append(p.dev.passes, p.rec)
	p.dev.mu.Unlock()
}

// Pipelines returns the number of pipelines created and destroyed.
func (d *Device) Pipelines() (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdPipelines, d.destroyedPipelines
}

// Textures returns the number of textures created and destroyed.
func (d *Device) Textures() (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdTextures, d.destroyedTextures
}

// Queue wraps a hal.Queue. Submissions complete only when Complete is
// called, and the next submit or present can be made to fail.
type Queue struct {
	hal.Queue

	mu          sync.Mutex
	submitted   uint64
	completed   uint64
	manual      bool
	submitErr   error
	presentErr  error
	presents    int
	lastUniform []byte
}

// WrapQueue returns a wrapper around q. With manual set, PollCompleted only
// advances through Complete.
func WrapQueue(q hal.Queue, manual bool) *Queue {
	return &Queue{Queue: q, manual: manual}
}

func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		err := q.submitErr
		q.submitErr = nil
		return 0, err
	}
	if _, err := q.Queue.Submit(cmds); err != nil {
		return 0, err
	}
	q.submitted++
	if !q.manual {
		q.completed = q.submitted
	}
	return q.submitted, nil
}

func (q *Queue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

func (q *Queue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	q.mu.Lock()
	q.lastUniform = append(q.lastUniform[:0], data...)
	q.mu.Unlock()
	return q.Queue.WriteBuffer(buf, offset, data)
}

func (q *Queue) Present(s hal.Surface, tex hal.SurfaceTexture, damage []image.Rectangle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.presentErr != nil {
		err := q.presentErr
		q.presentErr = nil
		return err
	}
	q.presents++
	return q.Queue.Present(s, tex, damage)
}

// FailNextSubmit makes the next Submit return err.
func (q *Queue) FailNextSubmit(err error) {
	q.mu.Lock()
	q.submitErr = err
	q.mu.Unlock()
}

// FailNextPresent makes the next Present return err.
func (q *Queue) FailNextPresent(err error) {
	q.mu.Lock()
	q.presentErr = err
	q.mu.Unlock()
}

// Complete marks every submission so far as finished.
func (q *Queue) Complete() {
	q.mu.Lock()
	q.completed = q.submitted
	q.mu.Unlock()
}

// Submitted returns the last submission index.
func (q *Queue) Submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// Presents returns the number of successful presents.
func (q *Queue) Presents() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.presents
}

// LastWrite returns a copy of the data from the most recent WriteBuffer.
func (q *Queue) LastWrite() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]byte(nil), q.lastUniform...)
}
