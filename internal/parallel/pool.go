package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of background work. The context is cancelled when the pool
// closes; long tasks should check it between steps.
type Task func(ctx context.Context)

// WorkerPool runs shader compile and link tasks off the render thread.
//
// Each worker owns a queue and steals from the others when its own queue is
// empty, so one slow compile does not hold back tasks queued behind it.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closeMu orders Submit against Close so no task is queued after the
	// workers have drained.
	closeMu sync.RWMutex
	running atomic.Bool
	next    atomic.Uint32

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan Task, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.idle = sync.NewCond(&p.mu)
	for i := range workers {
		p.queues[i] = make(chan Task, queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case t := <-own:
			p.run(t)
			continue
		default:
		}
		if t := p.steal(id); t != nil {
			p.run(t)
			continue
		}
		select {
		case <-p.ctx.Done():
			p.drain(own)
			return
		case t := <-own:
			p.run(t)
		}
	}
}

func (p *WorkerPool) run(t Task) {
	defer p.finish()
	if t != nil {
		t(p.ctx)
	}
}

func (p *WorkerPool) finish() {
	p.mu.Lock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// drain runs whatever is left in a queue after shutdown. Tasks see a
// cancelled context.
func (p *WorkerPool) drain(q chan Task) {
	for {
		select {
		case t := <-q:
			p.run(t)
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(self int) Task {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case t := <-p.queues[i]:
			return t
		default:
		}
	}
	return nil
}

// Submit queues a task on the next worker in round-robin order. It blocks
// while that queue is full and returns false if the pool is closed.
func (p *WorkerPool) Submit(t Task) bool {
	if t == nil {
		return false
	}
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if !p.running.Load() {
		return false
	}
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	idx := int(p.next.Add(1)-1) % p.workers
	p.queues[idx] <- t
	return true
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.mu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Close stops accepting work, cancels the pool context, runs what is still
// queued and waits for the workers to exit. Safe to call multiple times.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.closeMu.Unlock()
		return
	}
	p.closeMu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// Pending returns the number of tasks submitted but not yet finished.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}
