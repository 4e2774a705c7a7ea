package watch

import (
	"sync"
	"time"
)

// debouncer collapses bursts of notifications per path. fire runs once per
// burst, window after the last notification, with that notification's time
// and accumulated ops.
type debouncer struct {
	window time.Duration
	fire   func(path string, last time.Time, op Op)

	mu      sync.Mutex
	pending map[string]*burst
	stopped bool
}

type burst struct {
	timer *time.Timer
	last  time.Time
	op    Op
}

func newDebouncer(window time.Duration, fire func(string, time.Time, Op)) *debouncer {
	return &debouncer{
		window:  window,
		fire:    fire,
		pending: make(map[string]*burst),
	}
}

func (d *debouncer) trigger(path string, at time.Time, op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if b, ok := d.pending[path]; ok {
		b.last = at
		b.op |= op
		b.timer.Reset(d.window)
		return
	}
	b := &burst{last: at, op: op}
	b.timer = time.AfterFunc(d.window, func() { d.flush(path, b) })
	d.pending[path] = b
}

// flush ignores timers that belong to a burst already delivered.
func (d *debouncer) flush(path string, b *burst) {
	d.mu.Lock()
	if d.stopped || d.pending[path] != b {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	last, op := b.last, b.op
	d.mu.Unlock()
	d.fire(path, last, op)
}

// stop cancels every pending burst. Later triggers are ignored.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, b := range d.pending {
		b.timer.Stop()
		delete(d.pending, path)
	}
}

// inflight returns the number of bursts waiting to fire.
func (d *debouncer) inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
