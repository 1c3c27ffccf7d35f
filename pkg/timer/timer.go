// Package timer implements a reset/stop-able periodic callback, the
// building block for the election, heartbeat and snapshot-check timers
// driven by the consensus core.
package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer fires a callback on a fixed interval until reset to a new interval
// or stopped. Reset and Stop are generation-guarded: a tick already in
// flight when Reset/Stop runs is discarded rather than acting on stale
// state, so a late fire is always a no-op against the current generation.
type Timer struct {
	name     string
	callback func()

	mu         sync.Mutex
	generation uint64
	interval   time.Duration
	t          *time.Timer
	running    bool
}

// New creates a Timer that is not yet scheduled. name is used only for
// diagnostics.
func New(name string) *Timer {
	return &Timer{name: name}
}

// Schedule starts (or restarts) the timer at the given interval, invoking
// callback on every fire until Stop. Reset changes the interval and the
// generation but keeps invoking the same callback.
func (t *Timer) Schedule(interval time.Duration, callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.callback = callback
	t.interval = interval
	t.running = true
	gen := atomic.AddUint64(&t.generation, 1)
	t.armLocked(gen)
}

// Reset rearms the timer at a new interval, discarding any fire already
// scheduled under the previous generation.
func (t *Timer) Reset(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.interval = interval
		return
	}
	t.interval = interval
	gen := atomic.AddUint64(&t.generation, 1)
	if t.t != nil {
		t.t.Stop()
	}
	t.armLocked(gen)
}

// Stop halts the timer. A fire already in flight under the prior
// generation becomes a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.running = false
}

func (t *Timer) stopLocked() {
	atomic.AddUint64(&t.generation, 1)
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) armLocked(gen uint64) {
	t.t = time.AfterFunc(t.interval, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if atomic.LoadUint64(&t.generation) != gen || !t.running {
		t.mu.Unlock()
		return
	}
	cb := t.callback
	t.armLocked(gen)
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}
