package loop

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Timers runs keyed callbacks on a Loop at a given time. Scheduling a key
// replaces its pending callback; cancelling an absent or fired key does
// nothing.
type Timers struct {
	loop *Loop
	now  func() time.Time

	mu      sync.Mutex
	gen     uint64
	pending map[string]pending
}

// NewTimers returns timers posting to l.
func NewTimers(l *Loop) *Timers {
	return &Timers{loop: l, now: time.Now, pending: make(map[string]pending)}
}

// Schedule runs fn on the loop at the given time.
func (t *Timers) Schedule(key string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[key]; ok {
		p.timer.Stop()
	}
	t.gen++
	gen := t.gen
	d := at.Sub(t.now())
	if d < 0 {
		d = 0
	}
	timer := time.AfterFunc(d, func() {
		t.loop.Post(func() {
			if t.claim(key, gen) {
				fn()
			}
		})
	})
	t.pending[key] = pending{timer: timer, gen: gen}
}

// claim removes key if it still belongs to generation gen.
func (t *Timers) claim(key string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[key]
	if !ok || p.gen != gen {
		return false
	}
	delete(t.pending, key)
	return true
}

// Cancel drops the pending callback of key.
func (t *Timers) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[key]; ok {
		p.timer.Stop()
		delete(t.pending, key)
	}
}

// Pending reports whether key has a callback waiting.
func (t *Timers) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}
