// Package loop serialises every mutation of the engine on one goroutine:
// control ticks, timer callbacks and device events are queued as functions
// and run to completion one at a time.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/monitoring"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("loop stopped")

// Loop runs posted functions in order.
type Loop struct {
	queue chan func()
	done  chan struct{}
	log   logger.Logger
}

// New returns a loop buffering up to size pending functions.
func New(size int, log logger.Logger) *Loop {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Loop{queue: make(chan func(), size), done: make(chan struct{}), log: log}
}

// Run executes queued functions until ctx is cancelled. A panicking
// function is reported and does not stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.CapturePanic(r, map[string]string{"module": "loop"})
			l.log.Errorf("loop callback panicked: %v", r)
		}
	}()
	fn()
}

// Post queues fn. It returns false when the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do queues fn and waits for it to complete.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every posts fn at each interval until ctx is cancelled. Ticks are
// aligned to multiples of interval since the Unix epoch.
func (l *Loop) Every(ctx context.Context, interval time.Duration, fn func()) {
	go func() {
		wait := time.Until(time.Now().Truncate(interval).Add(interval))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				l.Post(fn)
				timer.Reset(time.Until(time.Now().Truncate(interval).Add(interval)))
			case <-ctx.Done():
				return
			}
		}
	}()
}
