// Package schedule runs delayed and periodic callbacks that stop for good once their
// context is cancelled. A callback never starts after cancellation has been observed.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used for scheduling
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback
type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// After runs fn once after d unless ctx is cancelled first
func After(ctx context.Context, clock Clock, d time.Duration, fn func()) {
	start(ctx, clock, d, 0, fn)
}

// Every runs fn after first and then every period until ctx is cancelled.
// The next run is armed only after fn returns, so runs never overlap.
func Every(ctx context.Context, clock Clock, first, period time.Duration, fn func()) {
	start(ctx, clock, first, period, fn)
}

type task struct {
	ctx    context.Context
	clock  Clock
	period time.Duration
	fn     func()

	mu    sync.Mutex
	timer Timer
}

func start(ctx context.Context, clock Clock, first, period time.Duration, fn func()) {
	t := &task{ctx: ctx, clock: clock, period: period, fn: fn}
	t.arm(first)
	context.AfterFunc(ctx, t.stop)
}

func (t *task) arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return
	}
	t.timer = t.clock.AfterFunc(d, t.fire)
}

func (t *task) fire() {
	if t.ctx.Err() != nil {
		return
	}
	t.fn()
	if t.period > 0 {
		t.arm(t.period)
	}
}

func (t *task) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
