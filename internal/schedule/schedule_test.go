package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAfterRunsOnce(t *testing.T) {
	clock := NewFakeClock(epoch)
	var runs int
	After(context.Background(), clock, 3*time.Second, func() { runs++ })

	clock.Advance(2999 * time.Millisecond)
	if runs != 0 {
		t.Fatalf("Expected no run before the delay, got: %d", runs)
	}
	clock.Advance(time.Millisecond)
	if runs != 1 {
		t.Fatalf("Expected one run, got: %d", runs)
	}
	clock.Advance(time.Hour)
	if runs != 1 {
		t.Errorf("Expected exactly one run, got: %d", runs)
	}
}

func TestEveryRepeats(t *testing.T) {
	clock := NewFakeClock(epoch)
	var fired []time.Duration
	Every(context.Background(), clock, 10500*time.Millisecond, 10*time.Second, func() {
		fired = append(fired, clock.Now().Sub(epoch))
	})

	clock.Advance(40 * time.Second)
	expected := []time.Duration{10500 * time.Millisecond, 20500 * time.Millisecond, 30500 * time.Millisecond}
	if len(fired) != len(expected) {
		t.Fatalf("Expected %d runs, got: %v", len(expected), fired)
	}
	for i := range expected {
		if fired[i] != expected[i] {
			t.Errorf("Run %d: expected at %v, got: %v", i, expected[i], fired[i])
		}
	}
}

func TestCancelStopsTasks(t *testing.T) {
	clock := NewFakeClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	var once, repeated int
	After(ctx, clock, time.Second, func() { once++ })
	Every(ctx, clock, time.Second, time.Second, func() { repeated++ })

	cancel()
	clock.Advance(time.Minute)
	if once != 0 || repeated != 0 {
		t.Errorf("Expected no runs after cancel, got: %d and %d", once, repeated)
	}
}

func TestCancelFromInsideCallback(t *testing.T) {
	clock := NewFakeClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	var runs int
	Every(ctx, clock, time.Second, time.Second, func() {
		runs++
		if runs == 2 {
			cancel()
		}
	})

	clock.Advance(time.Minute)
	if runs != 2 {
		t.Errorf("Expected the task to stop after the cancelling run, got: %d runs", runs)
	}
}

func TestRealClock(t *testing.T) {
	var fired atomic.Bool
	done := make(chan struct{})
	After(context.Background(), RealClock(), 10*time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the real clock to fire")
	}
	if !fired.Load() {
		t.Error("Expected callback to run")
	}
}

func TestFakeTimerStop(t *testing.T) {
	clock := NewFakeClock(epoch)
	var runs int
	timer := clock.AfterFunc(time.Second, func() { runs++ })

	if clock.Pending() != 1 {
		t.Errorf("Expected one pending timer, got: %d", clock.Pending())
	}
	if !timer.Stop() {
		t.Error("Expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}
	clock.Advance(time.Minute)
	if runs != 0 {
		t.Errorf("Expected stopped timer not to fire, got: %d", runs)
	}
}
