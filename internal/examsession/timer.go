package examsession

import (
	"context"
	"sync"
	"time"
)

// Timer counts down to a fixed deadline. Remaining time is recomputed from the
// deadline and the clock on every tick, so a suspended process or a reload never
// drifts or gains time.
type Timer struct {
	clock    Clock
	endAt    time.Time
	interval time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTimer(clock Clock, endAt time.Time, interval time.Duration, onTick func(time.Duration), onExpire func()) *Timer {
	return &Timer{
		clock:    clock,
		endAt:    endAt,
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Remaining returns the time left until the deadline, never negative.
func (t *Timer) Remaining() time.Duration {
	return remainingUntil(t.clock, t.endAt)
}

func (t *Timer) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		remaining := t.Remaining()
		if t.onTick != nil {
			t.onTick(remaining)
		}
		if remaining <= 0 {
			// onExpire may call Stop; stop is only closed, never waited on here.
			t.onExpire()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the countdown. Safe to call more than once and from onExpire.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Wait blocks until the countdown goroutine has exited.
func (t *Timer) Wait() {
	<-t.done
}

func remainingUntil(clock Clock, endAt time.Time) time.Duration {
	remaining := endAt.Sub(clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
