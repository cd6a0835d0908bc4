package scraper

import (
	"context"
	"sync"
	"time"
)

// sleepFunc blocks for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// throttle enforces the inter-request delay between consecutive fetches of
// a run. The first Wait returns immediately.
type throttle struct {
	delay time.Duration
	sleep sleepFunc

	mu      sync.Mutex
	started bool
}

func newThrottle(delay time.Duration, sleep sleepFunc) *throttle {
	if sleep == nil {
		sleep = sleepContext
	}
	return &throttle{delay: delay, sleep: sleep}
}

func (t *throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	first := !t.started
	t.started = true
	t.mu.Unlock()

	if first || t.delay <= 0 {
		return ctx.Err()
	}
	return t.sleep(ctx, t.delay)
}
