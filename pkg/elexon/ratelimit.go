package elexon

import (
	"context"
	"sync"
	"time"
)

// windowLimiter enforces a global request budget over a sliding window:
// at most capacity requests within any window-length interval. Safe for a
// single process with concurrent callers.
type windowLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	stamps   []time.Time

	// overridable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newWindowLimiter(capacity int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait blocks until a request slot is free, then records the request
// timestamp. When the window is at capacity it sleeps until the oldest
// timestamp expires and re-checks.
func (l *windowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()

		// Drop timestamps that fell out of the window
		cutoff := now.Add(-l.window)
		for len(l.stamps) > 0 && !l.stamps[0].After(cutoff) {
			l.stamps = l.stamps[1:]
		}

		if len(l.stamps) < l.capacity {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// inFlight returns the number of timestamps currently inside the window.
func (l *windowLimiter) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, s := range l.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
