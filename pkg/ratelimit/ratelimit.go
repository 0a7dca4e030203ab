package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Window grants at most limit permits within any rolling window of the given
// duration. It is safe for concurrent use by multiple goroutines and is meant
// to be shared by every crawl in the process.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time // ascending grant times still inside the window
	now    func() time.Time

	// OnWait is called with the time a caller spent blocked, when non-zero.
	OnWait func(time.Duration)
}

// NewWindow creates a rolling window limiter. If limit <= 0 or window <= 0,
// the limiter never blocks.
func NewWindow(limit int, window time.Duration) *Window {
	return &Window{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until a permit is available or ctx is done. Exhaustion only adds
// latency; the only errors returned are ctx.Err().
func (w *Window) Wait(ctx context.Context) error {
	if w.limit <= 0 || w.window <= 0 {
		return ctx.Err()
	}

	start := w.now()
	for {
		w.mu.Lock()
		now := w.now()
		w.evict(now)
		if len(w.grants) < w.limit {
			w.grants = append(w.grants, now)
			w.mu.Unlock()
			if waited := now.Sub(start); waited > 0 && w.OnWait != nil {
				w.OnWait(waited)
			}
			return nil
		}
		// The oldest grant leaves the window first.
		wait := w.grants[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InUse reports how many permits are currently held inside the window.
func (w *Window) InUse() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.grants)
}

// evict drops grants older than the window. Must be called with mu held.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants = append(w.grants[:0], w.grants[i:]...)
	}
}

// Pacer spaces consecutive operations of a single caller by a random delay in
// [min, max]. Unlike Window it holds no shared state.
type Pacer struct {
	min time.Duration
	max time.Duration
}

// NewPacer creates a pacer. A zero or negative max disables pacing; max is
// raised to min if smaller.
func NewPacer(min, max time.Duration) Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return Pacer{min: min, max: max}
}

// Delay returns the next randomized delay.
func (p Pacer) Delay() time.Duration {
	if p.max <= 0 {
		return 0
	}
	if p.max == p.min {
		return p.min
	}
	return p.min + time.Duration(rand.Int64N(int64(p.max-p.min)))
}

// Wait sleeps for Delay() or until ctx is done.
func (p Pacer) Wait(ctx context.Context) error {
	d := p.Delay()
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
