package session

import (
	"sync"
	"time"
)

// refreshLimiter is a keyed sliding-window limiter for rotations per session.
// A limit of zero disables it.
type refreshLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string][]time.Time

	// sweepEvery bounds how often idle buckets are dropped.
	sweepEvery time.Duration
	lastSweep  time.Time
}

func newRefreshLimiter(limit int, window time.Duration) *refreshLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &refreshLimiter{
		limit:      limit,
		window:     window,
		buckets:    make(map[string][]time.Time),
		sweepEvery: window,
	}
}

// Check reports whether key may rotate at now without recording anything. When denied
// it returns the time until the oldest event in the window falls out.
func (r *refreshLimiter) Check(key string, now time.Time) (bool, time.Duration) {
	if r == nil || r.limit <= 0 {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.maybeSweepLocked(now)
	events := r.pruneLocked(key, now)
	if len(events) < r.limit {
		return true, 0
	}
	retry := events[0].Add(r.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return false, retry
}

// Record counts one completed rotation for key.
func (r *refreshLimiter) Record(key string, now time.Time) {
	if r == nil || r.limit <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets[key] = append(r.pruneLocked(key, now), now)
}

func (r *refreshLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cut := now.Add(-r.window)
	events := r.buckets[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.buckets[key] = dst
	return dst
}

func (r *refreshLimiter) maybeSweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.sweepEvery {
		return
	}
	r.lastSweep = now
	cut := now.Add(-r.window)
	for k, events := range r.buckets {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(r.buckets, k)
		}
	}
}
