package app

import (
	"sync"
	"time"
)

const limiterPruneThreshold = 4096

// RateLimiter is a sliding-window counter of failed attempts keyed by client
// address. Successful attempts are never recorded.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Blocked reports whether key has used up its failures in the current window.
func (rl *RateLimiter) Blocked(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.fresh(key, rl.now())) >= rl.limit
}

// Fail records one failed attempt for key.
func (rl *RateLimiter) Fail(key string) {
	if rl == nil || rl.limit <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.history) > limiterPruneThreshold {
		rl.prune(now.Add(-rl.interval))
	}
	rl.history[key] = append(rl.fresh(key, now), now)
}

func (rl *RateLimiter) fresh(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.interval)
	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		delete(rl.history, key)
	} else {
		rl.history[key] = fresh
	}
	return fresh
}

func (rl *RateLimiter) prune(windowStart time.Time) {
	for key, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, key)
		}
	}
}
