package app

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window counter per key. Single-process by design:
// it is a courtesy throttle in front of mutating HTTP operations, not a
// security boundary.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	interval time.Duration

	now func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*window),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether the key may perform one more operation in the
// current window. The first call after a window expires resets it.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.interval {
		rl.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter reports how long until the key's window resets. Guidance for
// 429 responses only; a subsequent Allow is still authoritative.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok {
		return 0
	}
	remain := rl.interval - rl.now().Sub(w.start)
	if remain < 0 {
		return 0
	}
	return remain
}
