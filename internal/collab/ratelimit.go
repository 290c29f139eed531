package collab

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window message counter per client id. The
// window starts on the first message; once it expires, the next message
// opens a fresh window with its count reset to 1.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	counts map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	start time.Time
	count int
}

// NewRateLimiter builds a limiter allowing limit messages per window.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		window: window,
		limit:  limit,
		counts: make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Allow records one message from clientID and reports whether it is
// within the current window's budget.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	wc, ok := rl.counts[clientID]
	if !ok || now.Sub(wc.start) >= rl.window {
		rl.counts[clientID] = &windowCount{start: now, count: 1}
		return true
	}
	wc.count++
	return wc.count <= rl.limit
}

// Forget drops the counter for a disconnected client.
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counts, clientID)
}

// Prune removes windows that expired before now, bounding table growth.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, wc := range rl.counts {
		if now.Sub(wc.start) >= rl.window {
			delete(rl.counts, id)
		}
	}
}
