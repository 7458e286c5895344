package server

import (
	"sync"
	"time"
)

// Rejection reasons
const (
	ReasonTooManyConcurrent = "too many concurrent orchestrations"
	ReasonRateLimited       = "rate limit exceeded"
)

// RateLimiter bounds orchestrations with a one-minute sliding window and a
// concurrency cap. A zero limit disables that check.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	window            time.Duration
	requests          []time.Time
	active            int
	now               func() time.Time
}

// NewRateLimiter creates a limiter
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		window:            time.Minute,
		now:               time.Now,
	}
}

// Acquire admits a request or returns the reason it was rejected. Every
// admitted request must call Release.
func (r *RateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConcurrent > 0 && r.active >= r.maxConcurrent {
		return false, ReasonTooManyConcurrent
	}

	now := r.now()
	r.prune(now)
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, ReasonRateLimited
	}

	r.requests = append(r.requests, now)
	r.active++
	return true, ""
}

// Release ends an admitted request
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active > 0 {
		r.active--
	}
}

// Stats returns the requests in the current window and the active count
func (r *RateLimiter) Stats() (requests, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.active
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
}
