// Package ratelimit implements per-host token bucket rate limiting for
// content fetches.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedmill/feedmill/internal/metrics"
)

// Limiter spaces requests to the same host by a minimum delay. Hosts are
// independent, so a slow host never throttles the others.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a Limiter enforcing delay between successive requests per
// host. A zero or negative delay disables throttling.
func New(delay time.Duration) *Limiter {
	r := rate.Inf
	if delay > 0 {
		r = rate.Every(delay)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    1,
	}
}

// Wait blocks until the host's next token is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(host, waited)
	}
	return nil
}
