// Package ratelimit throttles MCP tool calls with token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned by Tools.Check when a tool's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter is a token bucket. It starts full and refills continuously at
// rate tokens per second up to burst. It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewLimiter creates a full bucket with the given refill rate (tokens/sec)
// and capacity.
func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterAt(rate, burst, time.Now)
}

func newLimiterAt(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = min(l.burst, l.tokens+l.rate*elapsed)
		l.last = now
	}

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Tools maps MCP tool names to their limiters. Tools without a limiter are
// never throttled.
type Tools map[string]*Limiter

// DefaultTools returns the limits applied by the MCP server. Generation and
// benchmarking write or scan whole clusters, so they are the tightest.
func DefaultTools() Tools {
	return Tools{
		"starcat_generate": NewLimiter(10.0/60.0, 3), // 10/minute, burst 3
		"starcat_mean":     NewLimiter(1.0, 10),      // 60/minute, burst 10
		"starcat_bench":    NewLimiter(5.0/60.0, 2),  // 5/minute, burst 2
		"starcat_clusters": NewLimiter(1.0, 10),      // 60/minute, burst 10
	}
}

// Check consumes a token for tool, returning ErrRateLimited when none is left.
func (t Tools) Check(tool string) error {
	limiter, ok := t[tool]
	if !ok {
		return nil
	}
	if !limiter.Allow() {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, tool)
	}
	return nil
}
