// Package ratelimit provides rate limiting functionality for LLM clients.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"planforge/pkg/logx"
)

// Config defines rate limiting configuration for a model backend.
type Config struct {
	RequestsPerMinute int `json:"requests_per_minute"` // 0 disables request pacing
	MaxConcurrency    int `json:"max_concurrency"`     // 0 disables the concurrency cap
}

// Limiter paces requests with a token bucket and caps in-flight requests.
type Limiter struct {
	name    string
	bucket  *rate.Limiter
	slots   chan struct{}
	logger  *logx.Logger
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Name           string  `json:"name"`
	TokensLeft     float64 `json:"tokens_left"`
	ActiveRequests int     `json:"active_requests"`
	MaxConcurrency int     `json:"max_concurrency"`
}

// NewLimiter creates a limiter for the named backend.
func NewLimiter(name string, cfg Config) *Limiter {
	l := &Limiter{name: name, logger: logx.NewLogger("ratelimit")}
	if cfg.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(perSecond, burst)
	}
	if cfg.MaxConcurrency > 0 {
		l.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return l
}

// Acquire blocks until a request may proceed or ctx is done. The returned
// release function must be called once the request finishes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("rate limiter %s: waiting for a request slot: %w", l.name, ctx.Err())
		}
	}

	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			l.releaseSlot()
			return nil, fmt.Errorf("rate limiter %s: %w", l.name, err)
		}
	}

	return l.releaseSlot, nil
}

// Throttled reports whether a request issued now would have to wait.
func (l *Limiter) Throttled() bool {
	if l.slots != nil && len(l.slots) == cap(l.slots) {
		return true
	}
	return l.bucket != nil && l.bucket.Tokens() < 1
}

func (l *Limiter) releaseSlot() {
	if l.slots != nil {
		<-l.slots
	}
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() LimiterStats {
	stats := LimiterStats{Name: l.name}
	if l.bucket != nil {
		stats.TokensLeft = l.bucket.Tokens()
	}
	if l.slots != nil {
		stats.ActiveRequests = len(l.slots)
		stats.MaxConcurrency = cap(l.slots)
	}
	return stats
}
