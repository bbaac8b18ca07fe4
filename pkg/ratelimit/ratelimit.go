// Package ratelimit spaces out requests to the same host so that a burst of
// concurrent fetches does not hammer a single publisher.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per host. It is safe for concurrent use
// by multiple goroutines. Requests to different hosts never wait on each other.
type HostLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	jitter  float64 // 0.0 to 1.0
	buckets map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter allowing rps requests per second per host
// with the given burst. Jitter must be between 0.0 and 1.0 and adds up to
// jitter * interval of extra random delay after each wait.
// If rps is <= 0, the limiter does not block.
func NewHostLimiter(rps float64, burst int, jitter float64) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	jitter = min(max(jitter, 0), 1)

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &HostLimiter{
		limit:   limit,
		burst:   burst,
		jitter:  jitter,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to the host of targetURL may proceed, or until
// the context is canceled.
func (l *HostLimiter) Wait(ctx context.Context, targetURL string) error {
	if l == nil || l.limit == rate.Inf {
		return ctx.Err()
	}

	if err := l.bucket(hostOf(targetURL)).Wait(ctx); err != nil {
		return err
	}

	if l.jitter > 0 {
		interval := time.Duration(float64(time.Second) / float64(l.limit))
		extra := time.Duration(float64(interval) * l.jitter * rand.Float64())
		if extra > 0 {
			t := time.NewTimer(extra)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *HostLimiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *HostLimiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[host] = b
	}
	return b
}

func hostOf(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return targetURL
	}
	return strings.ToLower(u.Hostname())
}
