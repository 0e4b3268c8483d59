// Package ratelimit provides a small keyed limiter pool for
// user-initiated store writes.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Pool hands out one rate.Limiter per key, created on first use.
type Pool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// NewPool builds a pool with the given per-key rate. Non-positive
// values fall back to 5 rps / burst 10.
func NewPool(rps float64, burst int) *Pool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Pool{m: map[string]*rate.Limiter{}, rps: rps, burst: burst}
}

func (p *Pool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow reports whether one event for key may proceed now.
func (p *Pool) Allow(key string) bool {
	return p.get(key).Allow()
}
