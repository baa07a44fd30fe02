package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"messaging-service/internal/clock"
)

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is a token bucket per client address, applied to handshakes
// before any credential is validated.
type IPLimiter struct {
	mu    sync.Mutex
	clock clock.Clock
	m     map[string]*ipBucket
	rps   rate.Limit
	burst int
	idle  time.Duration
}

// NewIPLimiter constructs an IPLimiter. Non-positive values fall back to 5 rps, burst 10.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	// A bucket idle for burst/rps is full again, so dropping it changes nothing.
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &IPLimiter{
		clock: clock.Real(),
		m:     make(map[string]*ipBucket),
		rps:   rate.Limit(rps),
		burst: burst,
		idle:  idle,
	}
}

// Allow reports whether a handshake from ip may proceed.
func (p *IPLimiter) Allow(ip string) bool {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.m[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep drops buckets of addresses not seen for the idle period.
func (p *IPLimiter) Sweep() int {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for ip, b := range p.m {
		if now.Sub(b.lastSeen) >= p.idle {
			delete(p.m, ip)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked addresses.
func (p *IPLimiter) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
