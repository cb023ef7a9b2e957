// Package ratelimit provides per-IP admission control with a simple
// allow/deny contract.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const cleanupInterval = 5 * time.Minute

// Limiter applies a token-bucket limit per client IP. A bucket refills at
// maxRequests per window, with maxRequests of burst, which approximates a
// fixed window of that size.
type Limiter struct {
	mu          sync.Mutex
	clients     map[string]*client
	maxRequests int
	window      time.Duration
	lastCleanup time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing maxRequests per window per IP.
func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		clients:     make(map[string]*client),
		maxRequests: maxRequests,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// NewAPILimiter allows 5 requests per minute, the default for mutating
// endpoints.
func NewAPILimiter() *Limiter {
	return New(5, time.Minute)
}

// NewUploadLimiter is more lenient so chunked transfers fit in one window:
// 50 requests per 5 minutes.
func NewUploadLimiter() *Limiter {
	return New(50, 5*time.Minute)
}

// NewInfoLimiter covers endpoints the UI polls frequently: 50 checks per
// minute.
func NewInfoLimiter() *Limiter {
	return New(50, time.Minute)
}

// Limit returns the configured requests-per-window ceiling.
func (l *Limiter) Limit() int {
	return l.maxRequests
}

// Allow reports whether the IP may proceed. When denied, retryAfter is how
// long the client should wait before retrying.
func (l *Limiter) Allow(ip string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > cleanupInterval {
		l.cleanup(now)
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.maxRequests)), l.maxRequests),
		}
		l.clients[ip] = c
	}
	c.lastSeen = now

	r := c.limiter.Reserve()
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// cleanup drops idle clients; callers hold l.mu.
func (l *Limiter) cleanup(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > l.window*2 {
			delete(l.clients, ip)
		}
	}
	l.lastCleanup = now
}
