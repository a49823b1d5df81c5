package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// caller is one tracked key with its token bucket and last activity.
type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// ipRateLimiter keeps a token bucket per key, usually a client IP, and
// expires idle entries.
type ipRateLimiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewIPRateLimiter builds a per-key limiter admitting `requests` events per
// `window` plus a burst allowance. Idle entries are dropped after ttl.
func NewIPRateLimiter(requests int, window time.Duration, burst int, ttl time.Duration) RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	limit := rate.Every(window / time.Duration(requests))
	return &ipRateLimiter{
		callers: make(map[string]*caller),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	c := l.lookupLocked(key, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *ipRateLimiter) lookupLocked(key string, now time.Time) *caller {
	if c, ok := l.callers[key]; ok {
		c.lastSeen = now
		return c
	}

	c := &caller{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.callers[key] = c
	return c
}

func (l *ipRateLimiter) gcLocked(now time.Time) {
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.callers, key)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *ipRateLimiter) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
