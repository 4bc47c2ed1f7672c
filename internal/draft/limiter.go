package draft

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimit is one caller's bucket and when it was last used.
type callerLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows n requests per window per caller. Buckets idle for
// longer than the idle TTL are evicted during lookups.
type Limiter struct {
	every rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	callers map[string]*callerLimit
	lookups int
}

// NewLimiter creates a Limiter. n <= 0 disables limiting.
func NewLimiter(n int, window time.Duration) *Limiter {
	l := &Limiter{
		burst:   n,
		idle:    10 * time.Minute,
		callers: make(map[string]*callerLimit),
	}
	if n > 0 && window > 0 {
		l.every = rate.Every(window / time.Duration(n))
		l.idle = max(l.idle, 2*window)
	}
	return l
}

// Allow reports whether caller may make a request at now.
func (l *Limiter) Allow(caller string, now time.Time) bool {
	if l.burst <= 0 || l.every == 0 {
		return true
	}

	l.mu.Lock()
	l.lookups++
	if l.lookups >= 1000 {
		for k, c := range l.callers {
			if now.Sub(c.lastSeen) >= l.idle {
				delete(l.callers, k)
			}
		}
		l.lookups = 0
	}

	c, ok := l.callers[caller]
	if !ok {
		c = &callerLimit{limiter: rate.NewLimiter(l.every, l.burst)}
		l.callers[caller] = c
	}
	c.lastSeen = now
	lim := c.limiter
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}
