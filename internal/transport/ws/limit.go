package ws

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// joinLimiter keeps one token bucket per remote host.
type joinLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	swept    time.Time
}

func newJoinLimiter(r rate.Limit, burst int) *joinLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &joinLimiter{rate: r, burst: burst, visitors: make(map[string]*visitor)}
}

func (l *joinLimiter) allow(host string) bool {
	if l.rate <= 0 || l.rate == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > limiterIdle {
		for h, v := range l.visitors {
			if now.Sub(v.seen) > limiterIdle {
				delete(l.visitors, h)
			}
		}
		l.swept = now
	}

	v, ok := l.visitors[host]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[host] = v
	}
	v.seen = now
	return v.limiter.AllowN(now, 1)
}
