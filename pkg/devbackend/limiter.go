package devbackend

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// chatLimiter keeps one token bucket per tenant. The bucket refills
// perMinute tokens a minute and holds at most perMinute.
type chatLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter   *rate.Limiter
	perMinute int
}

func newChatLimiter(now func() time.Time) *chatLimiter {
	return &chatLimiter{buckets: map[string]*bucket{}, now: now}
}

// Allow reports whether clientID may send one more chat message. A
// perMinute of zero means unlimited.
func (l *chatLimiter) Allow(clientID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[clientID]
	if !ok || b.perMinute != perMinute {
		b = &bucket{
			limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
			perMinute: perMinute,
		}
		l.buckets[clientID] = b
	}
	l.mu.Unlock()
	return b.limiter.AllowN(l.now(), 1)
}
