package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// traderLimiter hands out one token bucket per trader. Idle buckets are
// swept so a stream of one-off trader ids does not grow the map forever.
type traderLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const idleBucket = 10 * time.Minute

func newTraderLimiter(rps float64, burst int) *traderLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &traderLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether trader may place an order now. A nil limiter
// allows everything.
func (l *traderLimiter) Allow(trader string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > idleBucket {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > idleBucket {
				delete(l.buckets, id)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[trader]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[trader] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
