package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc names the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// TokenKey counts requests per caller token. Requests without a usable
// credential share a bucket per client IP. It must run after Credentials.
func TokenKey(c *gin.Context) string {
	if token, err := TokenFromContext(c); err == nil {
		return "token:" + token
	}
	return "ip:" + c.ClientIP()
}

// RejectFunc answers a request over its limit. retryAfter is the time
// until the bucket opens again.
type RejectFunc func(c *gin.Context, retryAfter time.Duration)

// RateLimiter admits at most limit requests per key in each fixed period.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	period  time.Duration
	now     func() time.Time
}

type bucket struct {
	used    int
	resetAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, period, time.Now)
}

func NewRateLimiterWithNow(limit int, period time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		period:  period,
		now:     now,
	}
}

// Allow counts one request for key. When the limit is reached it reports
// false and how long until the bucket resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		rl.buckets[key] = &bucket{used: 1, resetAt: now.Add(rl.period)}
		return true, 0
	}
	if b.used >= rl.limit {
		return false, b.resetAt.Sub(now)
	}
	b.used++
	return true, 0
}

// Prune forgets buckets whose period has ended and returns how many.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// Run prunes once per period until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	if rl.period <= 0 {
		return
	}
	ticker := time.NewTicker(rl.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune()
		}
	}
}

func RateLimitMiddleware(rl *RateLimiter, key KeyFunc, reject RejectFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, retryAfter := rl.Allow(key(c)); !ok {
			reject(c, retryAfter)
			c.Abort()
			return
		}
		c.Next()
	}
}
