package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter caps how many requests one client may make per period.
// Counters reset at the end of each client's own window.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	keyOf   func(*gin.Context) string
	now     func() time.Time
}

type window struct {
	opened time.Time
	used   int
}

// NewRateLimiter keys clients by IP until KeyBy says otherwise. Expired
// windows are evicted until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		keyOf:   func(c *gin.Context) string { return c.ClientIP() },
		now:     time.Now,
	}

	go rl.evict(ctx)

	return rl
}

// KeyBy replaces the client key. An empty key falls back to the client IP.
func (rl *RateLimiter) KeyBy(keyOf func(*gin.Context) string) *RateLimiter {
	rl.keyOf = func(c *gin.Context) string {
		if key := keyOf(c); key != "" {
			return key
		}
		return c.ClientIP()
	}
	return rl
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		wait, ok := rl.take(rl.keyOf(c))
		if ok {
			c.Next()
			return
		}

		seconds := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests, please wait before trying again",
			"retry_after": seconds,
		})
	}
}

// take spends one request from key's window, or reports how long until it reopens.
func (rl *RateLimiter) take(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.opened) >= rl.period {
		rl.windows[key] = &window{opened: now, used: 1}
		return 0, true
	}

	if w.used < rl.limit {
		w.used++
		return 0, true
	}
	return w.opened.Add(rl.period).Sub(now), false
}

func (rl *RateLimiter) evict(ctx context.Context) {
	ticker := time.NewTicker(rl.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		cutoff := rl.now().Add(-rl.period)
		for key, w := range rl.windows {
			if w.opened.Before(cutoff) {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
