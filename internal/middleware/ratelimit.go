package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/quote-api/pkg/httputil"
)

type RateLimiterConfig struct {
	RPS   float64
	Burst int
	// TTL is how long an idle client's limiter is kept.
	TTL time.Duration
}

// RateLimiter keeps one token bucket per client IP. Idle buckets expire from
// the cache so the map does not grow without bound.
type RateLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	mu       sync.Mutex
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &RateLimiter{
		limiters: cache.New(config.TTL, config.TTL),
		limit:    rate.Limit(config.RPS),
		burst:    config.Burst,
		ttl:      config.TTL,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.limiters.Get(key); ok {
		l := v.(*rate.Limiter)
		// sliding expiry: active clients keep their bucket
		rl.limiters.Set(key, l, rl.ttl)
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Set(key, l, rl.ttl)
	return l
}

// Allow reports whether the client identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httputil.NewErrorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}
