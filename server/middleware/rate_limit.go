package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter provides per-key rate limiting.
type RateLimiter struct {
	mu     sync.RWMutex
	limits map[string]*rate.Limiter
	limit  rate.Limit
	burst  int
}

// NewRateLimiter creates a rate limiter allowing limit events per second per key
// with the given burst.
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		limit:  limit,
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limits[key]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rl.limit, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Middleware rejects requests over the limit with 429. Requests whose key is
// empty are not limited.
func (rl *RateLimiter) Middleware(key func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			k := key(c)
			if k != "" && !rl.Allow(k) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "too many requests",
				})
			}
			return next(c)
		}
	}
}
