package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	// Keys do not share a budget.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1)
	assert.NoError(t, rl.Wait(context.Background(), "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "alice"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1)
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, rl.Middleware(func(c echo.Context) string {
		return c.QueryParam("user")
	}))

	serve := func(target string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, serve("/?user=alice"))
	assert.Equal(t, http.StatusTooManyRequests, serve("/?user=alice"))
	// An empty key is never limited.
	assert.Equal(t, http.StatusNoContent, serve("/"))
	assert.Equal(t, http.StatusNoContent, serve("/"))
}
