package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// rateLimiter is a per-IP sliding window counter.
type rateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// allow records one request for ip and reports whether it fits the window,
// along with the remaining budget and the time until the window frees up.
func (rl *rateLimiter) allow(ip string) (allowed bool, remaining int, reset time.Duration) {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	kept := rl.hits[ip][:0]
	for _, ts := range rl.hits[ip] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.max {
		rl.hits[ip] = kept
		return false, 0, kept[0].Add(rl.window).Sub(now)
	}

	kept = append(kept, now)
	rl.hits[ip] = kept
	return true, rl.max - len(kept), rl.window
}

// middleware enforces the limit and emits RateLimit-* headers on every
// response.
func (rl *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		allowed, remaining, reset := rl.allow(c.RealIP())
		h := c.Response().Header()
		h.Set("RateLimit-Limit", fmt.Sprintf("%d", rl.max))
		h.Set("RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		h.Set("RateLimit-Reset", fmt.Sprintf("%d", int(reset.Seconds()+0.5)))
		if !allowed {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}
