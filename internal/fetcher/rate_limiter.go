package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces requests per host. rpm <= 0 disables it.
type RateLimiter struct {
	rpm      int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil || rl.rpm <= 0 {
		return nil
	}

	rl.mu.Lock()
	limiter, exists := rl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.rpm)), 1)
		rl.limiters[host] = limiter
	}
	rl.mu.Unlock()

	return limiter.Wait(ctx)
}
