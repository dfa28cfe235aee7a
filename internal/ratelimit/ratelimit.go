package ratelimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/bus-ticket-reservations/internal/adapters/redis"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
)

type RateLimiter struct {
	lock *redisadapter.SeatLock
}

func NewRateLimiter(lock *redisadapter.SeatLock) *RateLimiter {
	return &RateLimiter{lock: lock}
}

// Allow counts the request into a fixed window and reports whether it fits.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.lock.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
