package redis

import (
	"context"
	"fmt"
	"time"
)

type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow implements a fixed-window counter per key.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

func SubmitKey(userID string) string {
	return fmt.Sprintf("rate_limit:submit:%s", userID)
}

// SubmitLimiter bounds how often one user may start a generation, independent
// of the single-slot lease (fast failed submits would otherwise hammer the
// providers).
type SubmitLimiter struct {
	rl     *RateLimiter
	limit  int
	window time.Duration
}

func NewSubmitLimiter(client RedisClient, limit int, window time.Duration) *SubmitLimiter {
	if limit <= 0 {
		limit = 6
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SubmitLimiter{rl: NewRateLimiter(client), limit: limit, window: window}
}

func (s *SubmitLimiter) AllowSubmit(ctx context.Context, userID string) (bool, error) {
	return s.rl.Allow(ctx, SubmitKey(userID), s.limit, s.window)
}
