package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddslab/predarb/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowSrc string

// RateLimiter enforces per-key request budgets over a sliding window kept in
// a Redis sorted set. The window prune, the count, and the insert run in one
// Lua call, so two concurrent callers can never both claim the last slot.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowSrc),
	}
}

// Allow counts one request against the key's window and reports whether it
// fit under the limit. A denied request is not counted, so a saturated
// window drains on its own schedule.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	reply, err := rl.script.Run(ctx, rl.rdb,
		[]string{"ratelimit:" + key},
		time.Now().UnixMilli(),
		window.Milliseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: malformed script reply %v", key, reply)
	}
	return reply[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
