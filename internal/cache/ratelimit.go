package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindow = redis.NewScript(`
	local current = redis.call('incr', KEYS[1])
	if current == 1 then
		redis.call('expire', KEYS[1], ARGV[2])
	end
	local ttl = redis.call('ttl', KEYS[1])
	if current > tonumber(ARGV[1]) then
		return {0, current, ttl}
	end
	return {1, current, ttl}
`)

type RateLimitResult struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetIn   time.Duration
}

// Allow counts one request for key in a fixed window.
func (c *Cache) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	res, err := fixedWindow.Run(ctx, c.client, []string{key}, limit, seconds).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	remaining := int64(limit) - res[1]
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   res[0] == 1,
		Count:     res[1],
		Remaining: remaining,
		ResetIn:   time.Duration(res[2]) * time.Second,
	}, nil
}
