package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Begin looks up a stored result for key. When one exists it is decoded into
// dest and found is true. Otherwise the key is reserved for lockTTL so that a
// concurrent retry gets ErrInFlight instead of a second upstream call.
func (c *Cache) Begin(ctx context.Context, key string, lockTTL time.Duration, dest interface{}) (found bool, err error) {
	if !c.Enabled() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return false, fmt.Errorf("idempotency get: %w", err)
	case string(data) == inflightMarker:
		return false, ErrInFlight
	default:
		if err := json.Unmarshal(data, dest); err != nil {
			return false, fmt.Errorf("idempotency decode: %w", err)
		}
		return true, nil
	}

	ok, err := c.client.SetNX(ctx, key, inflightMarker, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !ok {
		return false, ErrInFlight
	}
	return false, nil
}

// Complete stores the final result for key, replacing the reservation.
func (c *Cache) Complete(ctx context.Context, key string, result interface{}, ttl time.Duration) error {
	return c.SetJSON(ctx, key, result, ttl)
}

// Release drops a reservation so the caller may retry after a failure.
func (c *Cache) Release(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}
