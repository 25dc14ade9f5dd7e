package usecase

import (
	"context"
	"time"
)

// StatusCache holds rendered terminal statuses. *cache.Cache satisfies it.
type StatusCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// IdempotencyStore remembers initiation results per client key. *cache.Cache satisfies it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string, lockTTL time.Duration, dest interface{}) (bool, error)
	Complete(ctx context.Context, key string, result interface{}, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
