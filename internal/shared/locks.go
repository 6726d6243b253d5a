package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PlanLockKey builds redis keys for plan generation critical sections.
func PlanLockKey(planID int64) string {
	return fmt.Sprintf("billing:plan:%d:generate", planID)
}

// ErrLockHeld indicates the critical section is already taken.
var ErrLockHeld = errors.New("lock already held")

// Lock is a best-effort redis mutex guarding non-reentrant operations.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLock constructs a Lock with the given auto-expiry.
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	return &Lock{client: client, ttl: ttl}
}

// Acquire takes the key or returns ErrLockHeld.
func (l *Lock) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return errors.New("lock not configured")
	}
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release frees the key. Safe to call after expiry.
func (l *Lock) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	_ = l.client.Del(ctx, key).Err()
}
