package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the lock only while it still carries our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLockRepository serialises timetable replaces across processes with a
// Redis SET NX lease. Without a client every acquire succeeds.
type RunLockRepository struct {
	client *redis.Client
}

// NewRunLockRepository constructs the lock repository.
func NewRunLockRepository(client *redis.Client) *RunLockRepository {
	return &RunLockRepository{client: client}
}

// Acquire takes the lock for ttl. It returns false when another holder owns it.
func (r *RunLockRepository) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock if token still owns it.
func (r *RunLockRepository) Release(ctx context.Context, key, token string) error {
	if r.client == nil {
		return nil
	}
	if err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis release lock %s: %w", key, err)
	}
	return nil
}
