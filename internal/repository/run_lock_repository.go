package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLockRepository holds an advisory lock in Redis so two processes do not run at once.
// A nil client always grants the lock.
type RunLockRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRunLockRepository constructs the repository.
func NewRunLockRepository(client *redis.Client, logger *zap.Logger) *RunLockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLockRepository{client: client, logger: logger}
}

// Acquire takes the lock for ttl. It returns false when someone else holds it.
func (r *RunLockRepository) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock if token still owns it.
func (r *RunLockRepository) Release(ctx context.Context, key, token string) error {
	if r.client == nil {
		return nil
	}
	released, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	if released == 0 {
		r.logger.Warn("run lock already expired or taken over", zap.String("key", key))
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *RunLockRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
