package busy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisGuard shares busy state between service replicas. The TTL bounds how
// long a crashed holder can keep a key busy.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger interfaces.Logger
}

// NewRedisGuard creates a guard storing keys under prefix
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration, logger interfaces.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.WithFields(map[string]interface{}{"component": "redis-busy-guard"}),
	}
}

// Acquire sets the key with NX. A held key yields a BUSY error.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := g.prefix + key
	token := uuid.New().String()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, pberrors.NewStorageError("busy guard unavailable", err).WithDetail("key", key)
	}
	if !ok {
		return nil, pberrors.NewBusyError(key)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// the caller's context may already be done
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, g.client, []string{redisKey}, token).Err(); err != nil {
			g.logger.Warn("Failed to release busy key", map[string]interface{}{
				"key":   redisKey,
				"error": err.Error(),
			})
		}
	}, nil
}

// Busy reports whether key is currently held by anyone
func (g *RedisGuard) Busy(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check busy key: %w", err)
	}
	return n > 0, nil
}
