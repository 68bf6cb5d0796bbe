package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"voicerelay/internal/apperr"
)

// SharedCache is an optional cross-instance transcription cache consulted
// between the local exact cache and real job submission.
type SharedCache interface {
	Get(ctx context.Context, audioHash string) (string, bool, error)
	Put(ctx context.Context, audioHash, transcription string, ttl time.Duration) error
}

// RedisCache implements SharedCache on Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects a shared cache.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: SharedCacheKeyPrefix,
	}
}

// Get returns the shared transcription for a hash, if any.
func (c *RedisCache) Get(ctx context.Context, audioHash string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+audioHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(err, apperr.CodeUnavailable, "shared cache get")
	}
	return val, true, nil
}

// Put stores a transcription with TTL.
func (c *RedisCache) Put(ctx context.Context, audioHash, transcription string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+audioHash, transcription, ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeUnavailable, "shared cache put")
	}
	return nil
}

// Close releases the redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
