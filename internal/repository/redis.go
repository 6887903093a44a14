package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const suppressedTokenPrefix = "fcm:token:suppressed:"

// RedisRepository remembers device tokens the gateway has declared dead so
// they are not sent to again until the TTL runs out.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

// NewRedisClient parses either a redis:// URL or a bare host:port.
func NewRedisClient(addr string) *redis.Client {
	if opts, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(opts)
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// IsTokenSuppressed returns true if the token is currently marked as invalid.
func (r *RedisRepository) IsTokenSuppressed(ctx context.Context, token string) (bool, error) {
	exists, err := r.client.Exists(ctx, suppressedTokenPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// SuppressToken stores a token in Redis with the repository TTL.
func (r *RedisRepository) SuppressToken(ctx context.Context, token string) error {
	return r.client.SetEX(ctx, suppressedTokenPrefix+token, "1", r.ttl).Err()
}
