package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenRevoker stores revoked token ids in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
	prefix string
}

func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client, prefix: "lumos:revoked:"}
}

// Revoke marks jti as revoked for ttl.
func (r *RedisTokenRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}
