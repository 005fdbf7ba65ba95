package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"lumosai/pkg/domain"
)

const (
	defaultKeyPrefix = "chat:"
	defaultTTL       = 24 * time.Hour
	defaultWindow    = 20
	opTimeout        = 3 * time.Second
	maxWatchRetries  = 5
)

// Config tunes the history cache.
type Config struct {
	KeyPrefix string
	TTL       time.Duration
	Window    int
}

// RedisHistoryCache mirrors the recent window of each assistant's history as
// one JSON array per key. It is never authoritative.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	window int
}

// NewRedisHistoryCache builds a cache over an existing client.
func NewRedisHistoryCache(client *redis.Client, cfg Config) (*RedisHistoryCache, error) {
	if client == nil {
		return nil, errors.New("history cache requires a redis client")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &RedisHistoryCache{client: client, prefix: prefix, ttl: ttl, window: window}, nil
}

// Window returns the maximum number of cached messages per assistant.
func (c *RedisHistoryCache) Window() int {
	return c.window
}

// Key returns the cache key of an assistant.
func (c *RedisHistoryCache) Key(assistantID int64) string {
	return c.prefix + strconv.FormatInt(assistantID, 10)
}

// Get returns the cached window. ok is false on a miss.
func (c *RedisHistoryCache) Get(ctx context.Context, assistantID int64) ([]domain.CachedMessage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, c.Key(assistantID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get history cache: %w", err)
	}
	var msgs []domain.CachedMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, false, fmt.Errorf("decode history cache: %w", err)
	}
	return msgs, true, nil
}

// Set replaces the cached window, keeping only the newest Window entries.
func (c *RedisHistoryCache) Set(ctx context.Context, assistantID int64, msgs []domain.CachedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	payload, err := json.Marshal(c.trim(msgs))
	if err != nil {
		return fmt.Errorf("encode history cache: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(assistantID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set history cache: %w", err)
	}
	return nil
}

// Append adds msg to an existing window, evicting the oldest entries past the
// bound, and refreshes the TTL. It reports false without writing when no
// window is cached for the assistant.
func (c *RedisHistoryCache) Append(ctx context.Context, assistantID int64, msg domain.CachedMessage) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	key := c.Key(assistantID)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		var appended bool
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			var msgs []domain.CachedMessage
			if err := json.Unmarshal(raw, &msgs); err != nil {
				return fmt.Errorf("decode history cache: %w", err)
			}
			payload, err := json.Marshal(c.trim(append(msgs, msg)))
			if err != nil {
				return fmt.Errorf("encode history cache: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, c.ttl)
				return nil
			})
			if err == nil {
				appended = true
			}
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("append history cache: %w", err)
		}
		return appended, nil
	}
	return false, fmt.Errorf("append history cache: %w", redis.TxFailedErr)
}

// Delete drops the cached window of an assistant.
func (c *RedisHistoryCache) Delete(ctx context.Context, assistantID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.Key(assistantID)).Err(); err != nil {
		return fmt.Errorf("delete history cache: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) trim(msgs []domain.CachedMessage) []domain.CachedMessage {
	if msgs == nil {
		return []domain.CachedMessage{}
	}
	if len(msgs) > c.window {
		return msgs[len(msgs)-c.window:]
	}
	return msgs
}
