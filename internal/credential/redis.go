package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the record when the redis backend is used.
const DefaultRedisKey = "cowechat:token_cache"

// RedisCache stores the record as JSON under a single key so several hosts
// can share one credential. No TTL is set: validity is decided from the
// stored date, same as the file backend.
type RedisCache struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisCache(rdb redis.UniversalClient, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{rdb: rdb, key: key}
}

func (c *RedisCache) Load(ctx context.Context) (Record, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load token cache: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse token cache: %w", err)
	}
	if rec == nil {
		return nil, errors.New("parse token cache: empty document")
	}
	return rec, nil
}

func (c *RedisCache) Save(ctx context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal token cache: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save token cache: %w", err)
	}
	return nil
}
