package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/attestry/attestry/pkg/contracts"
)

const redisResultPrefix = "attestry:verify:"

// RedisResultCache shares recorded results across engine replicas.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultCache wraps an existing client. A non-positive ttl keeps
// entries until Redis evicts them.
func NewRedisResultCache(client *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl}
}

// DialRedisResultCache connects to the given address.
func DialRedisResultCache(addr, password string, db int, ttl time.Duration) *RedisResultCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisResultCache(client, ttl)
}

func (c *RedisResultCache) Lookup(ctx context.Context, requestID string) (contracts.VerificationResult, bool, error) {
	raw, err := c.client.Get(ctx, redisResultPrefix+requestID).Bytes()
	if err == redis.Nil {
		return contracts.VerificationResult{}, false, nil
	}
	if err != nil {
		return contracts.VerificationResult{}, false, fmt.Errorf("lookup request %s: %w", requestID, err)
	}

	var result contracts.VerificationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return contracts.VerificationResult{}, false, fmt.Errorf("decode cached result %s: %w", requestID, err)
	}
	return result, true, nil
}

func (c *RedisResultCache) Record(ctx context.Context, requestID string, result contracts.VerificationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", requestID, err)
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, redisResultPrefix+requestID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("record result %s: %w", requestID, err)
	}
	return nil
}

var _ ResultCache = (*MemoryResultCache)(nil)
var _ ResultCache = (*RedisResultCache)(nil)
