package store

import (
	"context"
	"sync"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

// ResultCache replays verification results for repeated request ids.
// A hit means the engine must return the recorded result instead of
// re-verifying; a miss means the request is new.
type ResultCache interface {
	Lookup(ctx context.Context, requestID string) (contracts.VerificationResult, bool, error)
	Record(ctx context.Context, requestID string, result contracts.VerificationResult) error
}

type cachedResult struct {
	result   contracts.VerificationResult
	cachedAt time.Time
}

// MemoryResultCache holds recorded results in-process with a TTL.
type MemoryResultCache struct {
	mu      sync.RWMutex
	entries map[string]cachedResult
	ttl     time.Duration
}

// NewMemoryResultCache creates a cache expiring entries after ttl.
// A non-positive ttl disables expiry.
func NewMemoryResultCache(ttl time.Duration) *MemoryResultCache {
	c := &MemoryResultCache{
		entries: make(map[string]cachedResult),
		ttl:     ttl,
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

func (c *MemoryResultCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, v := range c.entries {
			if now.Sub(v.cachedAt) > c.ttl {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}

func (c *MemoryResultCache) Lookup(ctx context.Context, requestID string) (contracts.VerificationResult, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[requestID]
	c.mu.RUnlock()

	if !exists {
		return contracts.VerificationResult{}, false, nil
	}
	if c.ttl > 0 && time.Since(entry.cachedAt) > c.ttl {
		return contracts.VerificationResult{}, false, nil
	}
	return entry.result, true, nil
}

func (c *MemoryResultCache) Record(ctx context.Context, requestID string, result contracts.VerificationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[requestID] = cachedResult{result: result, cachedAt: time.Now()}
	return nil
}
