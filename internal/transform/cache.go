package transform

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/cart-pricebreaks/internal/common"
)

// ResultCache stores run results in Redis keyed by a hash of the request body.
// Runs are deterministic, so a cached result is always the one a fresh run
// would produce.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewResultCache constructs a cache. A nil client or non-positive ttl disables it.
func NewResultCache(client *redis.Client, ttl time.Duration, prefix string) *ResultCache {
	if prefix == "" {
		prefix = "cart-transform:"
	}
	return &ResultCache{client: client, ttl: ttl, prefix: prefix}
}

// Enabled reports whether lookups hit Redis.
func (c *ResultCache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Key derives the cache key for a request body.
func (c *ResultCache) Key(body []byte) string {
	return c.prefix + common.Sha256Hex(body)
}

// Get returns the cached result for body. It reports whether the key existed.
func (c *ResultCache) Get(ctx context.Context, body []byte) (FunctionResult, bool, error) {
	if !c.Enabled() {
		return FunctionResult{}, false, nil
	}
	data, err := c.client.Get(ctx, c.Key(body)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return FunctionResult{}, false, nil
		}
		return FunctionResult{}, false, err
	}
	var result FunctionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return FunctionResult{}, false, err
	}
	if result.Operations == nil {
		result.Operations = []Operation{}
	}
	return result, true, nil
}

// Set stores result for body with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, body []byte, result FunctionResult) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(body), data, c.ttl).Err()
}
