package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scanenginehq/scanengine/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with
// JSON-serialized Market data. It is a non-authoritative accelerator: a
// miss always falls back to the Store, never returns an error for
// "not cached".
//
// Key schema: market:{conditionId} - hash with field "data" containing JSON.
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(conditionID string) string { return "market:" + conditionID }

// Set stores a Market in the cache with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("cache/redis: marshal market %s: %w", market.ConditionID, err)
	}

	key := marketKey(market.ConditionID)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache/redis: set market %s: %w", market.ConditionID, err)
	}
	return nil
}

// Get retrieves a Market by its ConditionID from the cache. ok is false on
// a cache miss; callers should fall back to the store rather than treat
// this as an error.
func (mc *MarketCache) Get(ctx context.Context, conditionID string) (domain.Market, bool, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(conditionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, false, nil
		}
		return domain.Market{}, false, fmt.Errorf("cache/redis: get market %s: %w", conditionID, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, false, fmt.Errorf("cache/redis: unmarshal market %s: %w", conditionID, err)
	}
	return market, true, nil
}

// Invalidate removes a Market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, conditionID string) error {
	if err := mc.rdb.Del(ctx, marketKey(conditionID)).Err(); err != nil {
		return fmt.Errorf("cache/redis: invalidate market %s: %w", conditionID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
