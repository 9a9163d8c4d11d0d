package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scanenginehq/scanengine/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// best bid/ask is stored as a hash at key "bbo:{tokenID}" with fields
// "bid", "ask", and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func bboKey(tokenID string) string { return "bbo:" + tokenID }

// SetBBO stores the latest best bid/ask for a token.
func (pc *PriceCache) SetBBO(ctx context.Context, tokenID string, bestBid, bestAsk float64, ts time.Time) error {
	key := bboKey(tokenID)
	fields := map[string]any{
		"bid": strconv.FormatFloat(bestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(bestAsk, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("cache/redis: set bbo %s: %w", tokenID, err)
	}
	return nil
}

// GetBBO retrieves the latest best bid/ask for a token. ok is false on a
// cache miss.
func (pc *PriceCache) GetBBO(ctx context.Context, tokenID string) (bestBid, bestAsk float64, ts time.Time, ok bool, err error) {
	vals, err := pc.rdb.HGetAll(ctx, bboKey(tokenID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, false, fmt.Errorf("cache/redis: get bbo %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, false, nil
	}

	bid, berr := strconv.ParseFloat(vals["bid"], 64)
	ask, aerr := strconv.ParseFloat(vals["ask"], 64)
	tsNano, terr := strconv.ParseInt(vals["ts"], 10, 64)
	if berr != nil || aerr != nil || terr != nil {
		return 0, 0, time.Time{}, false, nil
	}

	return bid, ask, time.Unix(0, tsNano), true, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
