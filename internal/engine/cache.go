package engine

import (
	"context"
	"time"

	"github.com/scanenginehq/scanengine/internal/bookclient"
	"github.com/scanenginehq/scanengine/internal/domain"
)

// bboTTL bounds how stale a cached best-bid/ask may be before the market
// maker re-reads the venue.
const bboTTL = 2 * time.Second

// cachedQuoteVenue fronts the order-book client with the optional Redis
// BBO cache for the market maker's requote reads. The cache is purely an
// accelerator: any miss, error, or stale entry falls through to the venue.
type cachedQuoteVenue struct {
	book  *bookclient.Client
	cache domain.PriceCache
}

func (v cachedQuoteVenue) GetPrice(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error) {
	if v.cache != nil {
		bid, ask, ts, ok, err := v.cache.GetBBO(ctx, tokenID)
		if err == nil && ok && time.Since(ts) <= bboTTL {
			if side == domain.OrderSideBuy {
				return bid, nil
			}
			return ask, nil
		}
	}

	bp, err := v.book.GetBestPrices(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	if v.cache != nil && bp.BestBid > 0 && bp.BestAsk > 0 {
		_ = v.cache.SetBBO(ctx, tokenID, bp.BestBid, bp.BestAsk, time.Now().UTC())
	}
	if side == domain.OrderSideBuy {
		return bp.BestBid, nil
	}
	return bp.BestAsk, nil
}

func (v cachedQuoteVenue) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return v.book.GetOpenOrders(ctx)
}
