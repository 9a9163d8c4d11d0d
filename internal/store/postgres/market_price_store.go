package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// MarketPriceStore implements domain.MarketPriceStore. Rows are unique on
// (condition_id, token_id, fetched_at); duplicates are silently dropped
// rather than updated.
type MarketPriceStore struct {
	pool *pgxpool.Pool
}

// NewMarketPriceStore creates a MarketPriceStore backed by the given pool.
func NewMarketPriceStore(pool *pgxpool.Pool) *MarketPriceStore {
	return &MarketPriceStore{pool: pool}
}

const insertMarketPrice = `
	INSERT INTO market_prices (
		condition_id, token_id, outcome, outcome_index,
		buy_price, sell_price, mid_price, spread, spread_pct, fetched_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (condition_id, token_id, fetched_at) DO NOTHING`

// InsertMarketPricesIgnoreDuplicates inserts the given price records,
// ignoring rows whose (condition_id, token_id, fetched_at) already exists,
// and returns how many rows were actually inserted.
func (s *MarketPriceStore) InsertMarketPricesIgnoreDuplicates(ctx context.Context, prices []domain.MarketPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(insertMarketPrice,
			p.ConditionID, p.TokenID, p.Outcome, p.OutcomeIndex,
			p.BuyPrice, p.SellPrice, p.MidPrice, p.Spread, p.SpreadPct, p.FetchedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range prices {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert market prices: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// ListMarketPricesBefore returns up to limit price records fetched before
// the cutoff, oldest first, for the cold-storage archiver.
func (s *MarketPriceStore) ListMarketPricesBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketPrice, error) {
	const query = `
		SELECT condition_id, token_id, outcome, outcome_index,
			buy_price, sell_price, mid_price, spread, spread_pct, fetched_at
		FROM market_prices
		WHERE fetched_at < $1
		ORDER BY fetched_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market prices before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.MarketPrice
	for rows.Next() {
		var p domain.MarketPrice
		if err := rows.Scan(
			&p.ConditionID, &p.TokenID, &p.Outcome, &p.OutcomeIndex,
			&p.BuyPrice, &p.SellPrice, &p.MidPrice, &p.Spread, &p.SpreadPct, &p.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
