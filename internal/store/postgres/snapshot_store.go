package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// SnapshotStore implements domain.PriceSnapshotStore: the append-only half
// of the two write contracts. A snapshot row is never updated after insert.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const insertSnapshot = `
	INSERT INTO price_snapshots (
		condition_id, outcome_prices,
		best_bid, best_ask, spread, last_trade_price,
		price_change_1h, price_change_1d, price_change_1wk, price_change_1mo, price_change_1y,
		volume_1h, volume_1d, volume_1wk, volume_1mo, volume_1y,
		volume_amm_1d, volume_clob_1d,
		liquidity_total, liquidity_amm, liquidity_clob,
		competitive, comment_count, recorded_at
	) VALUES (
		$1, $2,
		$3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16,
		$17, $18,
		$19, $20, $21,
		$22, $23, NOW()
	)`

// BatchRecordPriceSnapshots appends every snapshot and returns how many rows
// were written. The recorded_at timestamp is the server time at insert.
func (s *SnapshotStore) BatchRecordPriceSnapshots(ctx context.Context, snapshots []domain.PriceSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(insertSnapshot,
			snap.ConditionID, snap.OutcomePrices,
			snap.BestBid, snap.BestAsk, snap.Spread, snap.LastTradePrice,
			snap.PriceChange1h, snap.PriceChange1d, snap.PriceChange1wk, snap.PriceChange1mo, snap.PriceChange1y,
			snap.Volume1h, snap.Volume1d, snap.Volume1wk, snap.Volume1mo, snap.Volume1y,
			snap.VolumeAMM1d, snap.VolumeCLOB1d,
			snap.LiquidityTotal, snap.LiquidityAMM, snap.LiquidityCLOB,
			snap.Competitive, snap.CommentCount,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	count := 0
	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return count, fmt.Errorf("postgres: record price snapshots: %w", err)
		}
		count++
	}
	return count, nil
}

// ListSnapshotsBefore returns up to limit snapshots recorded before the
// cutoff, oldest first, for the cold-storage archiver.
func (s *SnapshotStore) ListSnapshotsBefore(ctx context.Context, before time.Time, limit int) ([]domain.PriceSnapshot, error) {
	const query = `
		SELECT condition_id, outcome_prices,
			best_bid, best_ask, spread, last_trade_price,
			price_change_1h, price_change_1d, price_change_1wk, price_change_1mo, price_change_1y,
			volume_1h, volume_1d, volume_1wk, volume_1mo, volume_1y,
			volume_amm_1d, volume_clob_1d,
			liquidity_total, liquidity_amm, liquidity_clob,
			competitive, comment_count, recorded_at
		FROM price_snapshots
		WHERE recorded_at < $1
		ORDER BY recorded_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.PriceSnapshot
	for rows.Next() {
		var snap domain.PriceSnapshot
		if err := rows.Scan(
			&snap.ConditionID, &snap.OutcomePrices,
			&snap.BestBid, &snap.BestAsk, &snap.Spread, &snap.LastTradePrice,
			&snap.PriceChange1h, &snap.PriceChange1d, &snap.PriceChange1wk, &snap.PriceChange1mo, &snap.PriceChange1y,
			&snap.Volume1h, &snap.Volume1d, &snap.Volume1wk, &snap.Volume1mo, &snap.Volume1y,
			&snap.VolumeAMM1d, &snap.VolumeCLOB1d,
			&snap.LiquidityTotal, &snap.LiquidityAMM, &snap.LiquidityCLOB,
			&snap.Competitive, &snap.CommentCount, &snap.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
