package domain

import (
	"context"
	"time"
)

// MarketFilter mirrors the §6 Store.getMarkets query surface: pagination,
// sort, and the numeric/date range filters used by both the dashboard and
// the price stage's eligibility scan.
type MarketFilter struct {
	Limit   int
	Offset  int
	OrderBy string
	OrderDir string

	Active   *bool
	Category string
	Search   string

	LiquidityMin *float64
	LiquidityMax *float64
	VolumeMin    *float64
	VolumeMax    *float64

	EndDateMin *time.Time
	EndDateMax *time.Time

	StartDateMin *time.Time
	StartDateMax *time.Time

	// EnableOrderBook, when non-nil, restricts to markets with/without a
	// usable order book; the price stage sets this true.
	EnableOrderBook *bool
}

// MarketPage is the result of a filtered market listing.
type MarketPage struct {
	Markets []Market
	Total   int64
}

// UpsertResult reports how many rows a batch upsert touched.
type UpsertResult struct {
	Inserted int
	Skipped  int
}

// EligibleToken is the flattened (conditionId, tokenId, outcome,
// outcomeIndex) tuple the price stage iterates over.
type EligibleToken struct {
	ConditionID  string
	TokenID      string
	Outcome      string
	OutcomeIndex int
}

// MarketStore is the static-record half of the two write contracts: markets
// are inserted if absent and never overwritten by a later upsert.
type MarketStore interface {
	// BatchUpsertMarkets inserts markets whose ConditionID is not already
	// present; existing rows are left untouched (insert-if-absent).
	BatchUpsertMarkets(ctx context.Context, markets []Market) (UpsertResult, error)
	GetMarkets(ctx context.Context, filter MarketFilter) (MarketPage, error)
	GetByConditionID(ctx context.Context, conditionID string) (Market, error)
	// EligibleForPricing returns the flattened token list the price stage
	// iterates: enableOrderBook with non-empty tokens, optionally active
	// and not closed when activeOnly is set.
	EligibleForPricing(ctx context.Context, activeOnly bool) ([]EligibleToken, error)
}

// PriceSnapshotStore is the dynamic-record half of the two write contracts:
// snapshots are always appended, never merged into an existing row.
type PriceSnapshotStore interface {
	BatchRecordPriceSnapshots(ctx context.Context, snapshots []PriceSnapshot) (int, error)
}

// MarketPriceStore persists the price stage's precise per-token price
// records, deduplicated on (conditionId, tokenId, fetchedAt).
type MarketPriceStore interface {
	InsertMarketPricesIgnoreDuplicates(ctx context.Context, prices []MarketPrice) (int, error)
}

// StrategyConfig is a named strategy configuration blob, persisted so
// config survives a restart; the authoritative in-memory copy lives in the
// engine and is written through to this store on every mutation.
type StrategyConfig struct {
	Name      string
	Config    map[string]any
	Enabled   bool
	UpdatedAt time.Time
}

// StrategyConfigStore persists strategy configurations.
type StrategyConfigStore interface {
	Get(ctx context.Context, name string) (StrategyConfig, error)
	Upsert(ctx context.Context, cfg StrategyConfig) error
	List(ctx context.Context) ([]StrategyConfig, error)
}

// ArchiveCandidate identifies a row range eligible for cold-storage
// archival: anything recorded before Before.
type ArchiveCandidate struct {
	Before time.Time
	Limit  int
}

// PriceSnapshotArchiveStore supports listing aged snapshots for the
// archiver.
type PriceSnapshotArchiveStore interface {
	ListSnapshotsBefore(ctx context.Context, before time.Time, limit int) ([]PriceSnapshot, error)
}

// MarketPriceArchiveStore supports listing aged market prices for the
// archiver.
type MarketPriceArchiveStore interface {
	ListMarketPricesBefore(ctx context.Context, before time.Time, limit int) ([]MarketPrice, error)
}
