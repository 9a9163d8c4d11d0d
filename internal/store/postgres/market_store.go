package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. The static
// market record is insert-if-absent: a later upsert of the same condition_id
// never modifies the existing row.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	condition_id, question, slug, category, outcomes, clob_token_ids,
	end_date, active, closed, restricted, enable_order_book, approved,
	ready, funded, featured, is_new, neg_risk,
	order_min_size, order_price_min_tick_size, accepting_orders,
	accepting_orders_timestamp,
	uma_bond, uma_reward, resolved_by, resolution_source, submitted_by,
	group_item_title, group_item_threshold, custom_liveness, image`

const insertMarket = `
	INSERT INTO markets (` + marketColumns + `, created_at)
	VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17,
		$18, $19, $20,
		$21,
		$22, $23, $24, $25, $26,
		$27, $28, $29, $30, NOW()
	)
	ON CONFLICT (condition_id) DO NOTHING`

// BatchUpsertMarkets inserts every market whose condition_id is not already
// present. Existing rows are left byte-identical; the result counts how many
// rows were inserted versus skipped.
func (s *MarketStore) BatchUpsertMarkets(ctx context.Context, markets []domain.Market) (domain.UpsertResult, error) {
	if len(markets) == 0 {
		return domain.UpsertResult{}, nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(insertMarket, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var result domain.UpsertResult
	for range markets {
		tag, err := br.Exec()
		if err != nil {
			return result, fmt.Errorf("postgres: batch upsert markets: %w", err)
		}
		if tag.RowsAffected() > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func marketArgs(m domain.Market) []any {
	return []any{
		m.ConditionID, m.Question, m.Slug, m.Category, m.Outcomes, m.ClobTokenIDs,
		m.EndDate, m.Active, m.Closed, m.Restricted, m.EnableOrderBook, m.Approved,
		m.Ready, m.Funded, m.Featured, m.IsNew, m.NegRisk,
		m.OrderMinSize, m.OrderPriceMinTickSize, m.AcceptingOrders,
		m.AcceptingOrdersTimestamp,
		m.UmaBond, m.UmaReward, m.ResolvedBy, m.ResolutionSource, m.SubmittedBy,
		m.GroupItemTitle, m.GroupItemThreshold, m.CustomLiveness, m.Image,
	}
}

// GetByConditionID returns a single market or ErrNotFound.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE condition_id = $1`, conditionID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", conditionID, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", conditionID, err)
	}
	return m, nil
}

// GetMarkets returns a filtered, paginated listing plus the total count
// matching the filter (ignoring pagination).
func (s *MarketStore) GetMarkets(ctx context.Context, f domain.MarketFilter) (domain.MarketPage, error) {
	where, args := buildMarketWhere(f)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args...).Scan(&total); err != nil {
		return domain.MarketPage{}, fmt.Errorf("postgres: count markets: %w", err)
	}

	query := `SELECT ` + marketColumns + ` FROM markets` + where + orderClause(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.MarketPage{}, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	page := domain.MarketPage{Total: total}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return domain.MarketPage{}, fmt.Errorf("postgres: scan market: %w", err)
		}
		page.Markets = append(page.Markets, m)
	}
	if err := rows.Err(); err != nil {
		return domain.MarketPage{}, fmt.Errorf("postgres: list markets: %w", err)
	}
	return page, nil
}

// sortColumns maps filter sort fields to real columns so user input never
// reaches the ORDER BY clause raw.
var sortColumns = map[string]string{
	"end_date":   "end_date",
	"updated_at": "created_at",
	"created_at": "created_at",
}

func orderClause(f domain.MarketFilter) string {
	col, ok := sortColumns[f.OrderBy]
	if !ok {
		// Snapshot-backed sort fields (volume, liquidity, price change) live
		// in the price history table; the static listing orders by recency.
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.OrderDir, "asc") {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

func buildMarketWhere(f domain.MarketFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Active != nil {
		add("active = $%d", *f.Active)
	}
	if f.EnableOrderBook != nil {
		add("enable_order_book = $%d", *f.EnableOrderBook)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		args = append(args, pattern)
		conds = append(conds, fmt.Sprintf("(question ILIKE $%d OR slug ILIKE $%d)", len(args), len(args)))
	}
	// Liquidity and volume live in the price history; range filters read
	// each market's most recent snapshot.
	const latestLiquidity = `(SELECT s.liquidity_total FROM price_snapshots s
		WHERE s.condition_id = markets.condition_id
		ORDER BY s.recorded_at DESC LIMIT 1)`
	const latestVolume = `(SELECT s.volume_1d FROM price_snapshots s
		WHERE s.condition_id = markets.condition_id
		ORDER BY s.recorded_at DESC LIMIT 1)`
	if f.LiquidityMin != nil {
		add(latestLiquidity+" >= $%d", *f.LiquidityMin)
	}
	if f.LiquidityMax != nil {
		add(latestLiquidity+" <= $%d", *f.LiquidityMax)
	}
	if f.VolumeMin != nil {
		add(latestVolume+" >= $%d", *f.VolumeMin)
	}
	if f.VolumeMax != nil {
		add(latestVolume+" <= $%d", *f.VolumeMax)
	}
	if f.EndDateMin != nil {
		add("end_date >= $%d", *f.EndDateMin)
	}
	if f.EndDateMax != nil {
		add("end_date <= $%d", *f.EndDateMax)
	}
	if f.StartDateMin != nil {
		add("created_at >= $%d", *f.StartDateMin)
	}
	if f.StartDateMax != nil {
		add("created_at <= $%d", *f.StartDateMax)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// EligibleForPricing returns the flattened (conditionId, tokenId, outcome,
// outcomeIndex) list the price stage iterates: order-book markets with
// non-empty token arrays, optionally restricted to active, open markets.
func (s *MarketStore) EligibleForPricing(ctx context.Context, activeOnly bool) ([]domain.EligibleToken, error) {
	query := `
		SELECT condition_id, outcomes, clob_token_ids
		FROM markets
		WHERE enable_order_book = TRUE
		  AND array_length(clob_token_ids, 1) > 0`
	if activeOnly {
		query += ` AND active = TRUE AND closed = FALSE`
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: eligible for pricing: %w", err)
	}
	defer rows.Close()

	var tokens []domain.EligibleToken
	for rows.Next() {
		var conditionID string
		var outcomes, tokenIDs []string
		if err := rows.Scan(&conditionID, &outcomes, &tokenIDs); err != nil {
			return nil, fmt.Errorf("postgres: scan eligible market: %w", err)
		}
		for i, tokenID := range tokenIDs {
			outcome := ""
			if i < len(outcomes) {
				outcome = outcomes[i]
			}
			tokens = append(tokens, domain.EligibleToken{
				ConditionID:  conditionID,
				TokenID:      tokenID,
				Outcome:      outcome,
				OutcomeIndex: i,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: eligible for pricing: %w", err)
	}
	return tokens, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ConditionID, &m.Question, &m.Slug, &m.Category, &m.Outcomes, &m.ClobTokenIDs,
		&m.EndDate, &m.Active, &m.Closed, &m.Restricted, &m.EnableOrderBook, &m.Approved,
		&m.Ready, &m.Funded, &m.Featured, &m.IsNew, &m.NegRisk,
		&m.OrderMinSize, &m.OrderPriceMinTickSize, &m.AcceptingOrders,
		&m.AcceptingOrdersTimestamp,
		&m.UmaBond, &m.UmaReward, &m.ResolvedBy, &m.ResolutionSource, &m.SubmittedBy,
		&m.GroupItemTitle, &m.GroupItemThreshold, &m.CustomLiveness, &m.Image,
	)
	return m, err
}
