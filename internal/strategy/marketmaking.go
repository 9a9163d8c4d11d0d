package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/stratcfg"
)

// QuoteVenue is the slice of the order-book client the market maker needs:
// price reads for requoting and the open-orders listing for per-tick
// position reconciliation.
type QuoteVenue interface {
	PriceReader
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
}

// MMStatus tags a managed market's lifecycle.
type MMStatus string

const (
	MMQuoting MMStatus = "quoting"
	MMExiting MMStatus = "exiting"
)

// QuoteRef tracks one live quote so fills can be inferred when the venue
// no longer lists it.
type QuoteRef struct {
	ID   string           `json:"id"`
	Side domain.OrderSide `json:"side"`
	Size float64          `json:"size"`
}

// MarketState is the per-market book the market maker keeps: which quotes
// are open, what has filled on each side, and the running totals.
type MarketState struct {
	ConditionID   string     `json:"condition_id"`
	TokenID       string     `json:"token_id"`
	Status        MMStatus   `json:"status"`
	OpenOrders    []QuoteRef `json:"open_orders"`
	LongPosition  float64   `json:"long_position"`
	ShortPosition float64   `json:"short_position"`
	InventorySkew float64   `json:"inventory_skew"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	TotalProfit   float64   `json:"total_profit"`
	TotalVolume   float64   `json:"total_volume"`
}

// MarketMaking quotes both sides of a market around the mid price,
// refreshing quotes on a timer and merging offsetting inventory back into
// collateral when it accumulates.
type MarketMaking struct {
	cfg      *stratcfg.Manager
	queue    OrderSubmitter
	venue    QuoteVenue
	contract domain.ContractClient
	cooldown *domain.CooldownTable
	nowMs    func() int64
	logger   *slog.Logger
	statCounter

	mu     sync.Mutex
	states map[string]*MarketState
}

// NewMarketMaking builds the evaluator.
func NewMarketMaking(cfg *stratcfg.Manager, queue OrderSubmitter, venue QuoteVenue, contract domain.ContractClient, logger *slog.Logger) *MarketMaking {
	return &MarketMaking{
		cfg:      cfg,
		queue:    queue,
		venue:    venue,
		contract: contract,
		cooldown: domain.NewCooldownTable(),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		logger:   logger.With(slog.String("component", "strategy"), slog.String("strategy", domain.StrategyMarketMaking)),
		states:   make(map[string]*MarketState),
	}
}

// Name returns the strategy tag.
func (s *MarketMaking) Name() string { return domain.StrategyMarketMaking }

// Stats returns the running daily tally.
func (s *MarketMaking) Stats() Stats { return s.snapshot() }

// States returns a copy of every managed market's state.
func (s *MarketMaking) States() []MarketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MarketState, 0, len(s.states))
	for _, st := range s.states {
		copied := *st
		copied.OpenOrders = append([]QuoteRef(nil), st.OpenOrders...)
		out = append(out, copied)
	}
	return out
}

// Evaluate classifies a market without side effects.
func (s *MarketMaking) Evaluate(md domain.MarketData) (Match, bool) {
	cfg := s.cfg.Get().MarketMaking
	if !cfg.Enabled || !md.HasOrderBook() || !md.TradableNow() {
		return Match{}, false
	}

	snap := md.Snapshot
	if snap.LiquidityTotal < cfg.MinLiquidity || snap.Volume1d < cfg.MinVolume24h {
		return Match{}, false
	}
	marketSpreadPct := snap.Spread * 100
	if marketSpreadPct < cfg.SpreadPercent/2 {
		return Match{}, false
	}
	if cfg.MaxMarketSpread > 0 && marketSpreadPct > cfg.MaxMarketSpread {
		return Match{}, false
	}
	mid := (snap.BestBid + snap.BestAsk) / 2
	if mid < cfg.PriceRangeMin || mid > cfg.PriceRangeMax {
		return Match{}, false
	}
	if cfg.MinDaysUntilEnd > 0 && !md.EndDate.IsZero() {
		if time.Until(md.EndDate) < time.Duration(cfg.MinDaysUntilEnd)*24*time.Hour {
			return Match{}, false
		}
	}

	// Confidence scales with how far above each floor the market sits.
	score := 0
	if snap.LiquidityTotal >= 2*cfg.MinLiquidity {
		score++
	}
	if snap.Volume1d >= 2*cfg.MinVolume24h {
		score++
	}
	if marketSpreadPct >= cfg.SpreadPercent {
		score++
	}
	confidence := domain.ConfidenceLow
	switch score {
	case 3:
		confidence = domain.ConfidenceHigh
	case 2:
		confidence = domain.ConfidenceMedium
	}

	estimated := cfg.OrderSize * (cfg.SpreadPercent / 100) * (1 - cfg.EstimatedFeeRate)
	return Match{
		Strategy:        s.Name(),
		Confidence:      confidence,
		EstimatedProfit: estimated,
		Reason:          fmt.Sprintf("spread %.2f%%, volume24h %.0f", marketSpreadPct, snap.Volume1d),
	}, true
}

// Execute enters the market: both quotes are placed and the market joins
// the refresh loop.
func (s *MarketMaking) Execute(ctx context.Context, md domain.MarketData) error {
	if _, ok := s.Evaluate(md); !ok {
		return fmt.Errorf("market making %s: %w", md.ConditionID, domain.ErrDomainReject)
	}
	s.found()

	cfg := s.cfg.Get().MarketMaking
	now := s.nowMs()
	if s.cooldown.InCooldown(md.ConditionID, s.Name(), now, cfg.CooldownMs) {
		return fmt.Errorf("market making %s: %w", md.ConditionID, domain.ErrCooldown)
	}

	s.mu.Lock()
	if _, active := s.states[md.ConditionID]; active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	size := cfg.MaxPositionPerSide / 2
	if decision := s.cfg.CanExecuteTrade(s.Name(), size); !decision.Allowed {
		return fmt.Errorf("market making %s: %w: %s", md.ConditionID, domain.ErrCapacityExceeded, decision.Reason)
	}
	if !cfg.AutoExecute {
		s.logger.Info("candidate detected, auto-execute off", slog.String("condition_id", md.ConditionID))
		return nil
	}

	return s.enterMarket(ctx, md, size)
}

// enterMarket places the initial paired quotes around the mid price.
func (s *MarketMaking) enterMarket(ctx context.Context, md domain.MarketData, size float64) error {
	cfg := s.cfg.Get().MarketMaking
	tokenID := md.ClobTokenIDs[0]

	mid := (md.Snapshot.BestBid + md.Snapshot.BestAsk) / 2
	if mid <= 0 {
		return fmt.Errorf("market making %s: %w: no mid price", md.ConditionID, domain.ErrDomainReject)
	}

	state := &MarketState{
		ConditionID: md.ConditionID,
		TokenID:     tokenID,
		Status:      MMQuoting,
	}
	if err := s.placeQuotes(ctx, state, mid, cfg.SpreadPercent, size); err != nil {
		return fmt.Errorf("market making %s: %w", md.ConditionID, err)
	}

	s.mu.Lock()
	s.states[md.ConditionID] = state
	s.mu.Unlock()

	s.cfg.RecordTradeVolume(s.Name(), size)
	s.cooldown.Touch(md.ConditionID, s.Name(), s.nowMs())
	s.succeeded(0)
	s.logger.Info("entered market",
		slog.String("condition_id", md.ConditionID),
		slog.Float64("mid", mid),
		slog.Float64("size", size),
	)
	return nil
}

// placeQuotes submits the buy/sell pair at mid -/+ half the configured
// spread and records the venue order ids on the state.
func (s *MarketMaking) placeQuotes(ctx context.Context, state *MarketState, mid, spreadPercent, size float64) error {
	half := spreadPercent / 200
	bid := clampPrice(mid * (1 - half))
	ask := clampPrice(mid * (1 + half))

	quotes := []domain.Order{
		{
			Strategy:    s.Name(),
			Type:        domain.OrderTypeBuy,
			TokenID:     state.TokenID,
			ConditionID: state.ConditionID,
			Side:        domain.OrderSideBuy,
			Price:       bid,
			Size:        size,
		},
		{
			Strategy:    s.Name(),
			Type:        domain.OrderTypeSell,
			TokenID:     state.TokenID,
			ConditionID: state.ConditionID,
			Side:        domain.OrderSideSell,
			Price:       ask,
			Size:        size,
		},
	}

	results := s.queue.SubmitBatch(ctx, domain.BatchOrder{
		BatchID:  uuid.New().String(),
		Orders:   quotes,
		Priority: domain.PriorityNormal,
	})

	state.OpenOrders = state.OpenOrders[:0]
	placed := 0
	for i, res := range results {
		if res.Success {
			placed++
			if res.OrderID != "" {
				state.OpenOrders = append(state.OpenOrders, QuoteRef{ID: res.OrderID, Side: quotes[i].Side, Size: quotes[i].Size})
			}
		}
	}
	if placed == 0 {
		return fmt.Errorf("no quote accepted")
	}
	state.LastRefreshAt = time.Now().UTC()
	state.TotalVolume += size * float64(placed)
	return nil
}

// RunRefreshLoop re-quotes every active market on the configured cadence
// until ctx is cancelled. Position reconciliation against the venue's
// open-orders list happens once per tick, before replacement quotes go
// out.
func (s *MarketMaking) RunRefreshLoop(ctx context.Context) error {
	cfg := s.cfg.Get().MarketMaking
	interval := time.Duration(cfg.RefreshIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("refresh loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.StopAll(context.WithoutCancel(ctx))
			s.logger.Info("refresh loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *MarketMaking) refreshAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	open, err := s.venue.GetOpenOrders(ctx)
	if err != nil {
		s.logger.Warn("open orders read failed", slog.String("error", err.Error()))
		open = nil
	}

	for _, id := range ids {
		if err := s.refreshOrders(ctx, id, open); err != nil {
			s.logger.Warn("refresh failed",
				slog.String("condition_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// refreshOrders reconciles one market's fills, merges offsetting
// inventory, cancels stale quotes, and places replacements.
func (s *MarketMaking) refreshOrders(ctx context.Context, conditionID string, venueOpen []domain.Order) error {
	cfg := s.cfg.Get().MarketMaking

	s.mu.Lock()
	state, ok := s.states[conditionID]
	if !ok || state.Status != MMQuoting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.reconcile(state, venueOpen)

	if cfg.AutoMerge && math.Min(state.LongPosition, state.ShortPosition) >= cfg.MergeThreshold {
		if err := s.mergePositions(ctx, state); err != nil {
			s.logger.Warn("merge failed", slog.String("condition_id", conditionID), slog.String("error", err.Error()))
		}
	}

	skewLimit := cfg.SkewThreshold
	if skewLimit > 0 && math.Abs(state.InventorySkew) > skewLimit {
		s.logger.Warn("inventory skew over threshold, holding quotes",
			slog.String("condition_id", conditionID),
			slog.Float64("skew", state.InventorySkew),
		)
		return nil
	}

	s.cancelQuotes(ctx, state)

	bid, err := s.venue.GetPrice(ctx, state.TokenID, domain.OrderSideBuy)
	if err != nil {
		return err
	}
	ask, err := s.venue.GetPrice(ctx, state.TokenID, domain.OrderSideSell)
	if err != nil {
		return err
	}
	if bid <= 0 || ask <= 0 {
		return fmt.Errorf("%w: book empty", domain.ErrDomainReject)
	}

	return s.placeQuotes(ctx, state, (bid+ask)/2, cfg.SpreadPercent, cfg.MaxPositionPerSide/2)
}

// reconcile infers fills from the venue's open-orders list: a tracked
// quote no longer open has filled, moving size into the matching side's
// position.
func (s *MarketMaking) reconcile(state *MarketState, venueOpen []domain.Order) {
	if venueOpen == nil {
		return
	}
	stillOpen := make(map[string]domain.Order, len(venueOpen))
	for _, o := range venueOpen {
		stillOpen[o.ID] = o
	}

	remaining := state.OpenOrders[:0]
	for _, q := range state.OpenOrders {
		if _, ok := stillOpen[q.ID]; ok {
			remaining = append(remaining, q)
			continue
		}
		// Quote gone from the book: treat as filled at the quoted size.
		if q.Side == domain.OrderSideBuy {
			state.LongPosition += q.Size
		} else {
			state.ShortPosition += q.Size
		}
		state.TotalVolume += q.Size
	}
	state.OpenOrders = remaining

	total := state.LongPosition + state.ShortPosition
	if total > 0 {
		state.InventorySkew = (state.LongPosition - state.ShortPosition) / total
	} else {
		state.InventorySkew = 0
	}
}

// mergePositions redeems offsetting long/short inventory back into
// collateral through the contract capability.
func (s *MarketMaking) mergePositions(ctx context.Context, state *MarketState) error {
	amount := math.Min(state.LongPosition, state.ShortPosition)
	if amount <= 0 {
		return nil
	}
	if !s.contract.CanSign() {
		return domain.ErrSigningUnavailable
	}
	res := <-s.queue.SubmitOrder(domain.Order{
		Strategy:    s.Name(),
		Type:        domain.OrderTypeMerge,
		Priority:    domain.PriorityLow,
		ConditionID: state.ConditionID,
		Size:        amount,
		Metadata:    map[string]string{"outcome_count": "2"},
	})
	if !res.Success {
		return fmt.Errorf("merge: %s", res.Err)
	}
	state.LongPosition -= amount
	state.ShortPosition -= amount
	s.logger.Info("merged positions",
		slog.String("condition_id", state.ConditionID),
		slog.Float64("amount", amount),
	)
	return nil
}

// cancelQuotes cancels every tracked open quote for the market.
func (s *MarketMaking) cancelQuotes(ctx context.Context, state *MarketState) {
	for _, q := range state.OpenOrders {
		res := <-s.queue.SubmitOrder(domain.Order{
			Strategy:    s.Name(),
			Type:        domain.OrderTypeCancel,
			Priority:    domain.PriorityUrgent,
			TokenID:     q.ID, // CANCEL carries the venue order id here
			ConditionID: state.ConditionID,
		})
		if !res.Success {
			s.logger.Warn("cancel failed",
				slog.String("condition_id", state.ConditionID),
				slog.String("order_id", q.ID),
				slog.String("error", res.Err),
			)
		}
	}
	state.OpenOrders = state.OpenOrders[:0]
}

// ExitMarket cancels the market's quotes and removes it from the refresh
// loop.
func (s *MarketMaking) ExitMarket(ctx context.Context, conditionID string) error {
	s.mu.Lock()
	state, ok := s.states[conditionID]
	if ok {
		state.Status = MMExiting
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("market making %s: %w", conditionID, domain.ErrNotFound)
	}

	s.cancelQuotes(ctx, state)

	s.mu.Lock()
	delete(s.states, conditionID)
	s.mu.Unlock()

	s.logger.Info("exited market", slog.String("condition_id", conditionID))
	return nil
}

// StopAll exits every managed market.
func (s *MarketMaking) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.ExitMarket(ctx, id); err != nil {
			s.logger.Warn("exit failed", slog.String("condition_id", id), slog.String("error", err.Error()))
		}
	}
}

// clampPrice keeps a quote inside the venue's open (0, 1) price interval.
func clampPrice(p float64) float64 {
	if p < 0.001 {
		return 0.001
	}
	if p > 0.999 {
		return 0.999
	}
	return p
}
