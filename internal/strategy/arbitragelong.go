package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/stratcfg"
)

// PriceReader re-fetches current best prices immediately before execution,
// for the slippage guard. The order-book client satisfies this.
type PriceReader interface {
	GetPrice(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error)
}

// ArbitrageLong detects binary markets whose ask-sum is below 1: buying
// both outcomes costs less than the $1 the pair resolves for.
type ArbitrageLong struct {
	cfg      *stratcfg.Manager
	queue    OrderSubmitter
	prices   PriceReader
	cooldown *domain.CooldownTable
	nowMs    func() int64
	logger   *slog.Logger
	statCounter
}

// NewArbitrageLong builds the evaluator.
func NewArbitrageLong(cfg *stratcfg.Manager, queue OrderSubmitter, prices PriceReader, logger *slog.Logger) *ArbitrageLong {
	return &ArbitrageLong{
		cfg:      cfg,
		queue:    queue,
		prices:   prices,
		cooldown: domain.NewCooldownTable(),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		logger:   logger.With(slog.String("component", "strategy"), slog.String("strategy", domain.StrategyArbitrageLong)),
	}
}

// Name returns the strategy tag.
func (s *ArbitrageLong) Name() string { return domain.StrategyArbitrageLong }

// Stats returns the running daily tally.
func (s *ArbitrageLong) Stats() Stats { return s.snapshot() }

// Evaluate classifies a market without side effects.
func (s *ArbitrageLong) Evaluate(md domain.MarketData) (Match, bool) {
	opp, ok := s.detect(md)
	if !ok {
		return Match{}, false
	}
	return Match{
		Strategy:        s.Name(),
		Confidence:      opp.Confidence,
		EstimatedProfit: opp.NetProfit,
		Reason:          fmt.Sprintf("ask sum %.4f, spread %.2f%%", opp.PriceSum, opp.Spread),
	}, true
}

func (s *ArbitrageLong) detect(md domain.MarketData) (domain.Opportunity, bool) {
	cfg := s.cfg.Get().ArbitrageLong
	if !cfg.Enabled || !cfg.LongEnabled {
		return domain.Opportunity{}, false
	}
	prices := md.Snapshot.OutcomePrices
	if len(md.Outcomes) != 2 || len(prices) != 2 || !md.HasOrderBook() {
		return domain.Opportunity{}, false
	}
	if md.Snapshot.LiquidityTotal < cfg.MinLiquidity {
		return domain.Opportunity{}, false
	}

	sum := 0.0
	for _, p := range prices {
		if p <= 0 || p >= 1 {
			return domain.Opportunity{}, false
		}
		sum += p
	}
	if sum >= cfg.MaxPriceSum {
		return domain.Opportunity{}, false
	}
	spread := (1 - sum) * 100
	if spread < cfg.MinSpread {
		return domain.Opportunity{}, false
	}

	gross := (1 - sum) * cfg.TradeAmount
	net := gross*(1-takerFeePct) - minTxCost
	if net < 0.01 {
		return domain.Opportunity{}, false
	}

	confidence := domain.ConfidenceLow
	switch {
	case sum < 0.98 && net > 0.10:
		confidence = domain.ConfidenceHigh
	case sum < 0.99 && net > 0.05:
		confidence = domain.ConfidenceMedium
	}

	return domain.Opportunity{
		ID:          uuid.New().String(),
		Strategy:    s.Name(),
		ConditionID: md.ConditionID,
		Question:    md.Question,
		Outcomes:    append([]string(nil), md.Outcomes...),
		Prices:      append([]float64(nil), prices...),
		PriceSum:    sum,
		Spread:      spread,
		GrossProfit: gross,
		NetProfit:   net,
		Confidence:  confidence,
		State:       domain.OpportunityDetected,
		DetectedAt:  time.Now().UTC(),
	}, true
}

// checkSlippage re-reads the current ask for each leg and rejects the plan
// when the observed sum has drifted from the planned sum by more than the
// configured percentage.
func (s *ArbitrageLong) checkSlippage(ctx context.Context, md domain.MarketData, opp domain.Opportunity, maxSlippage float64) error {
	planSum := opp.PriceSum
	marketSum := 0.0
	for _, tokenID := range md.ClobTokenIDs {
		// A buy order crosses the standing ask side of the book.
		p, err := s.prices.GetPrice(ctx, tokenID, domain.OrderSideSell)
		if err != nil {
			return fmt.Errorf("read price for %s: %w", tokenID, err)
		}
		if p <= 0 {
			return fmt.Errorf("token %s: %w: price unknown", tokenID, domain.ErrDomainReject)
		}
		marketSum += p
	}

	drift := math.Abs(planSum-marketSum) / planSum * 100
	if drift > maxSlippage {
		return fmt.Errorf("%w: slippage %.2f%% exceeds %.2f%%", domain.ErrDomainReject, drift, maxSlippage)
	}
	return nil
}

// Execute buys both outcomes at the listed prices after the gates and the
// slippage guard pass.
func (s *ArbitrageLong) Execute(ctx context.Context, md domain.MarketData) error {
	opp, ok := s.detect(md)
	if !ok {
		return fmt.Errorf("arbitrage long %s: %w", md.ConditionID, domain.ErrDomainReject)
	}
	s.found()

	cfg := s.cfg.Get().ArbitrageLong
	now := s.nowMs()
	if s.cooldown.InCooldown(md.ConditionID, s.Name(), now, cfg.CooldownMs) {
		return fmt.Errorf("arbitrage long %s: %w", md.ConditionID, domain.ErrCooldown)
	}
	if time.Since(opp.DetectedAt) > maxOpportunityAge {
		return fmt.Errorf("arbitrage long %s: opportunity expired", md.ConditionID)
	}

	size := cfg.TradeAmount
	if cfg.MaxTradePerOrder > 0 && size > cfg.MaxTradePerOrder {
		size = cfg.MaxTradePerOrder
	}
	if decision := s.cfg.CanExecuteTrade(s.Name(), size); !decision.Allowed {
		return fmt.Errorf("arbitrage long %s: %w: %s", md.ConditionID, domain.ErrCapacityExceeded, decision.Reason)
	}
	if !cfg.AutoExecute {
		s.logger.Info("opportunity detected, auto-execute off",
			slog.String("condition_id", md.ConditionID),
			slog.Float64("net_profit", opp.NetProfit),
		)
		return nil
	}

	if err := s.checkSlippage(ctx, md, opp, cfg.MaxSlippage); err != nil {
		return fmt.Errorf("arbitrage long %s: %w", md.ConditionID, err)
	}

	orders := make([]domain.Order, 0, 2)
	for i := range md.Outcomes {
		orders = append(orders, domain.Order{
			Strategy:      s.Name(),
			OpportunityID: opp.ID,
			Type:          domain.OrderTypeBuy,
			TokenID:       md.ClobTokenIDs[i],
			ConditionID:   md.ConditionID,
			Side:          domain.OrderSideBuy,
			Price:         opp.Prices[i],
			Size:          size,
			Metadata:      map[string]string{"outcome": md.Outcomes[i]},
		})
	}

	results := s.queue.SubmitBatch(ctx, domain.BatchOrder{
		BatchID:    opp.ID,
		Orders:     orders,
		Priority:   domain.PriorityHigh,
		Atomic:     true,
		Sequential: true,
	})

	s.cfg.RecordTradeVolume(s.Name(), size)
	s.cooldown.Touch(md.ConditionID, s.Name(), s.nowMs())

	for _, res := range results {
		if !res.Success {
			s.failed()
			return fmt.Errorf("arbitrage long %s: leg failed: %s", md.ConditionID, res.Err)
		}
	}
	if len(results) < len(orders) {
		s.failed()
		return fmt.Errorf("arbitrage long %s: batch stopped after %d legs", md.ConditionID, len(results))
	}

	s.succeeded(opp.NetProfit)
	s.logger.Info("arbitrage long executed",
		slog.String("condition_id", md.ConditionID),
		slog.Float64("size", size),
		slog.Float64("net_profit", opp.NetProfit),
	)
	return nil
}
