package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/stratcfg"
)

// Execution cost constants shared by the evaluators.
const (
	takerFeePct = 0.015
	minTxCost   = 0.01

	// maxOpportunityAge expires a detected opportunity that never reached a
	// terminal state.
	maxOpportunityAge = 300 * time.Second

	// sellPacing spaces consecutive sell submissions so the venue does not
	// see a burst of orders for the same market.
	sellPacing = 200 * time.Millisecond
)

// OrderSubmitter is the slice of the order queue the strategies use.
type OrderSubmitter interface {
	SubmitOrder(order domain.Order) <-chan domain.OrderResult
	SubmitBatch(ctx context.Context, batch domain.BatchOrder) []domain.OrderResult
}

// MintSplit detects multi-outcome markets whose bid-sum exceeds 1: minting
// a full outcome set for $1 and selling every leg locks in the excess.
type MintSplit struct {
	cfg      *stratcfg.Manager
	queue    OrderSubmitter
	contract domain.ContractClient
	cooldown *domain.CooldownTable
	nowMs    func() int64
	logger   *slog.Logger
	statCounter
}

// NewMintSplit builds the evaluator. The cooldown table is strategy-owned;
// the dispatcher keeps its own.
func NewMintSplit(cfg *stratcfg.Manager, queue OrderSubmitter, contract domain.ContractClient, logger *slog.Logger) *MintSplit {
	return &MintSplit{
		cfg:      cfg,
		queue:    queue,
		contract: contract,
		cooldown: domain.NewCooldownTable(),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		logger:   logger.With(slog.String("component", "strategy"), slog.String("strategy", domain.StrategyMintSplit)),
	}
}

// Name returns the strategy tag.
func (s *MintSplit) Name() string { return domain.StrategyMintSplit }

// Stats returns the running daily tally.
func (s *MintSplit) Stats() Stats { return s.snapshot() }

// Evaluate classifies a market without side effects.
func (s *MintSplit) Evaluate(md domain.MarketData) (Match, bool) {
	opp, ok := s.detect(md)
	if !ok {
		return Match{}, false
	}
	return Match{
		Strategy:        s.Name(),
		Confidence:      opp.Confidence,
		EstimatedProfit: opp.NetProfit,
		Reason:          fmt.Sprintf("price sum %.4f over %d outcomes", opp.PriceSum, len(opp.Outcomes)),
	}, true
}

// detect applies the detection rule and prices the opportunity.
func (s *MintSplit) detect(md domain.MarketData) (domain.Opportunity, bool) {
	cfg := s.cfg.Get().MintSplit
	if !cfg.Enabled {
		return domain.Opportunity{}, false
	}
	prices := md.Snapshot.OutcomePrices
	if len(md.Outcomes) < cfg.MinOutcomes || len(prices) != len(md.Outcomes) {
		return domain.Opportunity{}, false
	}
	if !md.HasOrderBook() {
		return domain.Opportunity{}, false
	}

	sum := 0.0
	for _, p := range prices {
		if p <= 0 || p >= 1 {
			return domain.Opportunity{}, false
		}
		sum += p
	}
	if sum <= cfg.MinPriceSum || md.Snapshot.LiquidityTotal < cfg.MinLiquidity {
		return domain.Opportunity{}, false
	}

	gross := (sum - 1) * cfg.MintAmount
	net := gross*(1-takerFeePct) - minTxCost
	minProfit := cfg.MinProfit
	if minProfit < 0.01 {
		minProfit = 0.01
	}
	if net < minProfit {
		return domain.Opportunity{}, false
	}

	confidence := domain.ConfidenceLow
	switch {
	case sum > 1.02 && net > 0.10:
		confidence = domain.ConfidenceHigh
	case sum > 1.01 && net > 0.05:
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
		GrossProfit: gross,
		NetProfit:   net,
		Confidence:  confidence,
		State:       domain.OpportunityDetected,
		DetectedAt:  time.Now().UTC(),
	}, true
}

// mintPlan is the execution plan: one mint plus one sell per outcome.
type mintPlan struct {
	opportunity domain.Opportunity
	mintAmount  float64
	sells       []domain.Order
}

// plan sizes the mint against the per-trade cap and the 10x depth
// heuristic, then builds one sell order per outcome at its listed price.
func (s *MintSplit) plan(md domain.MarketData, opp domain.Opportunity) mintPlan {
	cfg := s.cfg.Get().MintSplit

	maxMint := cfg.MaxMintPerTrade
	if depth := 10 * cfg.MintAmount; depth < maxMint {
		maxMint = depth
	}
	amount := cfg.MintAmount
	if amount > maxMint {
		amount = maxMint
	}

	sells := make([]domain.Order, 0, len(opp.Outcomes))
	for i, outcome := range opp.Outcomes {
		sells = append(sells, domain.Order{
			Strategy:      s.Name(),
			OpportunityID: opp.ID,
			Type:          domain.OrderTypeSell,
			Priority:      domain.PriorityHigh,
			TokenID:       md.ClobTokenIDs[i],
			ConditionID:   md.ConditionID,
			Side:          domain.OrderSideSell,
			Price:         opp.Prices[i],
			Size:          amount,
			Metadata:      map[string]string{"outcome": outcome},
		})
	}
	return mintPlan{opportunity: opp, mintAmount: amount, sells: sells}
}

// Execute runs the full cycle: detect, gate, mint, sell every leg, settle
// the books.
func (s *MintSplit) Execute(ctx context.Context, md domain.MarketData) error {
	opp, ok := s.detect(md)
	if !ok {
		return fmt.Errorf("mint split %s: %w", md.ConditionID, domain.ErrDomainReject)
	}
	s.found()

	cfg := s.cfg.Get().MintSplit
	now := s.nowMs()
	if s.cooldown.InCooldown(md.ConditionID, s.Name(), now, cfg.CooldownMs) {
		return fmt.Errorf("mint split %s: %w", md.ConditionID, domain.ErrCooldown)
	}
	if time.Since(opp.DetectedAt) > maxOpportunityAge {
		return fmt.Errorf("mint split %s: opportunity expired", md.ConditionID)
	}
	if !s.contract.CanSign() {
		return fmt.Errorf("mint split %s: %w", md.ConditionID, domain.ErrSigningUnavailable)
	}

	plan := s.plan(md, opp)
	if decision := s.cfg.CanExecuteTrade(s.Name(), plan.mintAmount); !decision.Allowed {
		return fmt.Errorf("mint split %s: %w: %s", md.ConditionID, domain.ErrCapacityExceeded, decision.Reason)
	}
	if !cfg.AutoExecute {
		s.logger.Info("opportunity detected, auto-execute off",
			slog.String("condition_id", md.ConditionID),
			slog.Float64("net_profit", opp.NetProfit),
		)
		return nil
	}

	mintRes := <-s.queue.SubmitOrder(domain.Order{
		Strategy:      s.Name(),
		OpportunityID: opp.ID,
		Type:          domain.OrderTypeMint,
		Priority:      domain.PriorityUrgent,
		ConditionID:   md.ConditionID,
		Size:          plan.mintAmount,
		Metadata:      map[string]string{"outcome_count": fmt.Sprintf("%d", len(opp.Outcomes))},
	})
	if !mintRes.Success {
		s.failed()
		return fmt.Errorf("mint split %s: mint failed: %s", md.ConditionID, mintRes.Err)
	}

	revenue := 0.0
	allSold := true
	for i, sell := range plan.sells {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sellPacing):
			}
			if ctx.Err() != nil {
				allSold = false
				break
			}
		}
		res := <-s.queue.SubmitOrder(sell)
		if res.Success {
			revenue += sell.Price * sell.Size
		} else {
			allSold = false
			s.logger.Warn("sell leg failed",
				slog.String("condition_id", md.ConditionID),
				slog.String("token_id", sell.TokenID),
				slog.String("error", res.Err),
			)
		}
	}

	actualProfit := revenue - plan.mintAmount - revenue*takerFeePct - minTxCost
	s.cfg.RecordTradeVolume(s.Name(), plan.mintAmount)
	s.cooldown.Touch(md.ConditionID, s.Name(), s.nowMs())

	if allSold {
		s.succeeded(actualProfit)
		s.logger.Info("mint split executed",
			slog.String("condition_id", md.ConditionID),
			slog.Float64("mint_amount", plan.mintAmount),
			slog.Float64("revenue", revenue),
			slog.Float64("profit", actualProfit),
		)
		return nil
	}
	s.failed()
	return fmt.Errorf("mint split %s: partial fill, %d legs", md.ConditionID, len(plan.sells))
}
