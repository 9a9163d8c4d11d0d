package strategy

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/config"
	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/stratcfg"
)

// fakeQueue records submitted orders and succeeds (or fails) them
// immediately.
type fakeQueue struct {
	mu     sync.Mutex
	orders []domain.Order
	fail   map[domain.OrderType]bool
}

func (q *fakeQueue) SubmitOrder(order domain.Order) <-chan domain.OrderResult {
	q.mu.Lock()
	q.orders = append(q.orders, order)
	failed := q.fail[order.Type]
	q.mu.Unlock()

	ch := make(chan domain.OrderResult, 1)
	if failed {
		ch <- domain.OrderResult{OrderID: order.ID, Status: domain.OrderStatusFailed, Err: "rejected"}
	} else {
		ch <- domain.OrderResult{
			OrderID:     order.ID,
			Status:      domain.OrderStatusSuccess,
			Success:     true,
			FilledSize:  order.Size,
			FilledPrice: order.Price,
		}
	}
	return ch
}

func (q *fakeQueue) SubmitBatch(ctx context.Context, batch domain.BatchOrder) []domain.OrderResult {
	results := make([]domain.OrderResult, 0, len(batch.Orders))
	for _, o := range batch.Orders {
		res := <-q.SubmitOrder(o)
		results = append(results, res)
		if batch.Atomic && !res.Success {
			break
		}
	}
	return results
}

func (q *fakeQueue) submitted() []domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Order(nil), q.orders...)
}

// fakeContract signs everything and succeeds.
type fakeContract struct {
	canSign bool
	mints   int
	merges  int
}

func (c *fakeContract) MintTokens(_ context.Context, _ string, amount float64, _ int) (domain.ContractResult, error) {
	c.mints++
	return domain.ContractResult{Success: true, TxHash: "0xmint"}, nil
}

func (c *fakeContract) MergeTokens(_ context.Context, _ string, amount float64, _ int) (domain.ContractResult, error) {
	c.merges++
	return domain.ContractResult{Success: true, TxHash: "0xmerge"}, nil
}

func (c *fakeContract) EnsureUsdcApproval(context.Context, float64) error { return nil }
func (c *fakeContract) GetUsdcBalance(context.Context) (float64, error)   { return 10_000, nil }
func (c *fakeContract) GetTokenBalance(context.Context, string) (float64, error) {
	return 0, nil
}
func (c *fakeContract) CanSign() bool { return c.canSign }

// fakePrices serves fixed per-token prices for the slippage guard.
type fakePrices struct {
	byToken map[string]float64
}

func (p fakePrices) GetPrice(_ context.Context, tokenID string, _ domain.OrderSide) (float64, error) {
	return p.byToken[tokenID], nil
}

func testManager(t *testing.T, mutate func(*config.Config)) *stratcfg.Manager {
	t.Helper()
	cfg := config.Defaults()
	cfg.MintSplit.AutoExecute = true
	cfg.Arbitrage.AutoExecute = true
	if mutate != nil {
		mutate(&cfg)
	}
	m := stratcfg.New(&cfg, nil, slog.Default())
	m.SetClock(func() string { return "2026-07-31" }, func() int64 { return 0 })
	return m
}

func threeWayMarket() domain.MarketData {
	return domain.MarketData{
		Market: domain.Market{
			ConditionID:     "c1",
			Question:        "Who wins?",
			Outcomes:        []string{"A", "B", "C"},
			ClobTokenIDs:    []string{"t1", "t2", "t3"},
			Active:          true,
			EnableOrderBook: true,
		},
		Snapshot: domain.PriceSnapshot{
			ConditionID:    "c1",
			OutcomePrices:  []float64{0.35, 0.38, 0.32},
			LiquidityTotal: 1000,
		},
	}
}

func binaryMarket(p1, p2 float64) domain.MarketData {
	return domain.MarketData{
		Market: domain.Market{
			ConditionID:     "c2",
			Question:        "Yes or no?",
			Outcomes:        []string{"Yes", "No"},
			ClobTokenIDs:    []string{"y", "n"},
			Active:          true,
			EnableOrderBook: true,
		},
		Snapshot: domain.PriceSnapshot{
			ConditionID:    "c2",
			OutcomePrices:  []float64{p1, p2},
			LiquidityTotal: 1000,
		},
	}
}

func TestMintSplitDetection(t *testing.T) {
	s := NewMintSplit(testManager(t, nil), &fakeQueue{}, &fakeContract{canSign: true}, slog.Default())

	// Sum 1.05 over three outcomes with $1000 liquidity.
	match, ok := s.Evaluate(threeWayMarket())
	require.True(t, ok)
	require.Equal(t, domain.ConfidenceHigh, match.Confidence)

	// gross = 0.05 * 100 = 5.00; net = 5*(1-0.015) - 0.01
	require.InDelta(t, 4.915, match.EstimatedProfit, 0.001)

	// Below the price-sum floor: no match.
	md := threeWayMarket()
	md.Snapshot.OutcomePrices = []float64{0.33, 0.33, 0.34}
	_, ok = s.Evaluate(md)
	require.False(t, ok)

	// Thin market: no match.
	md = threeWayMarket()
	md.Snapshot.LiquidityTotal = 10
	_, ok = s.Evaluate(md)
	require.False(t, ok)

	// Too few outcomes for a 3-outcome minimum.
	md = threeWayMarket()
	md.Outcomes = md.Outcomes[:2]
	md.ClobTokenIDs = md.ClobTokenIDs[:2]
	md.Snapshot.OutcomePrices = md.Snapshot.OutcomePrices[:2]
	_, ok = s.Evaluate(md)
	require.False(t, ok)
}

func TestMintSplitExecuteHappyPath(t *testing.T) {
	queue := &fakeQueue{}
	contract := &fakeContract{canSign: true}
	mgr := testManager(t, nil)
	s := NewMintSplit(mgr, queue, contract, slog.Default())
	s.nowMs = func() int64 { return 1_000_000 }

	require.NoError(t, s.Execute(context.Background(), threeWayMarket()))

	orders := queue.submitted()
	require.Len(t, orders, 4, "one mint plus three sells")
	require.Equal(t, domain.OrderTypeMint, orders[0].Type)
	require.Equal(t, 100.0, orders[0].Size)
	for i, o := range orders[1:] {
		require.Equal(t, domain.OrderTypeSell, o.Type)
		require.Equal(t, 100.0, o.Size)
		require.InDelta(t, []float64{0.35, 0.38, 0.32}[i], o.Price, 1e-9)
	}

	// Volume recorded and cooldown set.
	stats := mgr.GetDailyStats()
	require.Equal(t, 100.0, stats.PerStrategy[domain.StrategyMintSplit])

	err := s.Execute(context.Background(), threeWayMarket())
	require.ErrorIs(t, err, domain.ErrCooldown)
}

func TestMintSplitRequiresSigning(t *testing.T) {
	s := NewMintSplit(testManager(t, nil), &fakeQueue{}, &fakeContract{canSign: false}, slog.Default())
	err := s.Execute(context.Background(), threeWayMarket())
	require.ErrorIs(t, err, domain.ErrSigningUnavailable)
}

func TestMintSplitPartialSellFails(t *testing.T) {
	queue := &fakeQueue{fail: map[domain.OrderType]bool{domain.OrderTypeSell: true}}
	s := NewMintSplit(testManager(t, nil), queue, &fakeContract{canSign: true}, slog.Default())

	err := s.Execute(context.Background(), threeWayMarket())
	require.Error(t, err)
	require.Equal(t, int64(1), s.Stats().Failed)
}

func TestArbitrageLongDetection(t *testing.T) {
	prices := fakePrices{byToken: map[string]float64{"y": 0.48, "n": 0.47}}
	s := NewArbitrageLong(testManager(t, nil), &fakeQueue{}, prices, slog.Default())

	// Sum 0.95 -> spread 5%.
	match, ok := s.Evaluate(binaryMarket(0.48, 0.47))
	require.True(t, ok)
	require.Equal(t, domain.ConfidenceHigh, match.Confidence)

	// net = (1-0.95)*100*(1-0.015) - 0.01
	require.InDelta(t, 4.915, match.EstimatedProfit, 0.001)

	// Sum above the ceiling: no match.
	_, ok = s.Evaluate(binaryMarket(0.52, 0.49))
	require.False(t, ok)

	// Three outcomes: not a binary market.
	md := threeWayMarket()
	_, ok = s.Evaluate(md)
	require.False(t, ok)
}

func TestArbitrageLongExecuteAndCooldown(t *testing.T) {
	queue := &fakeQueue{}
	prices := fakePrices{byToken: map[string]float64{"y": 0.48, "n": 0.47}}
	mgr := testManager(t, nil)
	s := NewArbitrageLong(mgr, queue, prices, slog.Default())
	s.nowMs = func() int64 { return 1_000_000 }

	require.NoError(t, s.Execute(context.Background(), binaryMarket(0.48, 0.47)))

	orders := queue.submitted()
	require.Len(t, orders, 2)
	for _, o := range orders {
		require.Equal(t, domain.OrderTypeBuy, o.Type)
		require.Equal(t, domain.OrderSideBuy, o.Side)
		require.Equal(t, 100.0, o.Size)
	}

	// Immediate re-detection is rejected by cooldown.
	err := s.Execute(context.Background(), binaryMarket(0.48, 0.47))
	require.ErrorIs(t, err, domain.ErrCooldown)
}

func TestArbitrageLongSlippageGuard(t *testing.T) {
	// The book has drifted well away from the plan prices.
	prices := fakePrices{byToken: map[string]float64{"y": 0.60, "n": 0.55}}
	s := NewArbitrageLong(testManager(t, nil), &fakeQueue{}, prices, slog.Default())

	err := s.Execute(context.Background(), binaryMarket(0.48, 0.47))
	require.ErrorIs(t, err, domain.ErrDomainReject)
}

func TestMarketMakingEvaluate(t *testing.T) {
	mgr := testManager(t, func(c *config.Config) {
		c.MM.Enabled = true
	})
	s := NewMarketMaking(mgr, &fakeQueue{}, mmVenue{}, &fakeContract{canSign: true}, slog.Default())

	md := binaryMarket(0.48, 0.47)
	md.Snapshot.Volume1d = 5000
	md.Snapshot.LiquidityTotal = 2000
	md.Snapshot.BestBid = 0.46
	md.Snapshot.BestAsk = 0.50
	md.Snapshot.Spread = 0.04

	match, ok := s.Evaluate(md)
	require.True(t, ok)
	require.Equal(t, domain.ConfidenceHigh, match.Confidence)

	// Disabled strategy never matches.
	mgr2 := testManager(t, nil)
	s2 := NewMarketMaking(mgr2, &fakeQueue{}, mmVenue{}, &fakeContract{canSign: true}, slog.Default())
	_, ok = s2.Evaluate(md)
	require.False(t, ok)
}

type mmVenue struct{}

func (mmVenue) GetPrice(_ context.Context, _ string, side domain.OrderSide) (float64, error) {
	if side == domain.OrderSideBuy {
		return 0.46, nil
	}
	return 0.50, nil
}

func (mmVenue) GetOpenOrders(context.Context) ([]domain.Order, error) { return nil, nil }

func TestWorkerSerializesAndDrains(t *testing.T) {
	mgr := testManager(t, nil)
	queue := &fakeQueue{}
	s := NewMintSplit(mgr, queue, &fakeContract{canSign: true}, slog.Default())

	w := NewWorker(s, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.True(t, w.Submit(threeWayMarket()))
	w.WaitUntilIdle()
	require.True(t, w.Idle())
	require.NotEmpty(t, queue.submitted())
}
