package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarketHasOrderBook(t *testing.T) {
	m := Market{
		EnableOrderBook: true,
		Outcomes:        []string{"Yes", "No"},
		ClobTokenIDs:    []string{"1", "2"},
	}
	require.True(t, m.HasOrderBook())

	m.ClobTokenIDs = []string{"1"}
	require.False(t, m.HasOrderBook(), "misaligned token array must fail")

	m.ClobTokenIDs = []string{"1", "2"}
	m.EnableOrderBook = false
	require.False(t, m.HasOrderBook())

	m.EnableOrderBook = true
	m.Outcomes = nil
	m.ClobTokenIDs = nil
	require.False(t, m.HasOrderBook(), "empty outcomes must fail")
}

func TestMarketPriceNormalize(t *testing.T) {
	buy, sell := 0.45, 0.55

	mp := MarketPrice{BuyPrice: &buy, SellPrice: &sell}
	require.True(t, mp.Normalize())
	require.InDelta(t, 0.5, mp.MidPrice, 1e-9)
	require.InDelta(t, 0.1, mp.Spread, 1e-9)
	require.InDelta(t, 20.0, mp.SpreadPct, 1e-9)

	mp = MarketPrice{}
	require.False(t, mp.Normalize(), "both sides null must not persist")

	nan := math.NaN()
	mp = MarketPrice{BuyPrice: &nan, SellPrice: &sell}
	require.False(t, mp.Normalize(), "NaN must not persist")

	inf := math.Inf(1)
	mp = MarketPrice{BuyPrice: &buy, SellPrice: &inf}
	require.False(t, mp.Normalize(), "Inf must not persist")

	mp = MarketPrice{BuyPrice: &buy}
	require.True(t, mp.Normalize(), "single-sided record is persistable")
	require.Zero(t, mp.MidPrice, "derived fields need both sides")
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderStatusPending, OrderStatusExecuting, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusSuccess, false},
		{OrderStatusExecuting, OrderStatusSuccess, true},
		{OrderStatusExecuting, OrderStatusFailed, true},
		{OrderStatusExecuting, OrderStatusCancelled, false},
		{OrderStatusSuccess, OrderStatusExecuting, false},
		{OrderStatusFailed, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusExecuting, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPriorityScores(t *testing.T) {
	require.Equal(t, 100, PriorityUrgent.Score())
	require.Equal(t, 75, PriorityHigh.Score())
	require.Equal(t, 50, PriorityNormal.Score())
	require.Equal(t, 25, PriorityLow.Score())
}

func TestCooldownTable(t *testing.T) {
	tbl := NewCooldownTable()

	require.False(t, tbl.InCooldown("c1", "s1", 1000, 60_000))

	tbl.Touch("c1", "s1", 1000)
	require.True(t, tbl.InCooldown("c1", "s1", 11_000, 60_000), "10s after touch, 60s cooldown")
	require.False(t, tbl.InCooldown("c1", "s2", 11_000, 60_000), "other strategy unaffected")
	require.False(t, tbl.InCooldown("c2", "s1", 11_000, 60_000), "other market unaffected")

	require.False(t, tbl.InCooldown("c1", "s1", 61_000, 60_000), "expired exactly at cooldownMs")
}

func TestDailyLedgerRollover(t *testing.T) {
	day := "2026-07-31"
	ledger := NewDailyLedger(func() (string, int64) { return day, 0 })

	ledger.RecordTradeVolume("mint_split", 100)
	ledger.RecordTradeVolume("mint_split", 100)
	ledger.RecordTradeVolume("arbitrage_long", 50)

	per, total := ledger.Stats()
	require.Equal(t, 200.0, per["mint_split"])
	require.Equal(t, 50.0, per["arbitrage_long"])
	require.Equal(t, 250.0, total)

	day = "2026-08-01"
	per, total = ledger.Stats()
	require.Zero(t, per["mint_split"], "counters reset on date rollover")
	require.Zero(t, total)

	ledger.RecordTradeVolume("mint_split", 25)
	per, _ = ledger.Stats()
	require.Equal(t, 25.0, per["mint_split"])
}

func TestOpportunityAged(t *testing.T) {
	now := time.Now()
	opp := Opportunity{State: OpportunityDetected, DetectedAt: now.Add(-10 * time.Minute)}
	require.True(t, opp.Aged(now, 300*time.Second))

	opp.State = OpportunityExecuted
	require.False(t, opp.Aged(now, 300*time.Second), "terminal states never age out")

	opp.State = OpportunityPending
	opp.DetectedAt = now.Add(-time.Minute)
	require.False(t, opp.Aged(now, 300*time.Second))
}
