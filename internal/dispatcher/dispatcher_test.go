package dispatcher

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/strategy"
)

// stubStrategy matches every market with a fixed confidence and profit.
type stubStrategy struct {
	name       string
	confidence domain.Confidence
	profit     float64
	matches    bool
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Evaluate(domain.MarketData) (strategy.Match, bool) {
	if !s.matches {
		return strategy.Match{}, false
	}
	return strategy.Match{Strategy: s.name, Confidence: s.confidence, EstimatedProfit: s.profit}, true
}

func (s stubStrategy) Execute(context.Context, domain.MarketData) error { return nil }

func (s stubStrategy) Stats() strategy.Stats { return strategy.Stats{} }

func market(id string) domain.MarketData {
	return domain.MarketData{Market: domain.Market{
		ConditionID:  id,
		Outcomes:     []string{"Yes", "No"},
		ClobTokenIDs: []string{"t1", "t2"},
	}}
}

func newDispatcher(cfg Config, strategies ...strategy.Strategy) *Dispatcher {
	reg := strategy.NewRegistry()
	for _, s := range strategies {
		reg.Register(s)
	}
	return New(cfg, reg, slog.Default())
}

func TestAnalyzePicksHighestScore(t *testing.T) {
	d := newDispatcher(Config{AutoDispatch: false, MinConfidence: domain.ConfidenceLow, CooldownMs: 60_000},
		stubStrategy{name: "a", confidence: domain.ConfidenceMedium, profit: 1, matches: true}, // 50 + 10
		stubStrategy{name: "b", confidence: domain.ConfidenceHigh, profit: 0.5, matches: true}, // 80 + 5
	)

	tasks := d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Len(t, tasks, 1)
	require.Equal(t, "b", tasks[0].BestMatch.Strategy)
	require.Len(t, tasks[0].Matches, 2)
}

func TestAnalyzeConfidenceFloor(t *testing.T) {
	d := newDispatcher(Config{MinConfidence: domain.ConfidenceHigh, CooldownMs: 60_000},
		stubStrategy{name: "a", confidence: domain.ConfidenceMedium, profit: 100, matches: true},
	)

	tasks := d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Empty(t, tasks, "matches below the confidence floor are dropped")
}

func TestAnalyzeSkipsEmptyOutcomes(t *testing.T) {
	d := newDispatcher(Config{MinConfidence: domain.ConfidenceLow},
		stubStrategy{name: "a", confidence: domain.ConfidenceHigh, matches: true},
	)

	md := domain.MarketData{Market: domain.Market{ConditionID: "c1"}}
	tasks := d.Analyze(context.Background(), []domain.MarketData{md})
	require.Empty(t, tasks)
}

func TestCooldownBlocksSecondDispatch(t *testing.T) {
	d := newDispatcher(Config{AutoDispatch: true, MinConfidence: domain.ConfidenceLow, CooldownMs: 60_000},
		stubStrategy{name: "a", confidence: domain.ConfidenceHigh, profit: 1, matches: true},
	)

	now := int64(1_000_000)
	d.SetClock(func() int64 { return now })

	dispatched := 0
	d.RegisterHandler("a", func(context.Context, Task) { dispatched++ })

	tasks := d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Len(t, tasks, 1)
	require.Equal(t, 1, dispatched)

	// Ten seconds later the same market is still cooling down.
	now += 10_000
	tasks = d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Empty(t, tasks)
	require.Equal(t, 1, dispatched)

	stats := d.Stats()
	require.Equal(t, int64(1), stats.Dispatched)
	require.Equal(t, int64(1), stats.ByStrategy["a"])

	// Past the cooldown it dispatches again.
	now += 60_000
	tasks = d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Len(t, tasks, 1)
	require.Equal(t, 2, dispatched)
}

func TestCooldownSetBeforeHandlerRuns(t *testing.T) {
	d := newDispatcher(Config{AutoDispatch: true, MinConfidence: domain.ConfidenceLow, CooldownMs: 60_000},
		stubStrategy{name: "a", confidence: domain.ConfidenceHigh, matches: true},
	)
	d.SetClock(func() int64 { return 5000 })

	var during []Task
	d.RegisterHandler("a", func(ctx context.Context, task Task) {
		// Re-analyzing from inside the handler must hit the cooldown.
		during = d.Analyze(ctx, []domain.MarketData{market("c1")})
	})

	d.Analyze(context.Background(), []domain.MarketData{market("c1")})
	require.Empty(t, during)
}

func TestStatsCounters(t *testing.T) {
	d := newDispatcher(Config{MinConfidence: domain.ConfidenceLow},
		stubStrategy{name: "a", matches: false},
	)

	d.Analyze(context.Background(), []domain.MarketData{market("c1"), market("c2")})
	stats := d.Stats()
	require.Equal(t, int64(2), stats.Analyzed)
	require.Zero(t, stats.Matched)
}
