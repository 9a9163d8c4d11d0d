package stratcfg

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/config"
	"github.com/scanenginehq/scanengine/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Defaults()
	cfg.MintSplit.MaxMintPerDay = 200
	cfg.MintSplit.MaxMintPerTrade = 100
	cfg.Global.MaxDailyVolume = 5000
	return New(&cfg, nil, slog.Default())
}

func TestCanExecuteTradeDailyCap(t *testing.T) {
	m := newTestManager(t)
	day := "2026-07-31"
	m.SetClock(func() string { return day }, func() int64 { return 0 })

	d := m.CanExecuteTrade(domain.StrategyMintSplit, 100)
	require.True(t, d.Allowed)
	m.RecordTradeVolume(domain.StrategyMintSplit, 100)

	d = m.CanExecuteTrade(domain.StrategyMintSplit, 100)
	require.True(t, d.Allowed)
	m.RecordTradeVolume(domain.StrategyMintSplit, 100)

	d = m.CanExecuteTrade(domain.StrategyMintSplit, 100)
	require.False(t, d.Allowed)
	require.Equal(t, "已达 Mint-Split 每日限额 $200", d.Reason)

	// Date rollover zeroes the ledger.
	day = "2026-08-01"
	d = m.CanExecuteTrade(domain.StrategyMintSplit, 100)
	require.True(t, d.Allowed)
}

func TestCanExecuteTradePerOrderCap(t *testing.T) {
	m := newTestManager(t)
	d := m.CanExecuteTrade(domain.StrategyMintSplit, 150)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reason, "单笔限额")
}

func TestCanExecuteTradeEmergencyStop(t *testing.T) {
	m := newTestManager(t)

	m.EmergencyStop()
	d := m.CanExecuteTrade(domain.StrategyMintSplit, 10)
	require.False(t, d.Allowed)

	m.ClearEmergencyStop()
	d = m.CanExecuteTrade(domain.StrategyMintSplit, 10)
	require.True(t, d.Allowed)
}

func TestCanExecuteTradeGlobalGates(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetStrategyEnabled(context.Background(), domain.StrategyMintSplit, false))
	d := m.CanExecuteTrade(domain.StrategyMintSplit, 10)
	require.False(t, d.Allowed)

	require.NoError(t, m.SetStrategyEnabled(context.Background(), domain.StrategyMintSplit, true))
	require.True(t, m.CanExecuteTrade(domain.StrategyMintSplit, 10).Allowed)

	// Global daily volume binds across strategies.
	m.SetClock(func() string { return "2026-07-31" }, func() int64 { return 0 })
	m.RecordTradeVolume(domain.StrategyArbitrageLong, 4950)
	d = m.CanExecuteTrade(domain.StrategyMintSplit, 100)
	require.False(t, d.Allowed)
	require.Contains(t, d.Reason, "全局每日限额")
}

func TestUpdateDeepMerge(t *testing.T) {
	m := newTestManager(t)

	before := m.Get().MintSplit
	err := m.Update(context.Background(), domain.StrategyMintSplit, map[string]any{
		"MinPriceSum": 1.05,
	})
	require.NoError(t, err)

	after := m.Get().MintSplit
	require.Equal(t, 1.05, after.MinPriceSum)
	require.Equal(t, before.MintAmount, after.MintAmount, "untouched fields survive the merge")

	err = m.Update(context.Background(), "unknown", map[string]any{"x": 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetToDefault(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Update(context.Background(), domain.StrategyMintSplit, map[string]any{"MinPriceSum": 9.9}))
	m.ResetToDefault(context.Background())
	require.Equal(t, 1.01, m.Get().MintSplit.MinPriceSum)
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Update(context.Background(), domain.StrategyArbitrageLong, map[string]any{"MaxPriceSum": 0.97}))

	data, err := m.ExportConfig()
	require.NoError(t, err)

	m2 := newTestManager(t)
	require.NoError(t, m2.ImportConfig(context.Background(), data))
	require.Equal(t, 0.97, m2.Get().ArbitrageLong.MaxPriceSum)
}

func TestOnConfigChange(t *testing.T) {
	m := newTestManager(t)

	calls := 0
	unsubscribe := m.OnConfigChange(func(Snapshot) { calls++ })

	m.EmergencyStop()
	require.Equal(t, 1, calls)

	unsubscribe()
	m.ClearEmergencyStop()
	require.Equal(t, 1, calls, "unsubscribed listener must not fire")
}
