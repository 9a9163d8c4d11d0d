// Package stratcfg holds the in-memory authoritative strategy
// configuration: per-strategy settings, the global trading gate, daily
// volume budgets, and the emergency stop. Every mutation notifies
// registered listeners. Changes to the per-strategy sections are written
// through to the persistent config store when one is attached; the
// emergency stop and the daily ledger stay in memory only.
package stratcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanenginehq/scanengine/internal/config"
	"github.com/scanenginehq/scanengine/internal/domain"
)

// Snapshot is an immutable copy of the full managed configuration.
type Snapshot struct {
	Global        config.Global             `json:"global"`
	MintSplit     config.MintSplitConfig    `json:"mint_split"`
	ArbitrageLong config.ArbitrageConfig    `json:"arbitrage_long"`
	MarketMaking  config.MarketMakingConfig `json:"market_making"`
	EmergencyStop bool                      `json:"emergency_stop"`
}

// DailyStats is today's executed volume, per strategy and in total.
type DailyStats struct {
	Date        string             `json:"date"`
	PerStrategy map[string]float64 `json:"per_strategy"`
	Total       float64            `json:"total"`
}

// TradeDecision is the result of a canExecuteTrade gate check.
type TradeDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Listener is invoked after every mutating call, outside the manager's
// lock.
type Listener func(Snapshot)

// Manager is the single shared mutable configuration state. All access
// goes through one lock; listener notification happens after the lock is
// released.
type Manager struct {
	mu       sync.Mutex
	defaults Snapshot
	current  Snapshot
	ledger   *domain.DailyLedger
	today    func() string

	listeners  map[int]Listener
	nextListen int

	store  domain.StrategyConfigStore // optional write-through persistence
	logger *slog.Logger
}

// New builds a Manager seeded from cfg. store may be nil (no persistence).
func New(cfg *config.Config, store domain.StrategyConfigStore, logger *slog.Logger) *Manager {
	snap := Snapshot{
		Global:        cfg.Global,
		MintSplit:     cfg.MintSplit,
		ArbitrageLong: cfg.Arbitrage,
		MarketMaking:  cfg.MM,
	}
	today := func() string { return time.Now().UTC().Format("2006-01-02") }
	return &Manager{
		defaults:  snap,
		current:   snap,
		ledger:    domain.NewDailyLedger(func() (string, int64) { return today(), time.Now().UnixMilli() }),
		today:     today,
		listeners: make(map[int]Listener),
		store:     store,
		logger:    logger.With(slog.String("component", "stratcfg")),
	}
}

// SetClock overrides the date source, for tests exercising the daily
// rollover.
func (m *Manager) SetClock(today func() string, nowMs func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.today = today
	m.ledger = domain.NewDailyLedger(func() (string, int64) { return today(), nowMs() })
}

// Get returns a copy of the full configuration.
func (m *Manager) Get() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// GetStrategy returns one strategy's configuration as a generic map, for
// the control surface.
func (m *Manager) GetStrategy(tag string) (map[string]any, error) {
	m.mu.Lock()
	var section any
	switch tag {
	case domain.StrategyMintSplit:
		section = m.current.MintSplit
	case domain.StrategyArbitrageLong:
		section = m.current.ArbitrageLong
	case domain.StrategyMarketMaking:
		section = m.current.MarketMaking
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("stratcfg: %w: unknown strategy %q", domain.ErrNotFound, tag)
	}
	m.mu.Unlock()
	return toMap(section)
}

// Update deep-merges a partial configuration for one strategy into the
// current state and notifies listeners.
func (m *Manager) Update(ctx context.Context, tag string, partial map[string]any) error {
	m.mu.Lock()
	var err error
	switch tag {
	case domain.StrategyMintSplit:
		err = mergeInto(&m.current.MintSplit, partial)
	case domain.StrategyArbitrageLong:
		err = mergeInto(&m.current.ArbitrageLong, partial)
	case domain.StrategyMarketMaking:
		err = mergeInto(&m.current.MarketMaking, partial)
	default:
		err = fmt.Errorf("stratcfg: %w: unknown strategy %q", domain.ErrNotFound, tag)
	}
	snap := m.current
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.persist(ctx, tag)
	m.notify(snap)
	return nil
}

// ResetToDefault restores the boot-time configuration.
func (m *Manager) ResetToDefault(ctx context.Context) {
	m.mu.Lock()
	m.current = m.defaults
	snap := m.current
	m.mu.Unlock()

	for _, tag := range []string{domain.StrategyMintSplit, domain.StrategyArbitrageLong, domain.StrategyMarketMaking} {
		m.persist(ctx, tag)
	}
	m.notify(snap)
}

// SetStrategyEnabled flips one strategy's enabled flag.
func (m *Manager) SetStrategyEnabled(ctx context.Context, tag string, enabled bool) error {
	m.mu.Lock()
	switch tag {
	case domain.StrategyMintSplit:
		m.current.MintSplit.Enabled = enabled
	case domain.StrategyArbitrageLong:
		m.current.ArbitrageLong.Enabled = enabled
	case domain.StrategyMarketMaking:
		m.current.MarketMaking.Enabled = enabled
	default:
		m.mu.Unlock()
		return fmt.Errorf("stratcfg: %w: unknown strategy %q", domain.ErrNotFound, tag)
	}
	snap := m.current
	m.mu.Unlock()

	m.persist(ctx, tag)
	m.notify(snap)
	return nil
}

// EmergencyStop blocks every trade until cleared.
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	m.current.EmergencyStop = true
	snap := m.current
	m.mu.Unlock()
	m.logger.Warn("emergency stop engaged")
	m.notify(snap)
}

// ClearEmergencyStop re-enables trading.
func (m *Manager) ClearEmergencyStop() {
	m.mu.Lock()
	m.current.EmergencyStop = false
	snap := m.current
	m.mu.Unlock()
	m.logger.Info("emergency stop cleared")
	m.notify(snap)
}

// CanExecuteTrade gates a prospective trade of the given dollar amount:
// emergency stop, the global switch, the global daily budget, then the
// strategy's own enablement and per-order/per-day caps.
func (m *Manager) CanExecuteTrade(tag string, amount float64) TradeDecision {
	m.mu.Lock()
	snap := m.current
	m.mu.Unlock()

	if snap.EmergencyStop {
		return TradeDecision{Allowed: false, Reason: "紧急停止已激活"}
	}
	if !snap.Global.Enabled {
		return TradeDecision{Allowed: false, Reason: "全局交易已禁用"}
	}

	perStrategy, total := m.ledger.Stats()
	if snap.Global.MaxDailyVolume > 0 && total+amount > snap.Global.MaxDailyVolume {
		return TradeDecision{Allowed: false, Reason: fmt.Sprintf("已达全局每日限额 $%.0f", snap.Global.MaxDailyVolume)}
	}

	enabled, perOrder, perDay := limitsFor(snap, tag)
	if !enabled {
		return TradeDecision{Allowed: false, Reason: fmt.Sprintf("%s 策略已禁用", domain.StrategyDisplayName(tag))}
	}
	if perOrder > 0 && amount > perOrder {
		return TradeDecision{Allowed: false, Reason: fmt.Sprintf("超过 %s 单笔限额 $%.0f", domain.StrategyDisplayName(tag), perOrder)}
	}
	if perDay > 0 && perStrategy[tag]+amount > perDay {
		return TradeDecision{Allowed: false, Reason: fmt.Sprintf("已达 %s 每日限额 $%.0f", domain.StrategyDisplayName(tag), perDay)}
	}
	return TradeDecision{Allowed: true}
}

func limitsFor(snap Snapshot, tag string) (enabled bool, perOrder, perDay float64) {
	switch tag {
	case domain.StrategyMintSplit:
		return snap.MintSplit.Enabled, snap.MintSplit.MaxMintPerTrade, snap.MintSplit.MaxMintPerDay
	case domain.StrategyArbitrageLong:
		return snap.ArbitrageLong.Enabled, snap.ArbitrageLong.MaxTradePerOrder, snap.ArbitrageLong.MaxTradePerDay
	case domain.StrategyMarketMaking:
		return snap.MarketMaking.Enabled, snap.MarketMaking.MaxPositionPerSide, snap.MarketMaking.MaxOpenPosition
	default:
		return false, 0, 0
	}
}

// RecordTradeVolume adds an executed amount to the strategy's daily total
// and notifies listeners.
func (m *Manager) RecordTradeVolume(tag string, amount float64) {
	m.ledger.RecordTradeVolume(tag, amount)
	m.mu.Lock()
	snap := m.current
	m.mu.Unlock()
	m.notify(snap)
}

// GetDailyStats returns today's executed volume. Reading rolls the ledger
// over when the date has changed.
func (m *Manager) GetDailyStats() DailyStats {
	per, total := m.ledger.Stats()
	m.mu.Lock()
	today := m.today()
	m.mu.Unlock()
	return DailyStats{Date: today, PerStrategy: per, Total: total}
}

// OnConfigChange registers a listener and returns its unsubscribe
// function.
func (m *Manager) OnConfigChange(l Listener) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// ExportConfig serializes the full configuration as JSON.
func (m *Manager) ExportConfig() ([]byte, error) {
	m.mu.Lock()
	snap := m.current
	m.mu.Unlock()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("stratcfg: export: %w", err)
	}
	return data, nil
}

// ImportConfig replaces the full configuration from an exported JSON blob.
func (m *Manager) ImportConfig(ctx context.Context, data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("stratcfg: import: %w", err)
	}

	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()

	for _, tag := range []string{domain.StrategyMintSplit, domain.StrategyArbitrageLong, domain.StrategyMarketMaking} {
		m.persist(ctx, tag)
	}
	m.notify(snap)
	return nil
}

// LoadPersisted overlays any stored strategy configurations onto the
// boot-time defaults. Missing rows are not an error.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("stratcfg: load persisted: %w", err)
	}
	for _, sc := range stored {
		if sc.Config == nil {
			continue
		}
		if err := m.Update(ctx, sc.Name, sc.Config); err != nil {
			m.logger.Warn("skipping persisted config", slog.String("strategy", sc.Name), slog.String("error", err.Error()))
		}
	}
	return nil
}

// persist writes one strategy section through to the config store.
func (m *Manager) persist(ctx context.Context, tag string) {
	if m.store == nil {
		return
	}
	cfg, err := m.GetStrategy(tag)
	if err != nil {
		return
	}
	enabled, _, _ := limitsFor(m.Get(), tag)
	rec := domain.StrategyConfig{Name: tag, Config: cfg, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	if err := m.store.Upsert(ctx, rec); err != nil {
		m.logger.Warn("config persist failed", slog.String("strategy", tag), slog.String("error", err.Error()))
	}
}

// notify invokes every listener outside the lock.
func (m *Manager) notify(snap Snapshot) {
	m.mu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.Unlock()

	for _, l := range ls {
		l(snap)
	}
}

// toMap round-trips a typed config section through JSON into a generic
// map.
func toMap(section any) (map[string]any, error) {
	data, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("stratcfg: marshal section: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("stratcfg: unmarshal section: %w", err)
	}
	return out, nil
}

// mergeInto deep-merges partial onto the typed section in place: the
// section is flattened to a map, overlaid key by key, and decoded back.
func mergeInto[T any](section *T, partial map[string]any) error {
	base, err := toMap(*section)
	if err != nil {
		return err
	}
	deepMerge(base, partial)
	data, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("stratcfg: merge: %w", err)
	}
	var merged T
	if err := json.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("stratcfg: merge decode: %w", err)
	}
	*section = merged
	return nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if dstSub, ok := dst[k].(map[string]any); ok {
				deepMerge(dstSub, sub)
				continue
			}
		}
		dst[k] = v
	}
}
