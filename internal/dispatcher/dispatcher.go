// Package dispatcher classifies scanned markets against the enabled
// strategies, picks the best match per market, enforces the per-(market,
// strategy) cooldown, and hands accepted tasks to the registered handler.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/strategy"
)

// Config controls dispatch behavior.
type Config struct {
	AutoDispatch  bool
	MinConfidence domain.Confidence
	CooldownMs    int64
}

// Task is one accepted dispatch: a market, every strategy that matched it,
// and the winning match.
type Task struct {
	ID        string
	Market    domain.MarketData
	Matches   []strategy.Match
	BestMatch strategy.Match
	Status    string
	CreatedAt time.Time
}

// Handler receives a dispatched task for one strategy.
type Handler func(ctx context.Context, task Task)

// Stats counts the dispatcher's work.
type Stats struct {
	Analyzed     int64            `json:"analyzed"`
	Matched      int64            `json:"matched"`
	Dispatched   int64            `json:"dispatched"`
	ByStrategy   map[string]int64 `json:"by_strategy"`
	LastDispatch time.Time        `json:"last_dispatch"`
}

// Dispatcher is the classifier. It runs synchronously on the scan stage's
// page hand-off and is the only writer of its cooldown table.
type Dispatcher struct {
	cfg      Config
	registry *strategy.Registry
	cooldown *domain.CooldownTable
	nowMs    func() int64
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	stats    Stats
}

// New builds a Dispatcher over the strategy registry.
func New(cfg Config, registry *strategy.Registry, logger *slog.Logger) *Dispatcher {
	if cfg.MinConfidence == "" {
		cfg.MinConfidence = domain.ConfidenceMedium
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		cooldown: domain.NewCooldownTable(),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		logger:   logger.With(slog.String("component", "dispatcher")),
		handlers: map[string]Handler{},
		stats:    Stats{ByStrategy: map[string]int64{}},
	}
}

// SetClock overrides the cooldown clock, for tests.
func (d *Dispatcher) SetClock(nowMs func() int64) { d.nowMs = nowMs }

// RegisterHandler installs the handler invoked for tasks won by the named
// strategy.
func (d *Dispatcher) RegisterHandler(strategyTag string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strategyTag] = h
}

// Analyze classifies each market, applies the confidence floor and the
// cooldown, and dispatches the surviving tasks when auto-dispatch is on.
// The returned slice contains every constructed task, dispatched or not.
func (d *Dispatcher) Analyze(ctx context.Context, markets []domain.MarketData) []Task {
	var tasks []Task

	for _, md := range markets {
		d.bumpAnalyzed()

		if len(md.Outcomes) == 0 {
			continue
		}

		matches := d.classify(md)
		if len(matches) == 0 {
			continue
		}
		d.bumpMatched()

		best, ok := bestMatch(matches, d.cfg.MinConfidence)
		if !ok {
			continue
		}

		now := d.nowMs()
		if d.cooldown.InCooldown(md.ConditionID, best.Strategy, now, d.cfg.CooldownMs) {
			d.logger.Debug("dispatch dropped by cooldown",
				slog.String("condition_id", md.ConditionID),
				slog.String("strategy", best.Strategy),
			)
			continue
		}

		task := Task{
			ID:        uuid.New().String(),
			Market:    md,
			Matches:   matches,
			BestMatch: best,
			Status:    "pending",
			CreatedAt: time.Now().UTC(),
		}
		tasks = append(tasks, task)

		if d.cfg.AutoDispatch {
			d.dispatch(ctx, task)
		}
	}
	return tasks
}

// classify runs every registered strategy's evaluation in registry order.
func (d *Dispatcher) classify(md domain.MarketData) []strategy.Match {
	var matches []strategy.Match
	for _, s := range d.registry.All() {
		if m, ok := s.Evaluate(md); ok {
			matches = append(matches, m)
		}
	}
	return matches
}

// bestMatch filters by the confidence floor and picks the highest score;
// ties keep the earlier match.
func bestMatch(matches []strategy.Match, floor domain.Confidence) (strategy.Match, bool) {
	var best strategy.Match
	found := false
	for _, m := range matches {
		if m.Confidence.Score() < floor.Score() {
			continue
		}
		if !found || m.Score() > best.Score() {
			best = m
			found = true
		}
	}
	return best, found
}

// dispatch sets the cooldown before the handler runs, then invokes it
// synchronously.
func (d *Dispatcher) dispatch(ctx context.Context, task Task) {
	d.mu.Lock()
	h, ok := d.handlers[task.BestMatch.Strategy]
	d.mu.Unlock()
	if !ok {
		d.logger.Warn("no handler registered", slog.String("strategy", task.BestMatch.Strategy))
		return
	}

	d.cooldown.Touch(task.Market.ConditionID, task.BestMatch.Strategy, d.nowMs())

	d.mu.Lock()
	d.stats.Dispatched++
	d.stats.ByStrategy[task.BestMatch.Strategy]++
	d.stats.LastDispatch = time.Now().UTC()
	d.mu.Unlock()

	h(ctx, task)
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	by := make(map[string]int64, len(d.stats.ByStrategy))
	for k, v := range d.stats.ByStrategy {
		by[k] = v
	}
	out := d.stats
	out.ByStrategy = by
	return out
}

func (d *Dispatcher) bumpAnalyzed() {
	d.mu.Lock()
	d.stats.Analyzed++
	d.mu.Unlock()
}

func (d *Dispatcher) bumpMatched() {
	d.mu.Lock()
	d.stats.Matched++
	d.mu.Unlock()
}
