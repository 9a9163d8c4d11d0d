// Package strategy implements the three opportunity evaluators: Mint-Split,
// Arbitrage-Long, and Market-Making. Each strategy detects opportunities
// against scanned market data, builds an execution plan, and submits the
// resulting orders through the serialized order queue.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// Match is one strategy's positive classification of a market.
type Match struct {
	Strategy        string
	Confidence      domain.Confidence
	EstimatedProfit float64
	Reason          string
}

// Score ranks a match for dispatcher tie-breaking.
func (m Match) Score() float64 {
	return m.Confidence.Score() + m.EstimatedProfit*10
}

// Stats is a strategy's running daily tally for the status surface.
type Stats struct {
	Found   int64   `json:"found"`
	Success int64   `json:"success"`
	Failed  int64   `json:"failed"`
	Profit  float64 `json:"profit"`
}

// Strategy is the contract every evaluator implements. Evaluate is the
// cheap classification used by the dispatcher; Execute runs the full
// detect/plan/execute cycle on the strategy's own serialized worker.
type Strategy interface {
	Name() string
	Evaluate(md domain.MarketData) (Match, bool)
	Execute(ctx context.Context, md domain.MarketData) error
	Stats() Stats
}

// Registry is a named collection of strategies, safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its own name, replacing any previous
// registration.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// List returns all registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every registered strategy in name order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		out = append(out, r.strategies[n])
	}
	return out
}

// statCounter is the shared tally every evaluator embeds.
type statCounter struct {
	mu    sync.Mutex
	stats Stats
}

func (c *statCounter) found() {
	c.mu.Lock()
	c.stats.Found++
	c.mu.Unlock()
}

func (c *statCounter) succeeded(profit float64) {
	c.mu.Lock()
	c.stats.Success++
	c.stats.Profit += profit
	c.mu.Unlock()
}

func (c *statCounter) failed() {
	c.mu.Lock()
	c.stats.Failed++
	c.mu.Unlock()
}

func (c *statCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
