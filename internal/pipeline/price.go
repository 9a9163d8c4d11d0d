package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// PriceConfig parameterizes the price stage's loop.
type PriceConfig struct {
	BatchSize     int
	TokenInterval time.Duration
	BatchInterval time.Duration
	ScanInterval  time.Duration
	ActiveOnly    bool
	MinLiquidity  float64
}

// TokenPriceReader fetches one side's best price for a token. The
// order-book client satisfies this.
type TokenPriceReader interface {
	GetPrice(ctx context.Context, tokenID string, side domain.OrderSide) (float64, error)
}

// PriceStats is a snapshot of the price stage's counters.
type PriceStats struct {
	Running    bool      `json:"running"`
	Scans      int64     `json:"scans"`
	Tokens     int64     `json:"tokens"`
	Recorded   int64     `json:"recorded"`
	Discarded  int64     `json:"discarded"`
	Errors     int64     `json:"errors"`
	LastScanAt time.Time `json:"last_scan_at"`
}

// Price is the independent precise-price loop: on its own cadence it
// re-fetches bid and ask for the stored order-book tokens (at most
// BatchSize per scan) and appends the derived MarketPrice records.
type Price struct {
	cfg    PriceConfig
	store  domain.MarketStore
	prices domain.MarketPriceStore
	book   TokenPriceReader
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	scanning bool
	cancel   context.CancelFunc
	done     chan struct{}
	stats    PriceStats
}

// NewPrice builds the stage in the stopped state.
func NewPrice(cfg PriceConfig, store domain.MarketStore, prices domain.MarketPriceStore, book TokenPriceReader, logger *slog.Logger) *Price {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = 100 * time.Millisecond
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = time.Second
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 60 * time.Second
	}
	return &Price{
		cfg:    cfg,
		store:  store,
		prices: prices,
		book:   book,
		logger: logger.With(slog.String("component", "price_stage")),
	}
}

// Start spawns the loop. Starting a running stage is a no-op error.
func (p *Price) Start(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline/price: already running")
	}
	ctx, cancel := context.WithCancel(parent)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.runLoop(ctx)
	return nil
}

// Stop cancels the loop and waits for the in-flight scan to wind down.
func (p *Price) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the loop is active.
func (p *Price) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the counters.
func (p *Price) Stats() PriceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Running = p.running
	return out
}

// runLoop wakes once a second (five seconds after a failed scan) and
// invokes runScan whenever ScanInterval has passed since the last scan.
func (p *Price) runLoop(ctx context.Context) {
	defer close(p.done)
	p.logger.Info("price loop started")
	defer p.logger.Info("price loop stopped")

	nextScan := time.Time{}
	for {
		if ctx.Err() != nil {
			return
		}

		wait := time.Second
		if time.Now().After(nextScan) {
			if err := p.runScan(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("price scan failed", slog.String("error", err.Error()))
				wait = 5 * time.Second
			}
			nextScan = time.Now().Add(p.cfg.ScanInterval)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runScan is one pass: list eligible tokens, fetch both sides for each,
// and append the valid records. At most one scan is in flight.
func (p *Price) runScan(ctx context.Context) error {
	p.mu.Lock()
	if p.scanning {
		p.mu.Unlock()
		return nil
	}
	p.scanning = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.scanning = false
		p.stats.Scans++
		p.stats.LastScanAt = time.Now().UTC()
		p.mu.Unlock()
	}()

	tokens, err := p.store.EligibleForPricing(ctx, p.cfg.ActiveOnly)
	if err != nil {
		return fmt.Errorf("pipeline/price: eligible tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	// BatchSize acts as the per-cycle cap: only the first BatchSize tokens
	// of the eligible list are fetched, and every scan starts again from
	// the head of that list.
	if len(tokens) > p.cfg.BatchSize {
		tokens = tokens[:p.cfg.BatchSize]
	}

	records := make([]domain.MarketPrice, 0, len(tokens))
	discarded := 0
	for i, tok := range tokens {
		if ctx.Err() != nil {
			break
		}
		rec := p.fetchToken(ctx, tok)
		if rec.Normalize() {
			records = append(records, rec)
		} else {
			discarded++
		}

		if i < len(tokens)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.TokenInterval):
			}
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.BatchInterval):
	}

	p.mu.Lock()
	p.stats.Tokens += int64(len(tokens))
	p.stats.Discarded += int64(discarded)
	p.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	inserted, err := p.prices.InsertMarketPricesIgnoreDuplicates(context.WithoutCancel(ctx), records)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors += int64(len(records))
		p.mu.Unlock()
		return fmt.Errorf("pipeline/price: insert prices: %w", err)
	}

	p.mu.Lock()
	p.stats.Recorded += int64(inserted)
	p.mu.Unlock()
	p.logger.Info("price scan recorded",
		slog.Int("tokens", len(tokens)),
		slog.Int("inserted", inserted),
		slog.Int("discarded", discarded),
	)
	return nil
}

// fetchToken reads the BUY and SELL sides concurrently. A failed or
// non-positive side is recorded as unknown (nil), never as zero or NaN.
func (p *Price) fetchToken(ctx context.Context, tok domain.EligibleToken) domain.MarketPrice {
	rec := domain.MarketPrice{
		ConditionID:  tok.ConditionID,
		TokenID:      tok.TokenID,
		Outcome:      tok.Outcome,
		OutcomeIndex: tok.OutcomeIndex,
		FetchedAt:    time.Now().UTC(),
	}

	var wg sync.WaitGroup
	var buy, sell *float64
	wg.Add(2)
	go func() {
		defer wg.Done()
		if v, err := p.book.GetPrice(ctx, tok.TokenID, domain.OrderSideBuy); err == nil && v > 0 {
			buy = &v
		}
	}()
	go func() {
		defer wg.Done()
		if v, err := p.book.GetPrice(ctx, tok.TokenID, domain.OrderSideSell); err == nil && v > 0 {
			sell = &v
		}
	}()
	wg.Wait()

	rec.BuyPrice = buy
	rec.SellPrice = sell
	return rec
}
