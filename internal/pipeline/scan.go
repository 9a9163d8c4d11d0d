package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/feedclient"
)

// ScanState is the scan stage's lifecycle tag.
type ScanState string

const (
	ScanStopped ScanState = "stopped"
	ScanRunning ScanState = "running"
	ScanPaused  ScanState = "paused"
)

// ScanConfig parameterizes the crawl.
type ScanConfig struct {
	Limit        int
	MaxPages     int
	ScanInterval time.Duration
	Active       bool
	Order        string
	Ascending    bool
}

// PageFetcher is the slice of the feed client the scan stage uses.
type PageFetcher interface {
	GetMarketData(ctx context.Context, params feedclient.ListParams) ([]domain.MarketData, int, error)
}

// ScanStats is a snapshot of the stage's counters.
type ScanStats struct {
	State           ScanState `json:"state"`
	Cycles          int64     `json:"cycles"`
	Pages           int64     `json:"pages"`
	Markets         int64     `json:"markets"`
	ConvertErrors   int64     `json:"convert_errors"`
	FetchErrors     int64     `json:"fetch_errors"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastCycleTook   string    `json:"last_cycle_took"`
	BackpressureHit int64     `json:"backpressure_hit"`
}

// Scan is the one-at-a-time pipeline producer: it crawls the feed page by
// page, hands each page synchronously downstream, and waits for the whole
// pipeline to drain before fetching the next page.
type Scan struct {
	cfg    ScanConfig
	feed   PageFetcher
	logger *slog.Logger

	// onPage receives each converted page; waitIdle blocks until storage,
	// every strategy, and the order queue are drained; backpressure is
	// polled before every page fetch.
	onPage       func(ctx context.Context, page []domain.MarketData)
	waitIdle     func()
	backpressure func() bool

	mu     sync.Mutex
	state  ScanState
	cancel context.CancelFunc
	done   chan struct{}
	stats  ScanStats

	// sleep points, replaceable in tests
	backpressureWait time.Duration
	retryWait        time.Duration
}

// NewScan builds the stage in the stopped state.
func NewScan(
	cfg ScanConfig,
	feed PageFetcher,
	onPage func(ctx context.Context, page []domain.MarketData),
	waitIdle func(),
	backpressure func() bool,
	logger *slog.Logger,
) *Scan {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 3600 * time.Second
	}
	return &Scan{
		cfg:              cfg,
		feed:             feed,
		logger:           logger.With(slog.String("component", "scan_stage")),
		onPage:           onPage,
		waitIdle:         waitIdle,
		backpressure:     backpressure,
		state:            ScanStopped,
		backpressureWait: time.Second,
		retryWait:        2 * time.Second,
	}
}

// Start moves stopped -> running and spawns the crawl loop. Starting a
// running or paused stage is a no-op.
func (s *Scan) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ScanStopped {
		return fmt.Errorf("pipeline/scan: already %s", s.state)
	}
	ctx, cancel := context.WithCancel(parent)
	s.state = ScanRunning
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(ctx)
	return nil
}

// Stop drops in-flight work and returns the stage to stopped.
func (s *Scan) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.state = ScanStopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Pause suspends the crawl between pages; the loop keeps running but skips
// work until resumed.
func (s *Scan) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ScanRunning {
		s.state = ScanPaused
	}
}

// Resume continues a paused crawl.
func (s *Scan) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ScanPaused {
		s.state = ScanRunning
	}
}

// State returns the current lifecycle tag.
func (s *Scan) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Scan) Stats() ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.State = s.state
	return out
}

// runLoop runs scan cycles separated by the scan interval for as long as
// the stage is running.
func (s *Scan) runLoop(ctx context.Context) {
	defer close(s.done)
	s.logger.Info("scan loop started")
	defer s.logger.Info("scan loop stopped")

	for {
		if s.State() == ScanRunning {
			s.runCycle(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ScanInterval):
		}
	}
}

// runCycle is one full paginated crawl. Exactly one cycle is in flight at
// a time; the loop structure guarantees it.
func (s *Scan) runCycle(ctx context.Context) {
	start := time.Now()
	s.logger.Info("scan cycle started", slog.Int("max_pages", s.cfg.MaxPages))

	for page := 1; page <= s.cfg.MaxPages; page++ {
		if ctx.Err() != nil || s.State() == ScanPaused {
			return
		}

		// Backpressure gate: re-check every second without advancing.
		for s.backpressure != nil && s.backpressure() {
			s.bump(func(st *ScanStats) { st.BackpressureHit++ })
			s.logger.Debug("backpressure, holding page", slog.Int("page", page))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backpressureWait):
			}
		}

		raw, skipped, err := s.fetchPage(ctx, page)
		if err != nil {
			s.logger.Warn("page fetch failed twice, ending cycle",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			break
		}

		s.bump(func(st *ScanStats) {
			st.Pages++
			st.Markets += int64(len(raw))
			st.ConvertErrors += int64(skipped)
		})

		if len(raw) > 0 {
			s.handOff(ctx, raw)
		}

		// A short page means the end of the feed.
		if len(raw)+skipped < s.cfg.Limit {
			break
		}
	}

	s.bump(func(st *ScanStats) {
		st.Cycles++
		st.LastCycleAt = time.Now().UTC()
		st.LastCycleTook = time.Since(start).String()
	})
	s.logger.Info("scan cycle finished", slog.Duration("took", time.Since(start)))
}

// fetchPage fetches one page, retrying once after a short wait on a
// transient failure.
func (s *Scan) fetchPage(ctx context.Context, page int) ([]domain.MarketData, int, error) {
	params := s.pageParams(page)

	raw, skipped, err := s.feed.GetMarketData(ctx, params)
	if err == nil {
		return raw, skipped, nil
	}
	s.bump(func(st *ScanStats) { st.FetchErrors++ })
	s.logger.Warn("page fetch failed, retrying once",
		slog.Int("page", page),
		slog.String("error", err.Error()),
	)

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(s.retryWait):
	}

	raw, skipped, err = s.feed.GetMarketData(ctx, params)
	if err != nil {
		s.bump(func(st *ScanStats) { st.FetchErrors++ })
		return nil, 0, err
	}
	return raw, skipped, nil
}

func (s *Scan) pageParams(page int) feedclient.ListParams {
	active := s.cfg.Active
	return feedclient.ListParams{
		Active:    &active,
		Limit:     s.cfg.Limit,
		Offset:    (page - 1) * s.cfg.Limit,
		Order:     s.cfg.Order,
		Ascending: s.cfg.Ascending,
	}
}

// handOff delivers the page downstream and waits for the pipeline to
// drain. A downstream panic is logged and the scan continues.
func (s *Scan) handOff(ctx context.Context, page []domain.MarketData) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("downstream hand-off panicked", slog.Any("panic", r))
		}
	}()
	s.onPage(ctx, page)
	if s.waitIdle != nil {
		s.waitIdle()
	}
}

// bump applies a mutation to the stats under the lock.
func (s *Scan) bump(f func(*ScanStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
