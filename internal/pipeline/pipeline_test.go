package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/feedclient"
)

// memStore is an in-memory two-table store.
type memStore struct {
	mu        sync.Mutex
	markets   map[string]domain.Market
	snapshots []domain.PriceSnapshot
	prices    []domain.MarketPrice
	failNext  bool
	eligible  []domain.EligibleToken
}

func newMemStore() *memStore {
	return &memStore{markets: make(map[string]domain.Market)}
}

func (s *memStore) BatchUpsertMarkets(_ context.Context, markets []domain.Market) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return domain.UpsertResult{}, errors.New("store down")
	}
	var res domain.UpsertResult
	for _, m := range markets {
		if _, ok := s.markets[m.ConditionID]; ok {
			res.Skipped++
			continue
		}
		s.markets[m.ConditionID] = m
		res.Inserted++
	}
	return res, nil
}

func (s *memStore) GetMarkets(context.Context, domain.MarketFilter) (domain.MarketPage, error) {
	return domain.MarketPage{}, nil
}

func (s *memStore) GetByConditionID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) EligibleForPricing(context.Context, bool) ([]domain.EligibleToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EligibleToken(nil), s.eligible...), nil
}

func (s *memStore) BatchRecordPriceSnapshots(_ context.Context, snaps []domain.PriceSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snaps...)
	return len(snaps), nil
}

func (s *memStore) InsertMarketPricesIgnoreDuplicates(_ context.Context, prices []domain.MarketPrice) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, prices...)
	return len(prices), nil
}

func (s *memStore) marketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markets)
}

func (s *memStore) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func mdFor(id string) domain.MarketData {
	return domain.MarketData{
		Market:   domain.Market{ConditionID: id, Outcomes: []string{"Yes", "No"}, ClobTokenIDs: []string{"a", "b"}},
		Snapshot: domain.PriceSnapshot{ConditionID: id},
	}
}

func page(prefix string, n int) []domain.MarketData {
	out := make([]domain.MarketData, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mdFor(fmt.Sprintf("%s-%d", prefix, i)))
	}
	return out
}

func TestStorageFlushOnBatchSize(t *testing.T) {
	store := newMemStore()
	s := NewStorage(StorageConfig{BatchSize: 10, MaxBufferSize: 100, Concurrency: 2}, store, store, slog.Default())

	s.Add(context.Background(), page("m", 10))
	s.WaitUntilIdle(context.Background())

	require.Equal(t, 10, store.marketCount())
	require.Equal(t, 10, store.snapshotCount())
	stats := s.Stats()
	require.Equal(t, int64(10), stats.Inserted)
	require.Zero(t, stats.Buffered)
}

func TestStorageDeduplicatesBuffer(t *testing.T) {
	store := newMemStore()
	s := NewStorage(StorageConfig{BatchSize: 50, MaxBufferSize: 100, Concurrency: 2}, store, store, slog.Default())

	s.Add(context.Background(), []domain.MarketData{mdFor("dup"), mdFor("dup"), mdFor("other")})
	require.Equal(t, 2, s.Stats().Buffered)
}

func TestStorageUpsertIdempotent(t *testing.T) {
	store := newMemStore()
	s := NewStorage(StorageConfig{BatchSize: 5, MaxBufferSize: 100, Concurrency: 2}, store, store, slog.Default())

	s.Add(context.Background(), page("m", 5))
	s.WaitUntilIdle(context.Background())
	s.Add(context.Background(), page("m", 5))
	s.WaitUntilIdle(context.Background())

	require.Equal(t, 5, store.marketCount(), "replay inserts nothing")
	require.Equal(t, 10, store.snapshotCount(), "snapshots always append")

	stats := s.Stats()
	require.Equal(t, int64(5), stats.Inserted)
	require.Equal(t, int64(5), stats.Skipped)
}

func TestStorageBackpressureThreshold(t *testing.T) {
	store := newMemStore()
	// BatchSize above the buffer keeps Add from flushing during the fill.
	s := NewStorage(StorageConfig{BatchSize: 1000, MaxBufferSize: 500, Concurrency: 2}, store, store, slog.Default())

	s.Add(context.Background(), page("m", 399))
	require.False(t, s.HasBackpressure())

	s.Add(context.Background(), page("extra", 1))
	require.True(t, s.HasBackpressure(), "400/500 is the 80% threshold")

	s.WaitUntilIdle(context.Background())
	require.False(t, s.HasBackpressure())
}

func TestStorageBatchFailureDoesNotReenqueue(t *testing.T) {
	store := newMemStore()
	store.failNext = true
	s := NewStorage(StorageConfig{BatchSize: 5, MaxBufferSize: 100, Concurrency: 1}, store, store, slog.Default())

	s.Add(context.Background(), page("m", 5))
	s.WaitUntilIdle(context.Background())

	require.Zero(t, store.marketCount())
	require.Equal(t, int64(5), s.Stats().Errors)
	require.Zero(t, s.Stats().Buffered, "failed batch is dropped, not re-buffered")

	// The next page proceeds normally.
	s.Add(context.Background(), page("n", 5))
	s.WaitUntilIdle(context.Background())
	require.Equal(t, 5, store.marketCount())
}

// fakeFeed serves deterministic pages.
type fakeFeed struct {
	mu       sync.Mutex
	pages    [][]domain.MarketData
	calls    int
	failures int
}

func (f *fakeFeed) GetMarketData(_ context.Context, params feedclient.ListParams) ([]domain.MarketData, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, 0, errors.New("feed down")
	}
	idx := params.Offset / params.Limit
	if idx >= len(f.pages) {
		return nil, 0, nil
	}
	return f.pages[idx], 0, nil
}

func TestScanCyclePaginatesToShortPage(t *testing.T) {
	feed := &fakeFeed{pages: [][]domain.MarketData{page("p0", 2), page("p1", 2), page("p2", 1)}}

	var mu sync.Mutex
	var received [][]domain.MarketData
	onPage := func(_ context.Context, p []domain.MarketData) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	}

	s := NewScan(ScanConfig{Limit: 2, MaxPages: 10, ScanInterval: time.Hour}, feed, onPage, func() {}, nil, slog.Default())
	s.runCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3, "stops after the short page")
	stats := s.Stats()
	require.Equal(t, int64(3), stats.Pages)
	require.Equal(t, int64(5), stats.Markets)
}

func TestScanRetriesOnceThenEndsCycle(t *testing.T) {
	feed := &fakeFeed{failures: 1, pages: [][]domain.MarketData{page("p0", 1)}}

	var received int
	s := NewScan(ScanConfig{Limit: 2, MaxPages: 10, ScanInterval: time.Hour}, feed,
		func(context.Context, []domain.MarketData) { received++ }, func() {}, nil, slog.Default())
	s.retryWait = time.Millisecond

	s.runCycle(context.Background())
	require.Equal(t, 1, received, "first failure is retried and the page delivered")

	// Two consecutive failures end the cycle with prior pages preserved.
	feed2 := &fakeFeed{failures: 2}
	received = 0
	s2 := NewScan(ScanConfig{Limit: 2, MaxPages: 10, ScanInterval: time.Hour}, feed2,
		func(context.Context, []domain.MarketData) { received++ }, func() {}, nil, slog.Default())
	s2.retryWait = time.Millisecond
	s2.runCycle(context.Background())
	require.Zero(t, received)
	require.Equal(t, int64(2), s2.Stats().FetchErrors)
}

func TestScanWaitsOutBackpressure(t *testing.T) {
	feed := &fakeFeed{pages: [][]domain.MarketData{page("p0", 1)}}

	var pressured sync.Mutex
	checks := 0
	backpressure := func() bool {
		pressured.Lock()
		defer pressured.Unlock()
		checks++
		return checks <= 2 // pressured for the first two polls
	}

	s := NewScan(ScanConfig{Limit: 2, MaxPages: 1, ScanInterval: time.Hour}, feed,
		func(context.Context, []domain.MarketData) {}, func() {}, backpressure, slog.Default())
	s.backpressureWait = time.Millisecond

	start := time.Now()
	s.runCycle(context.Background())
	require.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
	require.Equal(t, int64(2), s.Stats().BackpressureHit)
	require.Equal(t, int64(1), s.Stats().Pages, "page proceeds once pressure clears")
}

func TestScanStateMachine(t *testing.T) {
	feed := &fakeFeed{}
	s := NewScan(ScanConfig{Limit: 2, MaxPages: 1, ScanInterval: time.Hour}, feed,
		func(context.Context, []domain.MarketData) {}, func() {}, nil, slog.Default())

	require.Equal(t, ScanStopped, s.State())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, ScanRunning, s.State())
	require.Error(t, s.Start(context.Background()), "double start rejected")

	s.Pause()
	require.Equal(t, ScanPaused, s.State())
	s.Resume()
	require.Equal(t, ScanRunning, s.State())

	s.Stop()
	require.Equal(t, ScanStopped, s.State())
}

// fakeBook returns fixed prices per token; a missing entry means that side
// is unknown.
type fakeBook struct {
	bid map[string]float64
	ask map[string]float64
}

func (b fakeBook) GetPrice(_ context.Context, tokenID string, side domain.OrderSide) (float64, error) {
	var m map[string]float64
	if side == domain.OrderSideBuy {
		m = b.bid
	} else {
		m = b.ask
	}
	v, ok := m[tokenID]
	if !ok {
		return 0, errors.New("no book")
	}
	return v, nil
}

func TestPriceScanRecordsDerivedFields(t *testing.T) {
	store := newMemStore()
	store.eligible = []domain.EligibleToken{
		{ConditionID: "c1", TokenID: "t1", Outcome: "Yes", OutcomeIndex: 0},
		{ConditionID: "c1", TokenID: "t2", Outcome: "No", OutcomeIndex: 1},
		{ConditionID: "c2", TokenID: "t3", Outcome: "Yes", OutcomeIndex: 0},
	}
	book := fakeBook{
		bid: map[string]float64{"t1": 0.45, "t2": 0.50},
		ask: map[string]float64{"t1": 0.55}, // t2 has no ask, t3 no book at all
	}

	p := NewPrice(PriceConfig{BatchSize: 10, TokenInterval: time.Millisecond, BatchInterval: time.Millisecond, ScanInterval: time.Hour},
		store, store, book, slog.Default())
	require.NoError(t, p.runScan(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.prices, 2, "the both-sides-unknown token is discarded")

	full := store.prices[0]
	require.Equal(t, "t1", full.TokenID)
	require.InDelta(t, 0.5, full.MidPrice, 1e-9)
	require.InDelta(t, 0.1, full.Spread, 1e-9)
	require.InDelta(t, 20.0, full.SpreadPct, 1e-9)

	oneSided := store.prices[1]
	require.Equal(t, "t2", oneSided.TokenID)
	require.Nil(t, oneSided.SellPrice)
	require.NotNil(t, oneSided.BuyPrice)
}

func TestPriceBatchSizeCapsCycle(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 30; i++ {
		store.eligible = append(store.eligible, domain.EligibleToken{
			ConditionID: "c", TokenID: fmt.Sprintf("t%d", i),
		})
	}
	book := fakeBook{bid: map[string]float64{}, ask: map[string]float64{}}
	for i := 0; i < 30; i++ {
		book.bid[fmt.Sprintf("t%d", i)] = 0.4
		book.ask[fmt.Sprintf("t%d", i)] = 0.6
	}

	p := NewPrice(PriceConfig{BatchSize: 10, TokenInterval: time.Millisecond, BatchInterval: time.Millisecond, ScanInterval: time.Hour},
		store, store, book, slog.Default())
	require.NoError(t, p.runScan(context.Background()))

	require.Equal(t, int64(10), p.Stats().Tokens, "batch size caps a cycle")
}

func TestPriceStartStop(t *testing.T) {
	store := newMemStore()
	book := fakeBook{bid: map[string]float64{}, ask: map[string]float64{}}
	p := NewPrice(PriceConfig{ScanInterval: time.Hour}, store, store, book, slog.Default())

	require.NoError(t, p.Start(context.Background()))
	require.True(t, p.Running())
	require.Error(t, p.Start(context.Background()), "double start rejected")

	p.Stop()
	require.False(t, p.Running())
}
