// Package pipeline implements the queue pipeline's stages: the paginated
// scan producer, the buffered storage writer, and the independent price
// loop. Stages communicate by synchronous page hand-off and idle waits,
// never by sharing buffers.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// StorageConfig controls batching and buffering for the storage stage.
type StorageConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBufferSize int
	Concurrency   int
	Timeout       time.Duration
}

// StorageStats is a snapshot of the stage's counters.
type StorageStats struct {
	Buffered       int           `json:"buffered"`
	Inserted       int64         `json:"inserted"`
	Skipped        int64         `json:"skipped"`
	PriceSnapshots int64         `json:"price_snapshots"`
	Dropped        int64         `json:"dropped"`
	Errors         int64         `json:"errors"`
	Flushes        int64         `json:"flushes"`
	LastFlush      time.Duration `json:"last_flush_ms"`
}

// Storage is the buffered write-through stage: markets accumulate in a
// deduplicated buffer and are flushed to the two-table store in batches.
type Storage struct {
	cfg       StorageConfig
	markets   domain.MarketStore
	snapshots domain.PriceSnapshotStore
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []domain.MarketData
	seen   map[string]bool
	stats  StorageStats

	flushMu sync.Mutex    // one flush at a time
	sem     chan struct{} // bounds concurrent store calls
	wg      sync.WaitGroup
}

// NewStorage builds the stage. Defaults fill any zero config field.
func NewStorage(cfg StorageConfig, markets domain.MarketStore, snapshots domain.PriceSnapshotStore, logger *slog.Logger) *Storage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &Storage{
		cfg:       cfg,
		markets:   markets,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "storage_stage")),
		seen:      make(map[string]bool),
	}
	s.sem = make(chan struct{}, cfg.Concurrency)
	return s
}

// Add buffers a page of markets, deduplicating against what is already
// buffered. When the buffer is full the oldest entries are evicted to make
// room; when it reaches a full batch, a flush is triggered immediately.
func (s *Storage) Add(ctx context.Context, page []domain.MarketData) {
	s.mu.Lock()
	for _, md := range page {
		if md.ConditionID == "" || s.seen[md.ConditionID] {
			continue
		}
		if len(s.buffer) >= s.cfg.MaxBufferSize {
			evicted := s.buffer[0]
			s.buffer = s.buffer[1:]
			delete(s.seen, evicted.ConditionID)
			s.stats.Dropped++
			s.logger.Warn("buffer full, dropping oldest",
				slog.String("condition_id", evicted.ConditionID),
			)
		}
		s.buffer = append(s.buffer, md)
		s.seen[md.ConditionID] = true
	}
	full := len(s.buffer) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// HasBackpressure reports whether buffer occupancy is at or above 80% of
// capacity. The scan stage polls this before fetching each page.
func (s *Storage) HasBackpressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)*10 >= s.cfg.MaxBufferSize*8
}

// Flush writes up to one batch through both store contracts, in order:
// the snapshot append happens only after the market upsert returns. Only
// one flush runs at a time.
func (s *Storage) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	n := len(s.buffer)
	if n == 0 {
		s.mu.Unlock()
		return
	}
	if n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	batch := make([]domain.MarketData, n)
	copy(batch, s.buffer[:n])
	s.buffer = s.buffer[n:]
	for _, md := range batch {
		delete(s.seen, md.ConditionID)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	s.sem <- struct{}{}
	go func() {
		defer func() {
			<-s.sem
			s.wg.Done()
		}()
		s.writeBatch(ctx, batch)
	}()
}

func (s *Storage) writeBatch(ctx context.Context, batch []domain.MarketData) {
	start := time.Now()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	markets := make([]domain.Market, 0, len(batch))
	snapshots := make([]domain.PriceSnapshot, 0, len(batch))
	for _, md := range batch {
		markets = append(markets, md.Market)
		snapshots = append(snapshots, md.Snapshot)
	}

	result, err := s.markets.BatchUpsertMarkets(writeCtx, markets)
	if err != nil {
		// The batch is not re-enqueued: the next scan cycle observes the
		// same markets again.
		s.recordError(len(batch))
		s.logger.Error("market upsert failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}

	written, err := s.snapshots.BatchRecordPriceSnapshots(writeCtx, snapshots)
	if err != nil {
		s.recordError(len(batch))
		s.logger.Error("snapshot append failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.stats.Inserted += int64(result.Inserted)
	s.stats.Skipped += int64(result.Skipped)
	s.stats.PriceSnapshots += int64(written)
	s.stats.Flushes++
	s.stats.LastFlush = time.Since(start)
	s.mu.Unlock()

	s.logger.Info("batch flushed",
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("snapshots", written),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *Storage) recordError(n int) {
	s.mu.Lock()
	s.stats.Errors += int64(n)
	s.mu.Unlock()
}

// Run flushes on a timer whenever the buffer is non-empty, until ctx is
// cancelled. A final flush drains whatever remains.
func (s *Storage) Run(ctx context.Context) error {
	s.logger.Info("storage stage started")
	defer s.logger.Info("storage stage stopped")

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.WaitUntilIdle(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			nonEmpty := len(s.buffer) > 0
			s.mu.Unlock()
			if nonEmpty {
				s.Flush(ctx)
			}
		}
	}
}

// WaitUntilIdle flushes the remaining buffer and waits for the work pool
// to drain every submitted batch.
func (s *Storage) WaitUntilIdle(ctx context.Context) {
	for {
		s.mu.Lock()
		empty := len(s.buffer) == 0
		s.mu.Unlock()
		if empty {
			break
		}
		s.Flush(ctx)
	}
	s.wg.Wait()
}

// Stats returns a snapshot of the stage's counters.
func (s *Storage) Stats() StorageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Buffered = len(s.buffer)
	return out
}
