package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/scanenginehq/scanengine/internal/domain"
)

// Archiver implements domain.Archiver: it uploads aged price history to
// S3-compatible cold storage as newline-delimited JSON, one object per
// pass and kind. It only reads from the store; retention deletes are left
// to the database operator so an archive failure can never drop rows.
type Archiver struct {
	writer    domain.BlobWriter
	snapshots domain.PriceSnapshotArchiveStore
	prices    domain.MarketPriceArchiveStore
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that uploads rows older than retention.
func NewArchiver(
	writer domain.BlobWriter,
	snapshots domain.PriceSnapshotArchiveStore,
	prices domain.MarketPriceArchiveStore,
	retention time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		snapshots: snapshots,
		prices:    prices,
		retention: retention,
		batchSize: 5000,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePriceSnapshots uploads one batch of snapshots recorded before the
// retention cutoff and returns how many rows were archived.
func (a *Archiver) ArchivePriceSnapshots(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.retention)
	rows, err := a.snapshots.ListSnapshotsBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]any, len(rows))
	for i, r := range rows {
		records[i] = r
	}
	key := archiveKey("price_snapshots", rows[0].RecordedAt)
	if err := a.upload(ctx, key, records); err != nil {
		return 0, err
	}
	a.logger.Info("archived snapshots", slog.Int("count", len(rows)), slog.String("key", key))
	return len(rows), nil
}

// ArchiveMarketPrices uploads one batch of market prices fetched before the
// retention cutoff and returns how many rows were archived.
func (a *Archiver) ArchiveMarketPrices(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.retention)
	rows, err := a.prices.ListMarketPricesBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list market prices: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]any, len(rows))
	for i, r := range rows {
		records[i] = r
	}
	key := archiveKey("market_prices", rows[0].FetchedAt)
	if err := a.upload(ctx, key, records); err != nil {
		return 0, err
	}
	a.logger.Info("archived market prices", slog.Int("count", len(rows)), slog.String("key", key))
	return len(rows), nil
}

// RunLoop runs a full archival pass every interval until ctx is cancelled.
// Failures in one kind do not abort the other.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchivePriceSnapshots(ctx); err != nil {
				a.logger.Warn("snapshot archive failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveMarketPrices(ctx); err != nil {
				a.logger.Warn("market price archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// upload serializes records as newline-delimited JSON and writes one object.
func (a *Archiver) upload(ctx context.Context, key string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}
	if err := a.writer.PutObject(ctx, key, &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// archiveKey builds the object key: archive/{kind}/{yyyy}/{mm}/{dd}/{unix_nanos}.ndjson
func archiveKey(kind string, oldest time.Time) string {
	return fmt.Sprintf("archive/%s/%04d/%02d/%02d/%d.ndjson",
		kind, oldest.Year(), oldest.Month(), oldest.Day(), time.Now().UTC().UnixNano())
}
