package domain

import (
	"context"
	"io"
)

// BlobWriter uploads a newline-delimited JSON object to cold storage under
// key, replacing any existing object at that key.
type BlobWriter interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
}

// BlobReader reads back an archived object, for verification or replay.
type BlobReader interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// Archiver periodically moves aged PriceSnapshot/MarketPrice rows to cold
// storage without deleting them from the store.
type Archiver interface {
	ArchivePriceSnapshots(ctx context.Context) (archived int, err error)
	ArchiveMarketPrices(ctx context.Context) (archived int, err error)
}
