package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of pending markets that triggers a flush.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// FlushTimeout bounds a single batch round trip.
	FlushTimeout time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// DB is the subset of *pgxpool.Pool used by writers.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// marketRow represents a row for the prediction_markets table.
type marketRow struct {
	Platform  string
	MarketID  string
	Title     string
	Category  string
	Status    string
	YesPrice  string // NUMERIC text
	NoPrice   string
	Volume    string
	Volume24h string
	Liquidity string
	EndDate   *time.Time
	URL       string
	UpdatedAt *time.Time
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Upserts   int64
	Coalesced int64
	Errors    int64
	Flushes   int64
}
