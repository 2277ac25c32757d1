package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prediction_markets (
	platform    TEXT        NOT NULL,
	market_id   TEXT        NOT NULL,
	title       TEXT        NOT NULL,
	category    TEXT        NOT NULL DEFAULT '',
	status      TEXT        NOT NULL DEFAULT '',
	yes_price   NUMERIC,
	no_price    NUMERIC,
	volume      NUMERIC,
	volume_24h  NUMERIC,
	liquidity   NUMERIC,
	end_date    TIMESTAMPTZ,
	url         TEXT        NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ,
	written_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, market_id)
)`

const upsertSQL = `
INSERT INTO prediction_markets (platform, market_id, title, category, status, yes_price, no_price, volume, volume_24h, liquidity, end_date, url, updated_at, written_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
ON CONFLICT (platform, market_id) DO UPDATE SET
	title = EXCLUDED.title,
	category = EXCLUDED.category,
	status = EXCLUDED.status,
	yes_price = EXCLUDED.yes_price,
	no_price = EXCLUDED.no_price,
	volume = EXCLUDED.volume,
	volume_24h = EXCLUDED.volume_24h,
	liquidity = EXCLUDED.liquidity,
	end_date = EXCLUDED.end_date,
	url = EXCLUDED.url,
	updated_at = EXCLUDED.updated_at,
	written_at = now()`

// MarketWriter consumes store changes and upserts the latest record per
// market into prediction_markets.
type MarketWriter struct {
	cfg     WriterConfig
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	// Input from the market store
	input *market.GrowableBuffer[market.Change]

	db DB

	// Pending rows keyed by market, in first-seen order
	pending map[model.Key]marketRow
	order   []model.Key
	batchMu sync.Mutex

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats WriterMetrics
}

// NewMarketWriter creates a new MarketWriter. A nil clock uses the wall clock.
func NewMarketWriter(
	cfg WriterConfig,
	input *market.GrowableBuffer[market.Change],
	db DB,
	clk clock.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *MarketWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &MarketWriter{
		cfg:     cfg,
		input:   input,
		db:      db,
		clock:   clk,
		logger:  logger.With("component", "market_writer"),
		metrics: m,
		pending: make(map[model.Key]marketRow),
	}
}

// EnsureSchema creates the prediction_markets table if it does not exist.
func (w *MarketWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure prediction_markets schema: %w", err)
	}
	return nil
}

// Start begins consuming changes and writing to the database.
func (w *MarketWriter) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	ticker := w.clock.Ticker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.run(ctx, ticker)

	w.logger.Info("market writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the consumer and performs a final flush bounded by ctx.
func (w *MarketWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping market writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("market writer stop timed out")
		return ctx.Err()
	}

	// Pick up anything published after the loop exited
	w.absorb(w.input.DrainTo(0))
	if err := w.flush(ctx); err != nil {
		return err
	}
	w.logger.Info("market writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *MarketWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// Pending returns the number of markets waiting for the next flush.
func (w *MarketWriter) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.pending)
}

func (w *MarketWriter) run(ctx context.Context, ticker *clock.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.input.Ready():
			if w.absorb(w.input.DrainTo(0)) >= w.cfg.BatchSize {
				w.flushWithTimeout(ctx)
			}
		case <-ticker.C:
			w.flushWithTimeout(ctx)
		}
	}
}

// absorb merges changes into the pending set and returns its new size.
func (w *MarketWriter) absorb(changes []market.Change) int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	for _, c := range changes {
		for _, m := range c.Markets {
			k := m.Key()
			if _, ok := w.pending[k]; ok {
				w.stats.Coalesced++
			} else {
				w.order = append(w.order, k)
			}
			w.pending[k] = transform(m)
		}
	}
	return len(w.pending)
}

func (w *MarketWriter) flushWithTimeout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FlushTimeout)
	defer cancel()
	_ = w.flush(ctx)
}

// flush writes the pending set. Failed rows are put back unless a newer
// record for the same market arrived meanwhile.
func (w *MarketWriter) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.pending) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	keys := w.order
	rows := make([]marketRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, w.pending[k])
	}
	w.pending = make(map[model.Key]marketRow, len(keys))
	w.order = nil
	w.batchMu.Unlock()

	start := w.clock.Now()

	if err := w.batchUpsert(ctx, rows); err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(rows))
		w.metrics.IncSinkFlush("postgres", "error")

		w.batchMu.Lock()
		w.stats.Errors++
		for i, k := range keys {
			if _, newer := w.pending[k]; newer {
				continue
			}
			w.pending[k] = rows[i]
			w.order = append(w.order, k)
		}
		w.batchMu.Unlock()
		return err
	}

	w.metrics.IncSinkFlush("postgres", "ok")

	w.batchMu.Lock()
	w.stats.Upserts += int64(len(rows))
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed markets",
		"count", len(rows),
		"duration", w.clock.Since(start),
	)
	return nil
}

// batchUpsert sends all rows in a single pgx.Batch.
func (w *MarketWriter) batchUpsert(ctx context.Context, rows []marketRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertSQL,
			r.Platform, r.MarketID, r.Title, r.Category, r.Status,
			r.YesPrice, r.NoPrice, r.Volume, r.Volume24h, r.Liquidity,
			r.EndDate, r.URL, r.UpdatedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert prediction_markets: %w", err)
		}
	}
	return nil
}

// transform converts a store record to a marketRow.
func transform(m model.Market) marketRow {
	return marketRow{
		Platform:  string(m.Platform),
		MarketID:  m.ID,
		Title:     m.Title,
		Category:  m.Category,
		Status:    m.Status,
		YesPrice:  m.YesPrice.String(),
		NoPrice:   m.NoPrice.String(),
		Volume:    m.Volume.String(),
		Volume24h: m.Volume24h.String(),
		Liquidity: m.Liquidity.String(),
		EndDate:   nullableTime(m.EndDate),
		URL:       m.URL,
		UpdatedAt: nullableTime(m.UpdatedAt),
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
