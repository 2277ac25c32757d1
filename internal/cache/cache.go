package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
)

const insertBatchSize = 200

// marketRecord is one row of the snapshot. Position keeps store order,
// including duplicate identities a full list may carry.
type marketRecord struct {
	Position  int    `gorm:"primaryKey;autoIncrement:false"`
	Platform  string `gorm:"index:idx_snapshot_key"`
	MarketID  string `gorm:"index:idx_snapshot_key"`
	Title     string
	Category  string
	Status    string
	YesPrice  decimal.Decimal `gorm:"type:text"`
	NoPrice   decimal.Decimal `gorm:"type:text"`
	Volume    decimal.Decimal `gorm:"type:text"`
	Volume24h decimal.Decimal `gorm:"type:text"`
	Liquidity decimal.Decimal `gorm:"type:text"`
	EndDate   time.Time
	URL       string
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
	SavedAt   time.Time
}

func (marketRecord) TableName() string { return "market_snapshot" }

// Source provides the full store contents to persist.
type Source interface {
	Markets() []model.Market
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock sets the clock used for save scheduling and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// Cache is a SQLite-backed market snapshot.
type Cache struct {
	db      *gorm.DB
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	mu sync.Mutex // serializes Save
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{
		path:   path,
		logger: slog.Default(),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache", "path", path)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.AutoMigrate(&marketRecord{}); err != nil {
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}

	c.db = db
	return c, nil
}

// Load returns the snapshot in store order. An empty snapshot is not an error.
func (c *Cache) Load() ([]model.Market, error) {
	var records []marketRecord
	if err := c.db.Order("position").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	markets := make([]model.Market, len(records))
	for i, r := range records {
		markets[i] = r.toModel()
	}
	return markets, nil
}

// Save replaces the snapshot with markets in a single transaction.
func (c *Cache) Save(markets []model.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now().UTC()
	records := make([]marketRecord, len(markets))
	for i, m := range markets {
		records[i] = fromModel(i+1, m, now)
	}

	err := c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&marketRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, insertBatchSize).Error
	})
	if err != nil {
		c.metrics.IncSinkFlush("sqlite", "error")
		return fmt.Errorf("save snapshot: %w", err)
	}

	c.metrics.IncSinkFlush("sqlite", "ok")
	c.logger.Debug("snapshot saved", "count", len(records))
	return nil
}

// Run saves src whenever buf reports changes, at most once per interval,
// and once more when ctx ends. It returns when ctx is done.
func (c *Cache) Run(ctx context.Context, src Source, buf *market.GrowableBuffer[market.Change], interval time.Duration) error {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			if len(buf.DrainTo(0)) > 0 {
				dirty = true
			}
			if dirty {
				if err := c.Save(src.Markets()); err != nil {
					c.logger.Error("final snapshot save failed", "error", err)
					return err
				}
			}
			return nil
		case <-buf.Ready():
			if len(buf.DrainTo(0)) > 0 {
				dirty = true
			}
		case <-ticker.C:
			if !dirty {
				continue
			}
			if err := c.Save(src.Markets()); err != nil {
				// Keep dirty so the next tick retries.
				c.logger.Warn("snapshot save failed", "error", err)
				continue
			}
			dirty = false
		}
	}
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromModel(pos int, m model.Market, savedAt time.Time) marketRecord {
	return marketRecord{
		Position:  pos,
		Platform:  string(m.Platform),
		MarketID:  m.ID,
		Title:     m.Title,
		Category:  m.Category,
		Status:    m.Status,
		YesPrice:  m.YesPrice,
		NoPrice:   m.NoPrice,
		Volume:    m.Volume,
		Volume24h: m.Volume24h,
		Liquidity: m.Liquidity,
		EndDate:   m.EndDate.UTC(),
		URL:       m.URL,
		UpdatedAt: m.UpdatedAt.UTC(),
		SavedAt:   savedAt,
	}
}

func (r marketRecord) toModel() model.Market {
	return model.Market{
		Platform:  model.Platform(r.Platform),
		ID:        r.MarketID,
		Title:     r.Title,
		Category:  r.Category,
		Status:    r.Status,
		YesPrice:  r.YesPrice,
		NoPrice:   r.NoPrice,
		Volume:    r.Volume,
		Volume24h: r.Volume24h,
		Liquidity: r.Liquidity,
		EndDate:   r.EndDate.UTC(),
		URL:       r.URL,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}
