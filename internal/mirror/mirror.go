package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
)

// Commander is the subset of *redis.Client the mirror needs.
type Commander interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Rename(ctx context.Context, key, newkey string) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Config holds mirror settings.
type Config struct {
	Key     string
	Channel string
	Timeout time.Duration
}

// Notice is published on the change channel.
type Notice struct {
	Kind  string    `json:"kind"`
	Count int       `json:"count"`
	Keys  []string  `json:"keys,omitempty"`
	At    time.Time `json:"at"`
}

// Stats holds mirror counters.
type Stats struct {
	Applied int64
	Errors  int64
}

type record struct {
	Platform  string          `json:"platform"`
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Category  string          `json:"category,omitempty"`
	Status    string          `json:"status,omitempty"`
	YesPrice  decimal.Decimal `json:"yesPrice"`
	NoPrice   decimal.Decimal `json:"noPrice"`
	Volume    decimal.Decimal `json:"volume"`
	Volume24h decimal.Decimal `json:"volume24h"`
	Liquidity decimal.Decimal `json:"liquidity"`
	EndDate   *time.Time      `json:"endDate,omitempty"`
	URL       string          `json:"url,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// Mirror applies store changes to Redis.
type Mirror struct {
	cfg     Config
	rdb     Commander
	input   *market.GrowableBuffer[market.Change]
	logger  *slog.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates a Mirror reading from input.
func New(cfg Config, rdb Commander, input *market.GrowableBuffer[market.Change], logger *slog.Logger, m *metrics.Metrics) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Mirror{
		cfg:     cfg,
		rdb:     rdb,
		input:   input,
		logger:  logger.With("component", "mirror", "key", cfg.Key),
		metrics: m,
	}
}

// Start begins consuming changes.
func (m *Mirror) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("redis mirror started", "channel", m.cfg.Channel)
	return nil
}

// Stop halts the consumer and applies changes still queued, bounded by ctx.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	for _, c := range m.input.DrainTo(0) {
		if err := m.apply(ctx, c); err != nil {
			return err
		}
	}
	m.logger.Info("redis mirror stopped")
	return nil
}

// Stats returns current counters.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Mirror) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.input.Ready():
			for _, c := range m.input.DrainTo(0) {
				applyCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
				err := m.apply(applyCtx, c)
				cancel()
				if err != nil {
					m.logger.Warn("mirror apply failed", "kind", c.Kind.String(), "error", err)
				}
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, c market.Change) error {
	var err error
	switch c.Kind {
	case market.ChangeReplace:
		err = m.replace(ctx, c.Markets)
	default:
		err = m.merge(ctx, c.Markets)
	}
	if err == nil {
		err = m.notify(ctx, c)
	}

	m.mu.Lock()
	if err != nil {
		m.stats.Errors++
	} else {
		m.stats.Applied++
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.IncSinkFlush("redis", "error")
		return err
	}
	m.metrics.IncSinkFlush("redis", "ok")
	return nil
}

func (m *Mirror) replace(ctx context.Context, markets []model.Market) error {
	if len(markets) == 0 {
		if err := m.rdb.Del(ctx, m.cfg.Key).Err(); err != nil {
			return fmt.Errorf("clear %s: %w", m.cfg.Key, err)
		}
		return nil
	}

	staging := m.cfg.Key + ":staging"
	if err := m.rdb.Del(ctx, staging).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", staging, err)
	}
	values, err := fieldValues(markets)
	if err != nil {
		return err
	}
	if err := m.rdb.HSet(ctx, staging, values...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", staging, err)
	}
	if err := m.rdb.Rename(ctx, staging, m.cfg.Key).Err(); err != nil {
		return fmt.Errorf("rename %s: %w", staging, err)
	}
	return nil
}

func (m *Mirror) merge(ctx context.Context, markets []model.Market) error {
	if len(markets) == 0 {
		return nil
	}
	values, err := fieldValues(markets)
	if err != nil {
		return err
	}
	if err := m.rdb.HSet(ctx, m.cfg.Key, values...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", m.cfg.Key, err)
	}
	return nil
}

func (m *Mirror) notify(ctx context.Context, c market.Change) error {
	if m.cfg.Channel == "" {
		return nil
	}
	n := Notice{Kind: c.Kind.String(), Count: len(c.Markets), At: c.At.UTC()}
	if c.Kind == market.ChangeUpsert {
		for _, mk := range c.Markets {
			n.Keys = append(n.Keys, mk.Key().String())
		}
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := m.rdb.Publish(ctx, m.cfg.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", m.cfg.Channel, err)
	}
	return nil
}

// fieldValues flattens markets into HSET field/value pairs.
func fieldValues(markets []model.Market) ([]interface{}, error) {
	values := make([]interface{}, 0, len(markets)*2)
	for _, mk := range markets {
		data, err := json.Marshal(toRecord(mk))
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", mk.Key(), err)
		}
		values = append(values, mk.Key().String(), string(data))
	}
	return values, nil
}

func toRecord(m model.Market) record {
	return record{
		Platform:  string(m.Platform),
		ID:        m.ID,
		Title:     m.Title,
		Category:  m.Category,
		Status:    m.Status,
		YesPrice:  m.YesPrice,
		NoPrice:   m.NoPrice,
		Volume:    m.Volume,
		Volume24h: m.Volume24h,
		Liquidity: m.Liquidity,
		EndDate:   timePtr(m.EndDate),
		URL:       m.URL,
		UpdatedAt: timePtr(m.UpdatedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
