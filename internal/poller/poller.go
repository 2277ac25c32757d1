package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
)

// Fetcher provides market snapshots. *api.Client satisfies it.
type Fetcher interface {
	GetPredictionMarkets(ctx context.Context, limit int) (*api.MarketsResponse, error)
}

// Publisher receives snapshots. *market.Store satisfies it.
type Publisher interface {
	SetMarkets(markets []model.Market)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 60s)
	Timeout  time.Duration // Per-request timeout (default: 10s)
	Limit    int           // Page size (default: 20)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
		Limit:    api.DefaultMarketLimit,
	}
}

// Stats contains poller counters.
type Stats struct {
	Running     bool
	Fetches     int64
	Errors      int64
	LastSuccess time.Time
}

// Poller periodically replaces the store contents from the REST API.
type Poller struct {
	cfg       Config
	fetcher   Fetcher
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	ticker  *clock.Ticker
	done    chan struct{}

	fetches     atomic.Int64
	errors      atomic.Int64
	lastSuccess atomic.Pointer[time.Time]
}

// New creates a new Poller. A nil clock uses the wall clock.
func New(cfg Config, fetcher Fetcher, publisher Publisher, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		metrics:   m,
	}
}

// Start begins polling. It returns false if the poller was already running.
// The first fetch happens immediately.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.ticker = p.clock.Ticker(p.cfg.Interval)
	p.done = make(chan struct{})

	go p.run(runCtx, p.ticker, p.done)

	p.logger.Info("polling started", "interval", p.cfg.Interval, "limit", p.cfg.Limit)
	return true
}

// Stop halts polling and waits for an in-flight fetch to finish. No fetch
// is published after Stop returns. It returns false if the poller was not
// running.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	p.cancel()
	p.ticker.Stop()
	done := p.done
	p.mu.Unlock()

	<-done

	p.logger.Info("polling stopped")
	return true
}

// Running reports whether polling is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	var last time.Time
	if t := p.lastSuccess.Load(); t != nil {
		last = *t
	}
	return Stats{
		Running:     p.Running(),
		Fetches:     p.fetches.Load(),
		Errors:      p.errors.Load(),
		LastSuccess: last,
	}
}

// run is the main polling loop.
func (p *Poller) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)

	// Poll immediately on start.
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches one snapshot and publishes it.
func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := p.clock.Now()
	p.fetches.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.fetcher.GetPredictionMarkets(fetchCtx, p.cfg.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.errors.Add(1)
		p.metrics.IncPoll("error")
		p.logger.Warn("poll failed, keeping stale data", "error", err)
		return
	}

	// Stop may have been called while the request was in flight.
	if ctx.Err() != nil {
		return
	}

	markets := api.ToModels(resp.Markets)
	p.publisher.SetMarkets(markets)
	now := p.clock.Now()
	p.lastSuccess.Store(&now)
	p.metrics.IncPoll("ok")

	p.logger.Debug("poll complete",
		"markets", len(markets),
		"duration", p.clock.Since(start),
	)
}
