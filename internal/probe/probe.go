package probe

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/marketfeed/internal/metrics"
)

// DefaultTimeout bounds a single health request.
const DefaultTimeout = 2 * time.Second

// HealthChecker performs one health request. *api.Client satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config holds probe configuration.
type Config struct {
	Timeout time.Duration // Per-probe timeout (default: 2s)
	TTL     time.Duration // Cache lifetime; 0 caches until Reset
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
	}
}

// Result is a snapshot of the cached availability.
type Result struct {
	Available bool
	Checked   bool
	CheckedAt time.Time
}

// Prober caches backend availability.
type Prober struct {
	checker HealthChecker
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu        sync.Mutex
	gen       uint64 // bumped by Reset; stale probes don't populate the cache
	checked   bool
	available bool
	checkedAt time.Time
}

// New creates a Prober. A nil clock uses the wall clock.
func New(checker HealthChecker, cfg Config, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		checker: checker,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		metrics: m,
	}
}

// Check returns whether the backend is available, probing at most once per
// cache lifetime. Network errors, non-2xx responses and timeouts all report
// false.
func (p *Prober) Check(ctx context.Context) bool {
	p.mu.Lock()
	if p.fresh() {
		available := p.available
		p.mu.Unlock()
		p.metrics.IncProbe("cached")
		return available
	}
	gen := p.gen
	p.mu.Unlock()

	v, _, _ := p.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return p.probe(ctx, gen), nil
	})
	return v.(bool)
}

// Reset invalidates the cache so the next Check probes again.
func (p *Prober) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.group.Forget(strconv.FormatUint(p.gen, 10))
	p.gen++
	p.checked = false
	p.available = false
	p.checkedAt = time.Time{}
}

// Cached returns the current cache contents without probing.
func (p *Prober) Cached() Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Result{
		Available: p.available,
		Checked:   p.fresh(),
		CheckedAt: p.checkedAt,
	}
}

// fresh must be called with mu held.
func (p *Prober) fresh() bool {
	if !p.checked {
		return false
	}
	if p.cfg.TTL > 0 && p.clock.Since(p.checkedAt) >= p.cfg.TTL {
		return false
	}
	return true
}

func (p *Prober) probe(ctx context.Context, gen uint64) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.clock.Now()
	err := p.checker.Health(ctx)
	available := err == nil

	if available {
		p.metrics.IncProbe("available")
		p.logger.Info("backend available", "duration", p.clock.Since(start))
	} else {
		p.metrics.IncProbe("unavailable")
		p.logger.Warn("backend unavailable", "error", err, "duration", p.clock.Since(start))
	}

	p.mu.Lock()
	if p.gen == gen {
		p.checked = true
		p.available = available
		p.checkedAt = p.clock.Now()
	}
	p.mu.Unlock()

	return available
}
