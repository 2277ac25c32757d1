package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/metrics"
)

// Router applies server envelopes to a Publisher.
type Router struct {
	cfg       Config
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	received  atomic.Int64
	replaced  atomic.Int64
	upserted  atomic.Int64
	ignored   atomic.Int64
	malformed atomic.Int64
}

// New creates a Router.
func New(publisher Publisher, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Router {
	if cfg.Type == "" {
		cfg.Type = PredictionMarketType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Route decodes one message and applies it. A full list takes precedence
// over a single record when both are present. Errors are informational: the
// caller logs them and keeps the session open.
func (r *Router) Route(data []byte) error {
	r.received.Add(1)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return r.fail(fmt.Errorf("%w: %v", ErrMalformed, err))
	}

	if env.Type != r.cfg.Type {
		r.ignored.Add(1)
		r.metrics.IncMessage("ignored")
		r.logger.Debug("ignoring message", "type", env.Type)
		return ErrIgnoredType
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return r.fail(ErrEmptyPayload)
	}

	var payload Payload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return r.fail(fmt.Errorf("%w: data: %v", ErrMalformed, err))
	}

	switch {
	case payload.Markets != nil:
		markets := api.ToModels(*payload.Markets)
		r.publisher.SetMarkets(markets)
		r.replaced.Add(1)
		r.metrics.IncMessage("replaced")
		r.logger.Debug("markets replaced", "count", len(markets), "timestamp", env.Timestamp)

	case payload.Market != nil:
		if payload.Market.ID == "" || payload.Market.Platform == "" {
			return r.fail(fmt.Errorf("%w: market without platform or id", ErrMalformed))
		}
		m := payload.Market.ToModel()
		added := r.publisher.Upsert(m)
		r.upserted.Add(1)
		r.metrics.IncMessage("upserted")
		r.logger.Debug("market upserted", "key", m.Key(), "added", added, "timestamp", env.Timestamp)

	default:
		return r.fail(ErrEmptyPayload)
	}

	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Replaced:  r.replaced.Load(),
		Upserted:  r.upserted.Load(),
		Ignored:   r.ignored.Load(),
		Malformed: r.malformed.Load(),
	}
}

func (r *Router) fail(err error) error {
	r.malformed.Add(1)
	r.metrics.IncMessage("malformed")
	r.logger.Warn("dropping message", "error", err)
	return err
}
