package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/poller"
	"github.com/rickgao/marketfeed/internal/probe"
	"github.com/rickgao/marketfeed/internal/router"
	"github.com/rickgao/marketfeed/internal/version"
)

const defaultDebugLimit = 100

// controller is the part of *connection.Manager the HTTP surface drives.
type controller interface {
	State() connection.State
	Stats() connection.ManagerStats
	Reconnect(ctx context.Context)
	Disconnect()
}

type marketSource interface {
	Markets() []model.Market
	Len() int
}

type handlerDeps struct {
	Manager     controller
	Store       marketSource
	Prober      interface{ Cached() probe.Result }
	Poller      interface{ Stats() poller.Stats }
	Router      interface{ Stats() router.Stats }
	Sinks       map[string]func() interface{} // enabled sinks by name
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Logger      *slog.Logger
}

type healthResponse struct {
	Status     string                 `json:"status"`
	Connection connection.State       `json:"connection"`
	Components map[string]interface{} `json:"components"`
	Version    string                 `json:"version"`
}

type marketJSON struct {
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
	EndDate   time.Time       `json:"endDate,omitempty"`
	URL       string          `json:"url,omitempty"`
}

// newHandler creates the HTTP handler for health, debug, control and metrics.
func newHandler(d handlerDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		state := d.Manager.State()
		health := healthResponse{
			Status:     "healthy",
			Connection: state,
			Components: make(map[string]interface{}),
			Version:    version.String(),
		}

		switch state.Status {
		case connection.StatusError:
			health.Status = "unhealthy"
		case connection.StatusConnected:
		default:
			health.Status = "degraded"
		}

		backend := d.Prober.Cached()
		health.Components["backend"] = map[string]interface{}{
			"checked":    backend.Checked,
			"available":  backend.Available,
			"checked_at": backend.CheckedAt,
		}
		health.Components["store"] = map[string]interface{}{
			"markets": d.Store.Len(),
		}
		ps := d.Poller.Stats()
		health.Components["poller"] = map[string]interface{}{
			"running":      ps.Running,
			"fetches":      ps.Fetches,
			"errors":       ps.Errors,
			"last_success": ps.LastSuccess,
		}
		for name, stats := range d.Sinks {
			health.Components[name] = stats()
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health, d.Logger)
	})

	mux.HandleFunc("GET /debug/markets", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDebugLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		markets := d.Store.Markets()
		total := len(markets)
		if limit > 0 && len(markets) > limit {
			markets = markets[:limit]
		}

		out := make([]marketJSON, len(markets))
		for i, m := range markets {
			out[i] = marketJSON{
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
				EndDate:   m.EndDate,
				URL:       m.URL,
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":   total,
			"showing": len(out),
			"markets": out,
		}, d.Logger)
	})

	mux.HandleFunc("GET /debug/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"connection": d.Manager.Stats(),
			"router":     d.Router.Stats(),
			"poller":     d.Poller.Stats(),
			"backend":    d.Prober.Cached(),
		}, d.Logger)
	})

	mux.HandleFunc("POST /reconnect", func(w http.ResponseWriter, r *http.Request) {
		d.Logger.Info("reconnect requested over http", "remote", r.RemoteAddr)
		d.Manager.Reconnect(r.Context())
		writeJSON(w, http.StatusOK, d.Manager.State(), d.Logger)
	})

	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {
		d.Logger.Info("disconnect requested over http", "remote", r.RemoteAddr)
		d.Manager.Disconnect()
		writeJSON(w, http.StatusOK, d.Manager.State(), d.Logger)
	})

	if d.Gatherer != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", "error", err)
	}
}
