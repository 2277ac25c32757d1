package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/poller"
	"github.com/rickgao/marketfeed/internal/probe"
	"github.com/rickgao/marketfeed/internal/router"
)

type fakeController struct {
	state       connection.State
	reconnects  int
	disconnects int
}

func (f *fakeController) State() connection.State { return f.state }
func (f *fakeController) Stats() connection.ManagerStats {
	return connection.ManagerStats{Status: f.state.Status, SessionsOpened: 3}
}
func (f *fakeController) Reconnect(context.Context) {
	f.reconnects++
	f.state = connection.State{Status: connection.StatusConnected, IsConnected: true}
}
func (f *fakeController) Disconnect() {
	f.disconnects++
	f.state = connection.State{Status: connection.StatusDisconnected}
}

type stubProber struct{ r probe.Result }

func (s stubProber) Cached() probe.Result { return s.r }

type stubPoller struct{ s poller.Stats }

func (s stubPoller) Stats() poller.Stats { return s.s }

type stubRouter struct{ s router.Stats }

func (s stubRouter) Stats() router.Stats { return s.s }

func newTestHandler(t *testing.T, ctrl *fakeController, store *market.Store) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg).IncProbe("available")
	return newHandler(handlerDeps{
		Manager:     ctrl,
		Store:       store,
		Prober:      stubProber{probe.Result{Available: true, Checked: true, CheckedAt: time.Unix(100, 0)}},
		Poller:      stubPoller{poller.Stats{Running: true, Fetches: 4}},
		Router:      stubRouter{router.Stats{Received: 9}},
		Sinks: map[string]func() interface{}{
			"postgres": func() interface{} { return map[string]int{"flushes": 2} },
		},
		Gatherer:    reg,
		MetricsPath: "/metrics",
	}), reg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      connection.State
		wantCode   int
		wantStatus string
	}{
		{"connected", connection.State{Status: connection.StatusConnected, IsConnected: true}, http.StatusOK, "healthy"},
		{"polling", connection.State{Status: connection.StatusUnavailable, IsUsingPolling: true}, http.StatusOK, "degraded"},
		{"error", connection.State{Status: connection.StatusError, IsUsingPolling: true}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := market.NewStore(nil, nil)
			h, _ := newTestHandler(t, &fakeController{state: tt.state}, store)

			rec := do(t, h, http.MethodGet, "/health")
			require.Equal(t, tt.wantCode, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])

			conn := body["connection"].(map[string]interface{})
			assert.Equal(t, tt.state.Status.String(), conn["status"])
			assert.Equal(t, tt.state.IsUsingPolling, conn["is_using_polling"])

			components := body["components"].(map[string]interface{})
			assert.Contains(t, components, "postgres")
			assert.Contains(t, components, "store")
		})
	}
}

func TestDebugMarkets(t *testing.T) {
	store := market.NewStore(nil, nil)
	store.SetMarkets([]model.Market{
		{Platform: model.PlatformKalshi, ID: "A", Title: "First", YesPrice: decimal.RequireFromString("0.25")},
		{Platform: model.PlatformPolymarket, ID: "B", Title: "Second"},
		{Platform: model.PlatformManifold, ID: "C", Title: "Third"},
	})
	h, _ := newTestHandler(t, &fakeController{}, store)

	rec := do(t, h, http.MethodGet, "/debug/markets?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int          `json:"count"`
		Showing int          `json:"showing"`
		Markets []marketJSON `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	assert.Equal(t, 2, body.Showing)
	assert.Equal(t, "A", body.Markets[0].ID)
	assert.True(t, body.Markets[0].YesPrice.Equal(decimal.RequireFromString("0.25")))

	rec = do(t, h, http.MethodGet, "/debug/markets?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlEndpoints(t *testing.T) {
	ctrl := &fakeController{state: connection.State{Status: connection.StatusUnavailable, IsUsingPolling: true}}
	h, _ := newTestHandler(t, ctrl, market.NewStore(nil, nil))

	rec := do(t, h, http.MethodPost, "/reconnect")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.reconnects)
	assert.Contains(t, rec.Body.String(), `"status":"connected"`)

	rec = do(t, h, http.MethodPost, "/disconnect")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.disconnects)
	assert.Contains(t, rec.Body.String(), `"status":"disconnected"`)

	rec = do(t, h, http.MethodGet, "/reconnect")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, ctrl.reconnects)
}

func TestDebugStatsAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t, &fakeController{}, market.NewStore(nil, nil))

	rec := do(t, h, http.MethodGet, "/debug/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions_opened":3`)

	rec = do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "marketfeed_probe_total"))
}
