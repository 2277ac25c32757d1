package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetStatus("connected", []string{"connected", "error"})
		m.IncReconnect()
		m.IncMessage("applied")
		m.IncPoll("ok")
		m.IncProbe("cached")
		m.SetStoreSize(3)
		m.IncSinkFlush("writer", "ok")
	})
}

func TestSetStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	all := []string{"connecting", "connected", "error"}
	m.SetStatus("connected", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues("connecting")))

	m.SetStatus("error", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("error")))
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncReconnect()
	m.IncReconnect()
	m.IncMessage("malformed")
	m.IncPoll("error")
	m.SetStoreSize(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.storeMarkets))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
