package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveExchange("read", "ok")
		m.ObserveTransition("unlocked", true)
		m.ObserveArbitrationTimeout()
		m.ObserveStaleRecovery()
		m.ObserveCommand("status", "ok")
		m.ObserveFan("0", 1200)
		m.ObserveFanTarget("0", 1200)
		m.ObserveFanWriteFailure("0")
		m.ObserveTemperature("cpu", 55)
		m.ObserveHeadroom(0.5)
	})
}

func TestObserveTransitionTracksUnlockedGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTransition("unlocked", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlUnlocked))

	m.ObserveTransition("system_managed", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ControlUnlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArbiterTransitions.WithLabelValues("unlocked")))
}

func TestObserveExchangeCountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveExchange("read", "ok")
	m.ObserveExchange("read", "ok")
	m.ObserveExchange("write", "rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SMCExchanges.WithLabelValues("read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SMCExchanges.WithLabelValues("write", "rejected")))
}
