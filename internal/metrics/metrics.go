// Package metrics provides Prometheus instrumentation for the SMC transport,
// the arbitration state machine, the daemon and the policy loop.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation (one-shot helper invocations, tests).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fancore"

type Metrics struct {
	// SMCExchanges counts register exchanges by op and result
	// (ok, rejected, transport_error).
	SMCExchanges *prometheus.CounterVec

	ArbiterTransitions   *prometheus.CounterVec
	ArbitrationTimeouts  prometheus.Counter
	StaleRecoveries      prometheus.Counter
	ControlUnlocked      prometheus.Gauge
	DaemonCommands       *prometheus.CounterVec
	FanSpeed             *prometheus.GaugeVec
	FanTarget            *prometheus.GaugeVec
	FanWriteFailures     *prometheus.CounterVec
	Temperature          *prometheus.GaugeVec
	ThermalHeadroomRatio prometheus.Gauge
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SMCExchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smc",
			Name:      "exchanges_total",
			Help:      "Register exchanges with the controller by operation and result",
		}, []string{"op", "result"}),

		ArbiterTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "transitions_total",
			Help:      "Fan control state transitions by target state",
		}, []string{"state"}),

		ArbitrationTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "timeouts_total",
			Help:      "Unlock attempts where firmware did not yield within the poll ceiling",
		}),

		StaleRecoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "stale_recoveries_total",
			Help:      "Releases triggered by a leftover override from a crashed process",
		}),

		ControlUnlocked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "unlocked",
			Help:      "1 while this process holds fan write control",
		}),

		DaemonCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "commands_total",
			Help:      "Daemon protocol commands by name and result",
		}, []string{"command", "result"}),

		FanSpeed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fan",
			Name:      "speed_rpm",
			Help:      "Current fan speed",
		}, []string{"fan"}),

		FanTarget: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fan",
			Name:      "target_rpm",
			Help:      "Last applied fan target",
		}, []string{"fan"}),

		FanWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fan",
			Name:      "write_failures_total",
			Help:      "Failed fan target applications",
		}, []string{"fan"}),

		Temperature: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "thermal",
			Name:      "temperature_celsius",
			Help:      "Hottest live sensor per tracked component",
		}, []string{"component"}),

		ThermalHeadroomRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "thermal",
			Name:      "headroom_ratio",
			Help:      "Highest temperature to ceiling ratio across components",
		}),
	}
}

func (m *Metrics) ObserveExchange(op, result string) {
	if m == nil {
		return
	}
	m.SMCExchanges.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveTransition(state string, unlocked bool) {
	if m == nil {
		return
	}
	m.ArbiterTransitions.WithLabelValues(state).Inc()
	if unlocked {
		m.ControlUnlocked.Set(1)
	} else {
		m.ControlUnlocked.Set(0)
	}
}

func (m *Metrics) ObserveArbitrationTimeout() {
	if m == nil {
		return
	}
	m.ArbitrationTimeouts.Inc()
}

func (m *Metrics) ObserveStaleRecovery() {
	if m == nil {
		return
	}
	m.StaleRecoveries.Inc()
}

func (m *Metrics) ObserveCommand(command, result string) {
	if m == nil {
		return
	}
	m.DaemonCommands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ObserveFan(fan string, speed float64) {
	if m == nil {
		return
	}
	m.FanSpeed.WithLabelValues(fan).Set(speed)
}

func (m *Metrics) ObserveFanTarget(fan string, target float64) {
	if m == nil {
		return
	}
	m.FanTarget.WithLabelValues(fan).Set(target)
}

func (m *Metrics) ObserveFanWriteFailure(fan string) {
	if m == nil {
		return
	}
	m.FanWriteFailures.WithLabelValues(fan).Inc()
}

func (m *Metrics) ObserveTemperature(component string, celsius float64) {
	if m == nil {
		return
	}
	m.Temperature.WithLabelValues(component).Set(celsius)
}

func (m *Metrics) ObserveHeadroom(ratio float64) {
	if m == nil {
		return
	}
	m.ThermalHeadroomRatio.Set(ratio)
}
