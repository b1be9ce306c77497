// Package metrics declares the Prometheus collectors the node exposes at
// /metrics, one small gauge/counter per component so an operator can see
// OTA, radio, membership, and security engine activity without a
// dashboard.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the node registers, constructed once
// and threaded through component constructors like the logger.
type Registry struct {
	OTAChecks           *prometheus.CounterVec
	OTACurrentVersion   prometheus.Gauge
	RadioAdjustments    prometheus.Counter
	RadioTXPower        prometheus.Gauge
	RadioSpreadingFactor prometheus.Gauge
	MembershipActive    prometheus.Gauge
	MembershipFailed    prometheus.Gauge
	ShardRedistributions prometheus.Counter
	ThreatsDetected     *prometheus.CounterVec
	ImmuneActivations   prometheus.Counter
	ResponsesExecuted   *prometheus.CounterVec
}

// New creates and registers every collector against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default global
// registry.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		OTAChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ota_checks_total",
			Help: "OTA update checks by outcome.",
		}, []string{"outcome"}),
		OTACurrentVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_ota_current_version",
			Help: "Currently committed model version.",
		}),
		RadioAdjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_radio_adjustments_total",
			Help: "Accepted radio parameter adjustments.",
		}),
		RadioTXPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_radio_tx_power_dbm",
			Help: "Current TX power in dBm.",
		}),
		RadioSpreadingFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_radio_spreading_factor",
			Help: "Current LoRa spreading factor.",
		}),
		MembershipActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_membership_active_nodes",
			Help: "Active peer count.",
		}),
		MembershipFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_membership_failed_nodes",
			Help: "Failed peer count.",
		}),
		ShardRedistributions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_shard_redistributions_total",
			Help: "Shard redistribution operations performed.",
		}),
		ThreatsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_threats_detected_total",
			Help: "Threats detected by type.",
		}, []string{"threat_type"}),
		ImmuneActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_immune_activations_total",
			Help: "Immune cell activations.",
		}),
		ResponsesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_responses_executed_total",
			Help: "Responses executed by action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.OTAChecks, m.OTACurrentVersion,
		m.RadioAdjustments, m.RadioTXPower, m.RadioSpreadingFactor,
		m.MembershipActive, m.MembershipFailed,
		m.ShardRedistributions,
		m.ThreatsDetected, m.ImmuneActivations, m.ResponsesExecuted,
	)
	return m
}

// NewForTest builds a Registry against a private registry, safe to call
// repeatedly within a test process without "duplicate metrics collector
// registration" panics.
func NewForTest() *Registry {
	return New(prometheus.NewRegistry())
}
