// Package metrics provides Prometheus metrics for wallet sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// WalletMetrics collects session, signing and contract metrics on its own registry.
type WalletMetrics struct {
	registry *prometheus.Registry

	Activations        *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec
	Deactivations      *prometheus.CounterVec
	TransientRetries   *prometheus.CounterVec
	Signatures         *prometheus.CounterVec
	ContractCalls      *prometheus.CounterVec
	Connected          *prometheus.GaugeVec
	Balance            prometheus.Gauge
}

func NewWalletMetrics() *WalletMetrics {
	m := &WalletMetrics{
		registry: prometheus.NewRegistry(),

		Activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "use_wallet_activations_total",
				Help: "Connector activations by outcome",
			},
			[]string{"connector", "status"},
		),
		ActivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "use_wallet_activation_duration_seconds",
				Help:    "Time from activate to connected or failed",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~5min
			},
			[]string{"connector"},
		),
		Deactivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "use_wallet_deactivations_total",
				Help: "Connector teardowns",
			},
			[]string{"connector"},
		),
		TransientRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "use_wallet_transient_retries_total",
				Help: "Automatic re-activations after a chain disconnect",
			},
			[]string{"connector"},
		),
		Signatures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "use_wallet_signatures_total",
				Help: "Message signing requests by outcome",
			},
			[]string{"connector", "status"},
		),
		ContractCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "use_wallet_contract_calls_total",
				Help: "Demo contract calls by outcome",
			},
			[]string{"contract", "method", "status"},
		),
		Connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "use_wallet_connected",
				Help: "1 for the connector holding the session",
			},
			[]string{"connector"},
		),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "use_wallet_balance_ether",
			Help: "Native balance of the connected account",
		}),
	}
	m.registry.MustRegister(
		m.Activations,
		m.ActivationDuration,
		m.Deactivations,
		m.TransientRetries,
		m.Signatures,
		m.ContractCalls,
		m.Connected,
		m.Balance,
	)
	return m
}

// Registry returns the registry to expose.
func (m *WalletMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *WalletMetrics) RecordActivation(connector string, took time.Duration, err error) {
	m.Activations.WithLabelValues(connector, status(err)).Inc()
	m.ActivationDuration.WithLabelValues(connector).Observe(took.Seconds())
}

func (m *WalletMetrics) RecordDeactivation(connector string) {
	m.Deactivations.WithLabelValues(connector).Inc()
	m.Connected.WithLabelValues(connector).Set(0)
}

func (m *WalletMetrics) RecordConnected(connector string) {
	m.Connected.WithLabelValues(connector).Set(1)
}

func (m *WalletMetrics) RecordTransientRetry(connector string) {
	m.TransientRetries.WithLabelValues(connector).Inc()
}

func (m *WalletMetrics) RecordSignature(connector string, err error) {
	m.Signatures.WithLabelValues(connector, status(err)).Inc()
}

func (m *WalletMetrics) RecordContractCall(contract, method string, err error) {
	m.ContractCalls.WithLabelValues(contract, method, status(err)).Inc()
}

func (m *WalletMetrics) UpdateBalance(ether decimal.Decimal) {
	f, _ := ether.Float64()
	m.Balance.Set(f)
}
