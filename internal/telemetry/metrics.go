package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      *prometheus.CounterVec
	StreamDisconnects prometheus.Counter
	LedgerErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thinkrelay_request_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"mode", "status", "state"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thinkrelay_request_duration_ms",
			Help:    "Total request duration in milliseconds across both stages.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
		}, []string{"mode"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thinkrelay_tokens_total",
			Help: "Total tokens reported by upstream providers.",
		}, []string{"provider", "model", "direction"}),

		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thinkrelay_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"provider", "model"}),

		StreamDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "thinkrelay_stream_disconnects_total",
			Help: "Streaming requests abandoned by the client before completion.",
		}),

		LedgerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thinkrelay_ledger_errors_total",
			Help: "Failed writes to the spend ledger.",
		}, []string{"backend"}),
	}
}

// StageUsage is the accounting of one stage.
type StageUsage struct {
	Provider string
	Model    string
	// Tokens maps a direction such as "input" or "cache_read" to a count.
	Tokens  map[string]int
	CostUSD float64
}

// RequestLabels holds the values for recording a finished request.
type RequestLabels struct {
	Mode       string
	Status     string
	State      string
	DurationMs float64
	Stages     []StageUsage
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Mode, labels.Status, labels.State).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Mode).Observe(labels.DurationMs)

	for _, st := range labels.Stages {
		for direction, n := range st.Tokens {
			if n > 0 {
				m.TokensTotal.WithLabelValues(st.Provider, st.Model, direction).Add(float64(n))
			}
		}
		if st.CostUSD > 0 {
			m.CostUSDTotal.WithLabelValues(st.Provider, st.Model).Add(st.CostUSD)
		}
	}
}

func (m *Metrics) RecordDisconnect() {
	m.StreamDisconnects.Inc()
}

func (m *Metrics) RecordLedgerError(backend string) {
	m.LedgerErrorsTotal.WithLabelValues(backend).Inc()
}
