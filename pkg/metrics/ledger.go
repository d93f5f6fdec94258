package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger mutation outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeNoop        = "noop"
	OutcomeRejected    = "rejected"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnavailable = "unavailable"
)

// LedgerMetrics tracks balance mutations and reconciliation drift.
type LedgerMetrics struct {
	mutations *prometheus.CounterVec
	retries   prometheus.Counter
	credits   *prometheus.CounterVec
	drift     prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors on reg. A nil registerer yields no-op metrics.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Ledger mutations by entry kind and outcome.",
	}, []string{"kind", "outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "conflict_retries_total",
		Help:      "Transactions replayed after a serialization conflict.",
	})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "credits_moved_total",
		Help:      "Absolute credits moved by committed entries, by kind.",
	}, []string{"kind"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "drifted_accounts",
		Help:      "Accounts whose balance differs from baseline plus entry sum at the last reconciliation.",
	})
	reg.MustRegister(mutations, retries, credits, drift)
	return &LedgerMetrics{mutations: mutations, retries: retries, credits: credits, drift: drift}
}

// ObserveMutation counts one mutation attempt outcome.
func (m *LedgerMetrics) ObserveMutation(kind, outcome string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// AddCredits records the absolute delta of a committed entry.
func (m *LedgerMetrics) AddCredits(kind string, delta int64) {
	if m == nil || m.credits == nil {
		return
	}
	if delta < 0 {
		delta = -delta
	}
	m.credits.WithLabelValues(normalizeLabel(kind)).Add(float64(delta))
}

// IncRetry counts a conflict replay.
func (m *LedgerMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// SetDrift publishes the number of accounts failing reconciliation.
func (m *LedgerMetrics) SetDrift(accounts int) {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Set(float64(accounts))
}
