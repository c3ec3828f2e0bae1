package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics tracks postings and the idempotency paths of the wallet ledger.
type LedgerMetrics struct {
	postings *prometheus.CounterVec
	amount   *prometheus.CounterVec
	replays  *prometheus.CounterVec
	races    *prometheus.CounterVec
	drift    prometheus.Counter
}

// NewLedgerMetrics registers ledger metrics on reg. A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Posted wallet transactions by type and direction.",
		}, []string{"type", "direction"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "posted_amount_total",
			Help:      "Sum of posted amounts by type and direction.",
		}, []string{"type", "direction"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "idempotent_replays_total",
			Help:      "Operations answered from an existing posting.",
		}, []string{"operation"}),
		races: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "constraint_races_total",
			Help:      "Unique-key races resolved by returning the winning row.",
		}, []string{"operation"}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_drift_total",
			Help:      "Wallets whose cached balance disagreed with their postings.",
		}),
	}
	reg.MustRegister(m.postings, m.amount, m.replays, m.races, m.drift)
	return m
}

// ObservePosting records one posted transaction.
func (m *LedgerMetrics) ObservePosting(txType, direction string, amount decimal.Decimal) {
	if m == nil || m.postings == nil {
		return
	}
	m.postings.WithLabelValues(normalizeLabel(txType), normalizeLabel(direction)).Inc()
	m.amount.WithLabelValues(normalizeLabel(txType), normalizeLabel(direction)).Add(amount.InexactFloat64())
}

// IncReplay counts an idempotent replay for operation.
func (m *LedgerMetrics) IncReplay(operation string) {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncRace counts a resolved unique-key race for operation.
func (m *LedgerMetrics) IncRace(operation string) {
	if m == nil || m.races == nil {
		return
	}
	m.races.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncDrift counts a wallet found out of balance.
func (m *LedgerMetrics) IncDrift() {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Inc()
}
