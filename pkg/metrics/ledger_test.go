package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func TestLedgerMetricsCountsPostingsAndRaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.ObservePosting("purchase", "debit", decimal.RequireFromString("24.00"))
	m.ObservePosting("purchase", "debit", decimal.RequireFromString("1.50"))
	m.IncRace("refund.approve")
	m.IncReplay("checkout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "marketcore_ledger_postings_total", "type", "purchase"); err != nil || got != 2 {
		t.Fatalf("expected 2 purchase postings, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "marketcore_ledger_posted_amount_total", "direction", "debit"); err != nil || got != 25.5 {
		t.Fatalf("expected 25.5 posted, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "marketcore_ledger_constraint_races_total", "operation", "refund.approve"); err != nil || got != 1 {
		t.Fatalf("expected one race, got %f err=%v", got, err)
	}
}
