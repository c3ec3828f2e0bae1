package cron

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/multierr"

	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/pkg/logger"
)

type fakeReconciler struct {
	ids        []uint64
	failing    map[uint64]bool
	drifted    map[uint64]bool
	pages      int
	reconciled []uint64
}

func (f *fakeReconciler) ListWalletIDs(_ context.Context, afterID uint64, limit int) ([]uint64, error) {
	f.pages++
	var out []uint64
	for _, id := range f.ids {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeReconciler) Reconcile(_ context.Context, walletID uint64) (*ledger.Reconciliation, error) {
	if f.failing[walletID] {
		return nil, errors.New("wallet vanished")
	}
	f.reconciled = append(f.reconciled, walletID)
	return &ledger.Reconciliation{WalletID: walletID, Balanced: !f.drifted[walletID]}, nil
}

func TestReconcileJobWalksEveryWallet(t *testing.T) {
	fake := &fakeReconciler{ids: []uint64{1, 2, 3, 4, 5}, drifted: map[uint64]bool{3: true}}
	job, err := NewReconcileJob(ReconcileJobParams{Logger: logger.Nop(), Ledger: fake, PageSize: 2})
	if err != nil {
		t.Fatalf("NewReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.reconciled) != 5 {
		t.Fatalf("expected 5 wallets reconciled, got %v", fake.reconciled)
	}
	if fake.pages != 3 {
		t.Fatalf("expected 3 pages, got %d", fake.pages)
	}
}

func TestReconcileJobCollectsFailures(t *testing.T) {
	fake := &fakeReconciler{ids: []uint64{1, 2, 3}, failing: map[uint64]bool{1: true, 3: true}}
	job, _ := NewReconcileJob(ReconcileJobParams{Logger: logger.Nop(), Ledger: fake})
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 failures, got %d", got)
	}
	if len(fake.reconciled) != 1 || fake.reconciled[0] != 2 {
		t.Fatalf("expected the healthy wallet reconciled, got %v", fake.reconciled)
	}
}
