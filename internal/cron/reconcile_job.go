package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/pkg/logger"
)

const defaultReconcilePageSize = 200

type walletReconciler interface {
	ListWalletIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
	Reconcile(ctx context.Context, walletID uint64) (*ledger.Reconciliation, error)
}

// ReconcileJobParams configure the ledger reconciliation sweep.
type ReconcileJobParams struct {
	Logger   *logger.Logger
	Ledger   walletReconciler
	PageSize int
}

// NewReconcileJob builds the job that checks every wallet's cached balance against
// its posted transactions. Drift is recorded by the ledger itself; the job only
// walks the wallets and reports lookup failures.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultReconcilePageSize
	}
	return &reconcileJob{logg: params.Logger, ledger: params.Ledger, pageSize: pageSize}, nil
}

type reconcileJob struct {
	logg     *logger.Logger
	ledger   walletReconciler
	pageSize int
}

func (j *reconcileJob) Name() string { return "ledger-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	var (
		errs    error
		afterID uint64
		checked int
		drifted int
	)
	for {
		ids, err := j.ledger.ListWalletIDs(ctx, afterID, j.pageSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list wallets after %d: %w", afterID, err))
		}
		for _, id := range ids {
			result, err := j.ledger.Reconcile(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reconcile wallet %d: %w", id, err))
				continue
			}
			checked++
			if !result.Balanced {
				drifted++
			}
		}
		if len(ids) < j.pageSize {
			break
		}
		afterID = ids[len(ids)-1]
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"wallets_checked": checked,
		"wallets_drifted": drifted,
		"failures":        len(multierr.Errors(errs)),
	})
	if drifted > 0 {
		j.logg.Warn(logCtx, "ledger reconciliation found drift")
	} else {
		j.logg.Info(logCtx, "ledger reconciliation complete")
	}
	return errs
}
