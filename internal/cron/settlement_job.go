package cron

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/internal/settlement"
	"github.com/digimarket/marketcore/pkg/logger"
)

const defaultMaxSettlementBatches = 20

type settlementRunner interface {
	Run(ctx context.Context) (*settlement.Summary, error)
}

// SettlementJobParams configure the settlement sweep.
type SettlementJobParams struct {
	Logger     *logger.Logger
	Settlement settlementRunner
	MaxBatches int
}

// NewSettlementJob builds the job that settles completed, unrefunded fulfillments.
// Each batch is its own unit of work; the job keeps sweeping until a batch comes back
// empty or MaxBatches is reached.
func NewSettlementJob(params SettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxSettlementBatches
	}
	return &settlementJob{
		logg:       params.Logger,
		settlement: params.Settlement,
		maxBatches: maxBatches,
	}, nil
}

type settlementJob struct {
	logg       *logger.Logger
	settlement settlementRunner
	maxBatches int
}

func (j *settlementJob) Name() string { return "settlement-sweep" }

func (j *settlementJob) Run(ctx context.Context) error {
	total := decimal.Zero
	batches := 0
	settled := 0
	for batches < j.maxBatches {
		summary, err := j.settlement.Run(ctx)
		if err != nil {
			return fmt.Errorf("settlement batch %d: %w", batches+1, err)
		}
		if summary == nil || summary.Empty() {
			break
		}
		batches++
		settled += len(summary.FulfillmentIDs)
		total = total.Add(summary.TotalAmount)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batches":      batches,
		"fulfillments": settled,
		"total":        total.StringFixed(2),
	})
	if batches == j.maxBatches {
		j.logg.Warn(logCtx, "settlement sweep stopped at batch limit")
		return nil
	}
	j.logg.Info(logCtx, "settlement sweep complete")
	return nil
}
