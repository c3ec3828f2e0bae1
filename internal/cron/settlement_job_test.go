package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/internal/settlement"
	"github.com/digimarket/marketcore/pkg/logger"
)

type scriptedSettlement struct {
	batches []*settlement.Summary
	err     error
	calls   int
}

func (s *scriptedSettlement) Run(context.Context) (*settlement.Summary, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return &settlement.Summary{TotalAmount: decimal.Zero}, nil
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next, nil
}

func batch(id uint64, total string, fulfillments ...uint64) *settlement.Summary {
	return &settlement.Summary{
		SettlementID:   id,
		TotalAmount:    decimal.RequireFromString(total),
		FulfillmentIDs: fulfillments,
	}
}

func TestSettlementJobSweepsUntilEmpty(t *testing.T) {
	runner := &scriptedSettlement{batches: []*settlement.Summary{batch(1, "4.00", 1, 2), batch(2, "2.00", 3)}}
	job, err := NewSettlementJob(SettlementJobParams{Logger: logger.Nop(), Settlement: runner})
	if err != nil {
		t.Fatalf("NewSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("expected 3 runs (two batches and the empty probe), got %d", runner.calls)
	}
}

func TestSettlementJobStopsAtBatchLimit(t *testing.T) {
	runner := &scriptedSettlement{batches: []*settlement.Summary{batch(1, "1.00", 1), batch(2, "1.00", 2), batch(3, "1.00", 3)}}
	job, _ := NewSettlementJob(SettlementJobParams{Logger: logger.Nop(), Settlement: runner, MaxBatches: 2})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 runs, got %d", runner.calls)
	}
}

func TestSettlementJobPropagatesErrors(t *testing.T) {
	runner := &scriptedSettlement{err: errors.New("db down")}
	job, _ := NewSettlementJob(SettlementJobParams{Logger: logger.Nop(), Settlement: runner})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
