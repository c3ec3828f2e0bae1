package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

const (
	orderExpirationDays  = 10
	orderExpiryBatchSize = 200
)

// OrderExpiryJobParams configure the unpaid order sweep.
type OrderExpiryJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Orders orders.Repository
	Events events.Recorder
	Audit  audit.Recorder
	// Days an order may stay in pending_payment; defaults to orderExpirationDays.
	Days int
}

// NewOrderExpiryJob builds the job that cancels orders whose payment never went
// through. No money moved for such orders, so cancelling touches no wallet.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	days := params.Days
	if days <= 0 {
		days = orderExpirationDays
	}
	var recorder events.Recorder = events.Nop{}
	if params.Events != nil {
		recorder = params.Events
	}
	var auditor audit.Recorder = audit.Nop{}
	if params.Audit != nil {
		auditor = params.Audit
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		db:     params.DB,
		orders: params.Orders,
		events: recorder,
		audit:  auditor,
		days:   days,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	db     txRunner
	orders orders.Repository
	events events.Recorder
	audit  audit.Recorder
	days   int
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * 24 * time.Hour)
	stale, err := j.orders.ListPendingBefore(ctx, cutoff, orderExpiryBatchSize)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}
	var errs error
	expired := 0
	for _, order := range stale {
		changed, err := j.expireOrder(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %d: %w", order.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"expired":    expired,
	})
	j.logg.Info(logCtx, "order expiry loop complete")
	return errs
}

// expireOrder re-reads the order under lock; a payment that landed after the query
// wins and the order is left alone.
func (j *orderExpiryJob) expireOrder(ctx context.Context, order models.Order) (bool, error) {
	changed := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.orders.WithTx(tx)
		current, err := repo.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusPendingPayment {
			return nil
		}
		now := j.now().UTC()
		meta := models.CloneMeta(current.Meta)
		meta["expired_at"] = now.Format(time.RFC3339)
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status": enums.OrderStatusCancelled,
			"meta":   meta,
		}); err != nil {
			return err
		}
		ref := types.OrderRef(order.ID)
		j.events.RecordAsync(ctx, tx, events.Event{
			Type:   enums.EventOrderExpired,
			Entity: ref,
			Payload: map[string]any{
				"user_id":      current.UserID,
				"order_number": current.OrderNumber,
				"pending_days": j.days,
			},
		})
		j.audit.Record(ctx, tx, audit.Entry{
			Actor:   types.SystemActor(),
			Action:  "order.expired",
			Subject: ref,
			Properties: map[string]any{
				"from": enums.OrderStatusPendingPayment,
				"to":   enums.OrderStatusCancelled,
			},
		})
		changed = true
		return nil
	})
	return changed, err
}
