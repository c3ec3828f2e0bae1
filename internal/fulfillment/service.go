package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/notifications"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

// Service drives the fulfillment state machine. Every transition locks the
// fulfillment, its order item, the item's sibling fulfillments and the order, in
// that order, and re-derives the item and order status before committing.
type Service interface {
	Start(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*Result, error)
	Complete(ctx context.Context, fulfillmentID uint64, actor types.Actor, delivered map[string]any) (*Result, error)
	Fail(ctx context.Context, fulfillmentID uint64, actor types.Actor, reason string) (*Result, error)
	Retry(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*Result, error)

	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.Fulfillment, error)
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID uint64) ([]models.Fulfillment, error)
	Find(ctx context.Context, fulfillmentID uint64) (*models.Fulfillment, error)
	Lock(ctx context.Context, tx *gorm.DB, fulfillmentID uint64) (*models.Fulfillment, error)
	Logs(ctx context.Context, fulfillmentID uint64) ([]models.FulfillmentLog, error)
	CompletedUnsettled(ctx context.Context, tx *gorm.DB, afterID uint64, limit int) ([]models.Fulfillment, error)
	MarkRefund(ctx context.Context, tx *gorm.DB, f *models.Fulfillment, mark RefundMark) error
}

// Notifier delivers user notifications and list-changed broadcasts.
type Notifier interface {
	Notify(ctx context.Context, userID uint64, kind enums.NotificationType, payload map[string]any)
	Broadcast(ctx context.Context, channel string, payload map[string]any)
}

// RefundChecker reports refund credits that are still pending or already posted.
type RefundChecker interface {
	ActiveRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error)
}

// LoyaltyRecomputer refreshes a customer's tier after a completed delivery.
type LoyaltyRecomputer interface {
	Recompute(ctx context.Context, userID uint64) (*models.LoyaltyAccount, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wire the fulfillment service. Notifier, Loyalty, Audit and Events
// are optional.
type ServiceParams struct {
	Repo     Repository
	Orders   orders.Repository
	Refunds  RefundChecker
	Tx       txRunner
	Notifier Notifier
	Loyalty  LoyaltyRecomputer
	Audit    audit.Recorder
	Events   events.Recorder
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	orders   orders.Repository
	refunds  RefundChecker
	tx       txRunner
	notifier Notifier
	loyalty  LoyaltyRecomputer
	audit    audit.Recorder
	events   events.Recorder
	logg     *logger.Logger
	now      func() time.Time
}

// Result is the outcome of a transition. Changed is false when the call was an
// idempotent re-entry and nothing was written.
type Result struct {
	Fulfillment *models.Fulfillment   `json:"fulfillment"`
	ItemStatus  enums.OrderItemStatus `json:"item_status"`
	OrderStatus enums.OrderStatus     `json:"order_status"`
	Changed     bool                  `json:"changed"`
}

// Refund states stamped into meta.refund.
const (
	RefundRequested = "requested"
	RefundApproved  = "approved"
	RefundRejected  = "rejected"
)

// RefundMark stamps refund progress onto a fulfillment.
type RefundMark struct {
	State         string
	TransactionID uint64
	Actor         types.Actor
	Reason        string
}

// NewService wires the fulfillment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund checker required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	recorder := params.Events
	if recorder == nil {
		recorder = events.Nop{}
	}
	auditor := params.Audit
	if auditor == nil {
		auditor = audit.Nop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		refunds:  params.Refunds,
		tx:       params.Tx,
		notifier: params.Notifier,
		loyalty:  params.Loyalty,
		audit:    auditor,
		events:   recorder,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// locked is the row set held for the duration of one transition.
type locked struct {
	fulfillment *models.Fulfillment
	item        *models.OrderItem
	siblings    []models.Fulfillment
	order       *models.Order
}

type transition struct {
	action string
	target enums.FulfillmentStatus
	// statuses answered as a no-op instead of a conflict
	settled []enums.FulfillmentStatus
	guard   func(ctx context.Context, tx *gorm.DB, rows *locked) error
	apply   func(f *models.Fulfillment, now time.Time)
	level   enums.LogLevel
	message func(f *models.Fulfillment) string
	logCtx  map[string]any
	after   func(ctx context.Context, tx *gorm.DB, rows *locked)
}

func (s *service) Start(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*Result, error) {
	return s.run(ctx, fulfillmentID, actor, transition{
		action:  "start",
		target:  enums.FulfillmentStatusProcessing,
		settled: []enums.FulfillmentStatus{enums.FulfillmentStatusProcessing},
		apply: func(f *models.Fulfillment, now time.Time) {
			f.Attempts++
			f.LastError = nil
			if f.ProcessedAt == nil {
				f.ProcessedAt = &now
			}
		},
		level: enums.LogLevelInfo,
		message: func(f *models.Fulfillment) string {
			return fmt.Sprintf("fulfillment started (attempt %d)", f.Attempts)
		},
		after: func(ctx context.Context, tx *gorm.DB, rows *locked) {
			f := rows.fulfillment
			s.events.RecordAsync(ctx, tx, events.Event{
				Type:    enums.EventFulfillmentStarted,
				Entity:  types.FulfillmentRef(f.ID),
				Payload: fulfillmentPayload(rows),
				Suffix:  "attempt-" + strconv.Itoa(f.Attempts),
			})
			s.broadcastAfterCommit(tx, rows)
		},
	})
}

// Complete records a delivery. A failed fulfillment may still complete unless a
// refund for it is in progress.
func (s *service) Complete(ctx context.Context, fulfillmentID uint64, actor types.Actor, delivered map[string]any) (*Result, error) {
	return s.run(ctx, fulfillmentID, actor, transition{
		action:  "complete",
		target:  enums.FulfillmentStatusCompleted,
		settled: []enums.FulfillmentStatus{enums.FulfillmentStatusCompleted, enums.FulfillmentStatusCancelled},
		guard: func(ctx context.Context, tx *gorm.DB, rows *locked) error {
			if rows.fulfillment.Status != enums.FulfillmentStatusFailed {
				return nil
			}
			return s.ensureNoRefund(ctx, tx, rows)
		},
		apply: func(f *models.Fulfillment, now time.Time) {
			f.LastError = nil
			f.CompletedAt = &now
			if f.ProcessedAt == nil {
				f.ProcessedAt = &now
			}
			if len(delivered) > 0 {
				payload := map[string]any{}
				if existing, ok := f.Meta["delivered_payload"].(map[string]any); ok {
					for k, v := range existing {
						payload[k] = v
					}
				}
				for k, v := range delivered {
					payload[k] = v
				}
				f.Meta["delivered_payload"] = payload
			}
		},
		level:   enums.LogLevelInfo,
		message: func(*models.Fulfillment) string { return "fulfillment completed" },
		after: func(ctx context.Context, tx *gorm.DB, rows *locked) {
			f := rows.fulfillment
			ownerID := rows.order.UserID
			payload := fulfillmentPayload(rows)
			s.events.RecordAsync(ctx, tx, events.Event{
				Type:    enums.EventFulfillmentCompleted,
				Entity:  types.FulfillmentRef(f.ID),
				Payload: payload,
			})
			_ = db.AfterCommit(tx, func(hookCtx context.Context) {
				if s.loyalty != nil {
					if _, err := s.loyalty.Recompute(hookCtx, ownerID); err != nil {
						s.logg.Error(s.logg.WithField(hookCtx, "user_id", ownerID), "recompute loyalty tier", err)
					}
				}
				if s.notifier != nil {
					s.notifier.Notify(hookCtx, ownerID, enums.NotificationFulfillmentDone, payload)
				}
			})
			s.broadcastAfterCommit(tx, rows)
		},
	})
}

// Fail records a provider failure. reason is stored as last_error.
func (s *service) Fail(ctx context.Context, fulfillmentID uint64, actor types.Actor, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "provider reported failure"
	}
	return s.run(ctx, fulfillmentID, actor, transition{
		action: "fail",
		target: enums.FulfillmentStatusFailed,
		settled: []enums.FulfillmentStatus{
			enums.FulfillmentStatusFailed,
			enums.FulfillmentStatusCompleted,
			enums.FulfillmentStatusCancelled,
		},
		apply: func(f *models.Fulfillment, now time.Time) {
			f.LastError = &reason
			if f.ProcessedAt == nil {
				f.ProcessedAt = &now
			}
		},
		level:   enums.LogLevelError,
		message: func(*models.Fulfillment) string { return "fulfillment failed: " + reason },
		logCtx:  map[string]any{"reason": reason},
		after: func(ctx context.Context, tx *gorm.DB, rows *locked) {
			f := rows.fulfillment
			ownerID := rows.order.UserID
			payload := fulfillmentPayload(rows)
			payload["reason"] = reason
			s.events.RecordAsync(ctx, tx, events.Event{
				Type:     enums.EventFulfillmentFailed,
				Entity:   types.FulfillmentRef(f.ID),
				Severity: enums.SeverityWarning,
				Payload:  payload,
				Suffix:   "retry-" + strconv.Itoa(f.RetryCount()),
			})
			if s.notifier != nil {
				_ = db.AfterCommit(tx, func(hookCtx context.Context) {
					s.notifier.Notify(hookCtx, ownerID, enums.NotificationFulfillmentFailed, payload)
				})
			}
			s.broadcastAfterCommit(tx, rows)
		},
	})
}

// Retry re-queues a failed fulfillment on the same row. It is refused once the
// order is refunded or while a refund for the fulfillment or its item is active.
func (s *service) Retry(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*Result, error) {
	return s.run(ctx, fulfillmentID, actor, transition{
		action:  "retry",
		target:  enums.FulfillmentStatusQueued,
		settled: []enums.FulfillmentStatus{enums.FulfillmentStatusQueued},
		guard:   s.ensureNoRefund,
		apply: func(f *models.Fulfillment, _ time.Time) {
			f.Meta["retry_count"] = f.RetryCount() + 1
			f.LastError = nil
			f.ProcessedAt = nil
			f.CompletedAt = nil
		},
		level: enums.LogLevelWarning,
		message: func(f *models.Fulfillment) string {
			return fmt.Sprintf("fulfillment re-queued (retry %d)", f.RetryCount())
		},
		after: func(ctx context.Context, tx *gorm.DB, rows *locked) {
			f := rows.fulfillment
			s.events.RecordAsync(ctx, tx, events.Event{
				Type:    enums.EventFulfillmentRetried,
				Entity:  types.FulfillmentRef(f.ID),
				Payload: fulfillmentPayload(rows),
				Suffix:  "retry-" + strconv.Itoa(f.RetryCount()),
			})
			s.broadcastAfterCommit(tx, rows)
		},
	})
}

func (s *service) ensureNoRefund(ctx context.Context, tx *gorm.DB, rows *locked) error {
	if rows.order.Status == enums.OrderStatusRefunded {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has been refunded")
	}
	active, err := s.refunds.ActiveRefunds(ctx, tx,
		types.FulfillmentRef(rows.fulfillment.ID),
		types.OrderItemRef(rows.item.ID),
	)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "a refund for this fulfillment is in progress").
			WithDetails(map[string]any{"transaction_id": active[0].ID})
	}
	return nil
}

func (s *service) run(ctx context.Context, fulfillmentID uint64, actor types.Actor, step transition) (*Result, error) {
	if !actor.Privileged() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may change fulfillment state")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"fulfillment_id": fulfillmentID, "action": step.action})

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.lockRows(ctx, tx, fulfillmentID)
		if err != nil {
			return err
		}
		f := rows.fulfillment
		for _, status := range step.settled {
			if f.Status == status {
				result = &Result{Fulfillment: f, ItemStatus: rows.item.Status, OrderStatus: rows.order.Status}
				return nil
			}
		}
		if !f.Status.CanTransitionTo(step.target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s a %s fulfillment", step.action, f.Status)).
				WithDetails(map[string]any{"status": f.Status, "target": step.target})
		}
		if step.guard != nil {
			if err := step.guard(ctx, tx, rows); err != nil {
				return err
			}
		}

		from := f.Status
		f.Meta = models.CloneMeta(f.Meta)
		f.Status = step.target
		step.apply(f, s.now().UTC())

		repo := s.repo.WithTx(tx)
		if err := repo.Update(ctx, f.ID, map[string]any{
			"status":       f.Status,
			"attempts":     f.Attempts,
			"last_error":   f.LastError,
			"processed_at": f.ProcessedAt,
			"completed_at": f.CompletedAt,
			"meta":         f.Meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update fulfillment")
		}

		itemStatus, orderStatus, err := s.propagate(ctx, tx, rows)
		if err != nil {
			return err
		}

		logCtx := map[string]any{"from": from, "to": f.Status, "actor": actor.LogFields()}
		for k, v := range step.logCtx {
			logCtx[k] = v
		}
		if err := repo.AppendLog(ctx, &models.FulfillmentLog{
			FulfillmentID: f.ID,
			Level:         step.level,
			Message:       step.message(f),
			Context:       logCtx,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append fulfillment log")
		}
		s.audit.Record(ctx, tx, audit.Entry{
			Actor:      actor,
			Action:     "fulfillment." + step.action,
			Subject:    types.FulfillmentRef(f.ID),
			Properties: map[string]any{"from": from, "to": f.Status, "order_id": f.OrderID},
		})
		if step.after != nil {
			step.after(ctx, tx, rows)
		}

		result = &Result{Fulfillment: f, ItemStatus: itemStatus, OrderStatus: orderStatus, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"status":       result.Fulfillment.Status,
			"item_status":  result.ItemStatus,
			"order_status": result.OrderStatus,
		}), "fulfillment transitioned")
	}
	return result, nil
}

func (s *service) lockRows(ctx context.Context, tx *gorm.DB, fulfillmentID uint64) (*locked, error) {
	repo := s.repo.WithTx(tx)
	ordersRepo := s.orders.WithTx(tx)

	f, err := repo.Lock(ctx, fulfillmentID)
	if err != nil {
		return nil, mapLookupErr(err, "fulfillment")
	}
	item, err := ordersRepo.LockOrderItem(ctx, f.OrderItemID)
	if err != nil {
		return nil, mapLookupErr(err, "order item")
	}
	siblings, err := repo.LockByItem(ctx, item.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sibling fulfillments")
	}
	order, err := ordersRepo.LockOrder(ctx, f.OrderID)
	if err != nil {
		return nil, mapLookupErr(err, "order")
	}
	return &locked{fulfillment: f, item: item, siblings: siblings, order: order}, nil
}

// propagate re-derives the item status from its fulfillments and the order status
// from its items, writing only what changed.
func (s *service) propagate(ctx context.Context, tx *gorm.DB, rows *locked) (enums.OrderItemStatus, enums.OrderStatus, error) {
	statuses := make([]enums.FulfillmentStatus, 0, len(rows.siblings))
	for _, sibling := range rows.siblings {
		if sibling.ID == rows.fulfillment.ID {
			statuses = append(statuses, rows.fulfillment.Status)
			continue
		}
		statuses = append(statuses, sibling.Status)
	}
	ordersRepo := s.orders.WithTx(tx)

	itemStatus := AggregateItemStatus(statuses)
	if itemStatus != rows.item.Status {
		if err := ordersRepo.UpdateOrderItem(ctx, rows.item.ID, map[string]any{"status": itemStatus}); err != nil {
			return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order item status")
		}
		rows.item.Status = itemStatus
	}

	items, err := ordersRepo.ListItemsByOrder(ctx, rows.order.ID)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	itemStatuses := make([]enums.OrderItemStatus, 0, len(items))
	for _, item := range items {
		if item.ID == rows.item.ID {
			itemStatuses = append(itemStatuses, itemStatus)
			continue
		}
		itemStatuses = append(itemStatuses, item.Status)
	}
	orderStatus := orders.DeriveOrderStatus(rows.order.Status, itemStatuses)
	if orderStatus != rows.order.Status {
		if err := ordersRepo.UpdateOrder(ctx, rows.order.ID, map[string]any{"status": orderStatus}); err != nil {
			return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		rows.order.Status = orderStatus
	}
	return itemStatus, orderStatus, nil
}

func (s *service) broadcastAfterCommit(tx *gorm.DB, rows *locked) {
	if s.notifier == nil {
		return
	}
	payload := fulfillmentPayload(rows)
	ownerID := rows.order.UserID
	_ = db.AfterCommit(tx, func(hookCtx context.Context) {
		s.notifier.Broadcast(hookCtx, notifications.ChannelFulfillments, payload)
		s.notifier.Broadcast(hookCtx, notifications.UserChannel(ownerID), payload)
	})
}

func fulfillmentPayload(rows *locked) map[string]any {
	return map[string]any{
		"fulfillment_id": rows.fulfillment.ID,
		"order_id":       rows.order.ID,
		"order_item_id":  rows.item.ID,
		"status":         rows.fulfillment.Status,
		"item_status":    rows.item.Status,
		"order_status":   rows.order.Status,
	}
}

// CreateForOrder queues one fulfillment per order item. Items that already have a
// fulfillment are left alone, so the call is safe to repeat.
func (s *service) CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.Fulfillment, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	items, err := s.orders.WithTx(tx).ListItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	repo := s.repo.WithTx(tx)
	out := make([]models.Fulfillment, 0, len(items))
	for _, item := range items {
		f, created, err := repo.FirstOrCreateForItem(ctx, item)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fulfillment")
		}
		out = append(out, *f)
		if !created {
			continue
		}
		if err := repo.AppendLog(ctx, &models.FulfillmentLog{
			FulfillmentID: f.ID,
			Level:         enums.LogLevelInfo,
			Message:       "fulfillment queued",
			Context:       map[string]any{"order_id": order.ID, "order_item_id": item.ID, "provider": item.Provider},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append fulfillment log")
		}
		s.events.RecordAsync(ctx, tx, events.Event{
			Type:   enums.EventFulfillmentQueued,
			Entity: types.FulfillmentRef(f.ID),
			Payload: map[string]any{
				"order_id":      order.ID,
				"order_item_id": item.ID,
				"provider":      item.Provider,
			},
		})
	}
	return out, nil
}

func (s *service) ListByOrder(ctx context.Context, tx *gorm.DB, orderID uint64) ([]models.Fulfillment, error) {
	rows, err := s.repo.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fulfillments")
	}
	return rows, nil
}

func (s *service) Find(ctx context.Context, fulfillmentID uint64) (*models.Fulfillment, error) {
	f, err := s.repo.Find(ctx, fulfillmentID)
	if err != nil {
		return nil, mapLookupErr(err, "fulfillment")
	}
	return f, nil
}

func (s *service) Lock(ctx context.Context, tx *gorm.DB, fulfillmentID uint64) (*models.Fulfillment, error) {
	f, err := s.repo.WithTx(tx).Lock(ctx, fulfillmentID)
	if err != nil {
		return nil, mapLookupErr(err, "fulfillment")
	}
	return f, nil
}

func (s *service) Logs(ctx context.Context, fulfillmentID uint64) ([]models.FulfillmentLog, error) {
	if _, err := s.Find(ctx, fulfillmentID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListLogs(ctx, fulfillmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fulfillment logs")
	}
	return rows, nil
}

func (s *service) CompletedUnsettled(ctx context.Context, tx *gorm.DB, afterID uint64, limit int) ([]models.Fulfillment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.repo.WithTx(tx).ListCompletedUnsettled(ctx, afterID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement candidates")
	}
	return rows, nil
}

// MarkRefund writes meta.refund and a log entry. The caller must hold the row lock.
func (s *service) MarkRefund(ctx context.Context, tx *gorm.DB, f *models.Fulfillment, mark RefundMark) error {
	if f == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment required")
	}
	refund := map[string]any{
		"status":         mark.State,
		"transaction_id": mark.TransactionID,
		"updated_at":     s.now().UTC().Format(time.RFC3339),
	}
	if mark.Reason != "" {
		refund["reason"] = mark.Reason
	}
	meta := models.CloneMeta(f.Meta)
	meta["refund"] = refund

	repo := s.repo.WithTx(tx)
	if err := repo.Update(ctx, f.ID, map[string]any{"meta": meta}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp refund on fulfillment")
	}
	f.Meta = meta

	level := enums.LogLevelInfo
	if mark.State == RefundRejected {
		level = enums.LogLevelWarning
	}
	if err := repo.AppendLog(ctx, &models.FulfillmentLog{
		FulfillmentID: f.ID,
		Level:         level,
		Message:       "refund " + mark.State,
		Context: map[string]any{
			"transaction_id": mark.TransactionID,
			"reason":         mark.Reason,
			"actor":          mark.Actor.LogFields(),
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append fulfillment log")
	}
	return nil
}

func mapLookupErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
