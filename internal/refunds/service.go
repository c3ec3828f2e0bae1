// Package refunds implements the request, approve and reject workflow for failed
// deliveries. Money only moves on approval, through the ledger.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/fulfillment"
	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/internal/notifications"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/metrics"
	"github.com/digimarket/marketcore/pkg/money"
	"github.com/digimarket/marketcore/pkg/types"
)

// Service is the refund workflow.
type Service interface {
	Request(ctx context.Context, orderItemID uint64, actor types.Actor) (*models.WalletTransaction, error)
	Approve(ctx context.Context, txnID uint64, admin types.Actor) (*models.WalletTransaction, error)
	Reject(ctx context.Context, txnID uint64, admin types.Actor, reason string) (*models.WalletTransaction, error)
}

// Notifier delivers user notifications and list-changed broadcasts.
type Notifier interface {
	Notify(ctx context.Context, userID uint64, kind enums.NotificationType, payload map[string]any)
	Broadcast(ctx context.Context, channel string, payload map[string]any)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wire the refund service. Notifier, Audit, Events and Metrics are optional.
type ServiceParams struct {
	Tx           txRunner
	Ledger       ledger.Service
	Orders       orders.Repository
	Fulfillments fulfillment.Service
	Notifier     Notifier
	Audit        audit.Recorder
	Events       events.Recorder
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
}

type service struct {
	tx           txRunner
	ledger       ledger.Service
	orders       orders.Repository
	fulfillments fulfillment.Service
	notifier     Notifier
	audit        audit.Recorder
	events       events.Recorder
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger
}

// NewService wires the refund service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Fulfillments == nil {
		return nil, fmt.Errorf("fulfillment service required")
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
	return &service{
		tx:           params.Tx,
		ledger:       params.Ledger,
		orders:       params.Orders,
		fulfillments: params.Fulfillments,
		notifier:     params.Notifier,
		audit:        auditor,
		events:       recorder,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

// target identifies what a refund transaction pays back. Fulfillment and item are
// empty for order-level refunds.
type target struct {
	orderID       uint64
	orderItemID   uint64
	fulfillmentID uint64
}

// rows are the locked records of one refund decision, in lock order.
type rows struct {
	fulfillment *models.Fulfillment
	item        *models.OrderItem
	order       *models.Order
	wallet      *models.Wallet
	txn         *models.WalletTransaction
}

// Request opens a pending refund for an order item whose delivery failed. Only the
// order owner may ask, and only one active refund per item is allowed.
func (s *service) Request(ctx context.Context, orderItemID uint64, actor types.Actor) (*models.WalletTransaction, error) {
	if actor.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity required")
	}
	item, err := s.orders.FindOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, lookupErr(err, "order item")
	}
	f, err := s.latestFulfillment(ctx, item)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_item_id": item.ID, "fulfillment_id": f.ID})

	var created *models.WalletTransaction
	var ownerID uint64
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, target{orderID: item.OrderID, orderItemID: item.ID, fulfillmentID: f.ID}, 0)
		if err != nil {
			return err
		}
		if locked.order.UserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the order owner may request a refund")
		}
		if locked.fulfillment.Status != enums.FulfillmentStatusFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only failed deliveries can be refunded").
				WithDetails(map[string]any{"status": locked.fulfillment.Status})
		}
		if !locked.order.Status.IsPaid() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", locked.order.Status))
		}
		active, err := s.ledger.ActiveRefunds(ctx, tx,
			types.OrderItemRef(locked.item.ID),
			types.FulfillmentRef(locked.fulfillment.ID),
			types.OrderRef(locked.order.ID),
		)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "a refund for this item already exists").
				WithDetails(map[string]any{"transaction_id": active[0].ID, "status": active[0].Status})
		}
		remaining, err := s.remainingCharge(ctx, tx, locked.order)
		if err != nil {
			return err
		}
		amount := decimal.Min(chargedShare(locked.order, locked.item), remaining)
		if !amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "nothing left to refund on this order").
				WithDetails(map[string]any{"remaining": remaining.StringFixed(2)})
		}

		created, err = s.ledger.CreatePendingRefund(ctx, tx, ledger.RefundInput{
			WalletID:  locked.wallet.ID,
			Amount:    amount,
			Reference: types.OrderItemRef(locked.item.ID),
			Meta: map[string]any{
				"fulfillment_id": locked.fulfillment.ID,
				"order_id":       locked.order.ID,
				"requested_by":   actor.UserID,
			},
		})
		if err != nil {
			return err
		}
		if err := s.fulfillments.MarkRefund(ctx, tx, locked.fulfillment, fulfillment.RefundMark{
			State:         fulfillment.RefundRequested,
			TransactionID: created.ID,
			Actor:         actor,
		}); err != nil {
			return err
		}
		ownerID = locked.order.UserID
		s.record(ctx, tx, actor, "refund.requested", enums.EventRefundRequested, locked, created, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyAfter(ctx, ownerID, enums.NotificationRefundRequested, created)
	s.logg.Info(s.logg.WithField(ctx, "transaction_id", created.ID), "refund requested")
	return created, nil
}

// Approve posts a pending refund and credits the customer's wallet. Every condition
// is re-checked under lock. Approving an already-posted refund, or losing a race to
// a concurrent approval, returns the posted transaction.
func (s *service) Approve(ctx context.Context, txnID uint64, admin types.Actor) (*models.WalletTransaction, error) {
	if !admin.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	tgt, err := s.resolve(ctx, txnID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"transaction_id": txnID, "order_id": tgt.orderID})

	var (
		result  *models.WalletTransaction
		ownerID uint64
		posted  bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, tgt, txnID)
		if err != nil {
			return err
		}
		switch locked.txn.Status {
		case enums.TransactionStatusPosted:
			s.metrics.IncReplay("refund_approve")
			result = locked.txn
			return nil
		case enums.TransactionStatusRejected:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund was rejected")
		}
		if err := validateApproval(locked); err != nil {
			return err
		}
		remaining, err := s.remainingCharge(ctx, tx, locked.order)
		if err != nil {
			return err
		}
		if locked.txn.Amount.GreaterThan(remaining) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund exceeds the amount charged").
				WithDetails(map[string]any{
					"amount":    locked.txn.Amount.StringFixed(2),
					"remaining": remaining.StringFixed(2),
				})
		}

		posting, err := s.ledger.PostRefundCredit(ctx, tx, locked.wallet, locked.txn, locked.order.ID)
		if err != nil {
			return err
		}
		meta := models.CloneMeta(locked.order.Meta)
		meta["refund"] = map[string]any{
			"transaction_id": posting.Transaction.ID,
			"amount":         posting.Transaction.Amount.StringFixed(2),
			"approved_by":    admin.UserID,
		}
		if err := s.orders.WithTx(tx).UpdateOrder(ctx, locked.order.ID, map[string]any{
			"status": enums.OrderStatusRefunded,
			"meta":   meta,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
		}
		if locked.fulfillment != nil {
			if err := s.fulfillments.MarkRefund(ctx, tx, locked.fulfillment, fulfillment.RefundMark{
				State:         fulfillment.RefundApproved,
				TransactionID: posting.Transaction.ID,
				Actor:         admin,
			}); err != nil {
				return err
			}
		}
		s.record(ctx, tx, admin, "refund.approved", enums.EventRefundApproved, locked, posting.Transaction, "")
		result, ownerID, posted = posting.Transaction, locked.order.UserID, true
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "idempotency_key") {
			return s.resolveRace(ctx, tgt.orderID, txnID)
		}
		return nil, err
	}
	if posted {
		s.notifyAfter(ctx, ownerID, enums.NotificationRefundApproved, result)
		s.logg.Info(ctx, "refund approved")
	}
	return result, nil
}

// Reject closes a pending refund without touching any balance.
func (s *service) Reject(ctx context.Context, txnID uint64, admin types.Actor, reason string) (*models.WalletTransaction, error) {
	if !admin.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.Validation("rejection reason is required", map[string]any{"reason": "required"})
	}
	tgt, err := s.resolve(ctx, txnID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"transaction_id": txnID, "order_id": tgt.orderID})

	var (
		result   *models.WalletTransaction
		ownerID  uint64
		rejected bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, tgt, txnID)
		if err != nil {
			return err
		}
		switch locked.txn.Status {
		case enums.TransactionStatusRejected:
			result = locked.txn
			return nil
		case enums.TransactionStatusPosted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund was already posted")
		}
		if locked.txn.Type != enums.TransactionTypeRefund {
			return pkgerrors.Validation("transaction is not a refund", map[string]any{"type": locked.txn.Type})
		}

		updated, err := s.ledger.RejectPending(ctx, tx, locked.txn, map[string]any{
			"rejection_reason": reason,
			"rejected_by":      admin.UserID,
		})
		if err != nil {
			return err
		}
		if locked.fulfillment != nil {
			if err := s.fulfillments.MarkRefund(ctx, tx, locked.fulfillment, fulfillment.RefundMark{
				State:         fulfillment.RefundRejected,
				TransactionID: updated.ID,
				Actor:         admin,
				Reason:        reason,
			}); err != nil {
				return err
			}
		}
		s.record(ctx, tx, admin, "refund.rejected", enums.EventRefundRejected, locked, updated, reason)
		result, ownerID, rejected = updated, locked.order.UserID, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected {
		s.notifyAfter(ctx, ownerID, enums.NotificationRefundRejected, result)
		s.logg.Info(ctx, "refund rejected")
	}
	return result, nil
}

func validateApproval(locked *rows) error {
	txn := locked.txn
	if txn.Type != enums.TransactionTypeRefund || txn.Direction != enums.DirectionCredit {
		return pkgerrors.Validation("transaction is not a refund credit", map[string]any{"type": txn.Type, "direction": txn.Direction})
	}
	if !txn.Amount.IsPositive() {
		return pkgerrors.Validation("refund amount must be positive", map[string]any{"amount": txn.Amount.StringFixed(2)})
	}
	switch locked.order.Status {
	case enums.OrderStatusRefunded, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", locked.order.Status))
	}
	if !strings.EqualFold(locked.wallet.Currency, locked.order.Currency) {
		return pkgerrors.Validation("wallet currency does not match order", map[string]any{
			"currency": fmt.Sprintf("wallet %s, order %s", locked.wallet.Currency, locked.order.Currency),
		})
	}
	if locked.fulfillment != nil && locked.item != nil && locked.fulfillment.Status != enums.FulfillmentStatusFailed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is no longer failed").
			WithDetails(map[string]any{"status": locked.fulfillment.Status})
	}
	return nil
}

// resolve reads, without locks, what a refund transaction points at so the rows
// can then be locked in the global order.
func (s *service) resolve(ctx context.Context, txnID uint64) (target, error) {
	txn, err := s.ledger.FindTransaction(ctx, txnID)
	if err != nil {
		return target{}, err
	}
	if txn.Type != enums.TransactionTypeRefund {
		return target{}, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	ref, ok := txn.Reference()
	if !ok {
		return target{}, pkgerrors.Validation("refund has no reference", nil)
	}

	var tgt target
	switch ref.Kind {
	case enums.ReferenceOrder:
		tgt.orderID = ref.ID
	case enums.ReferenceOrderItem:
		item, err := s.orders.FindOrderItem(ctx, ref.ID)
		if err != nil {
			return target{}, lookupErr(err, "order item")
		}
		tgt.orderID, tgt.orderItemID = item.OrderID, item.ID
		tgt.fulfillmentID = uint64(models.MetaInt(txn.Meta, "fulfillment_id"))
	case enums.ReferenceFulfillment:
		f, err := s.fulfillments.Find(ctx, ref.ID)
		if err != nil {
			return target{}, err
		}
		tgt.orderID, tgt.orderItemID, tgt.fulfillmentID = f.OrderID, f.OrderItemID, f.ID
	default:
		return target{}, pkgerrors.Validation("refund reference is not refundable", map[string]any{"reference": ref.String()})
	}
	return tgt, nil
}

// lock takes row locks fulfillment, order item, order, wallet, transaction. The
// wallet is the order owner's; txnID zero skips the transaction.
func (s *service) lock(ctx context.Context, tx *gorm.DB, tgt target, txnID uint64) (*rows, error) {
	out := &rows{}
	ordersRepo := s.orders.WithTx(tx)
	var err error
	if tgt.fulfillmentID != 0 {
		if out.fulfillment, err = s.fulfillments.Lock(ctx, tx, tgt.fulfillmentID); err != nil {
			return nil, err
		}
	}
	if tgt.orderItemID != 0 {
		if out.item, err = ordersRepo.LockOrderItem(ctx, tgt.orderItemID); err != nil {
			return nil, lookupErr(err, "order item")
		}
	}
	if out.order, err = ordersRepo.LockOrder(ctx, tgt.orderID); err != nil {
		return nil, lookupErr(err, "order")
	}
	wallet, err := s.ledger.ForUser(ctx, tx, out.order.UserID)
	if err != nil {
		return nil, err
	}
	if out.wallet, err = s.ledger.LockWallet(ctx, tx, wallet.ID); err != nil {
		return nil, err
	}
	if txnID != 0 {
		if out.txn, err = s.ledger.LockTransaction(ctx, tx, txnID); err != nil {
			return nil, err
		}
		if out.txn.WalletID != out.wallet.ID {
			return nil, pkgerrors.Validation("refund belongs to another wallet", map[string]any{"wallet_id": out.txn.WalletID})
		}
	}
	return out, nil
}

// resolveRace answers an approval that lost the unique refund key. Only a win by the
// same transaction is a replay; another refund holding the key is a conflict.
func (s *service) resolveRace(ctx context.Context, orderID, txnID uint64) (*models.WalletTransaction, error) {
	s.metrics.IncRace("refund_approve")
	existing, err := s.ledger.FindByIdempotencyKey(ctx, ledger.RefundKey(orderID))
	if err != nil {
		return nil, err
	}
	if existing.ID != txnID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "another refund was already posted for this order").
			WithDetails(map[string]any{"transaction_id": existing.ID})
	}
	s.logg.Warn(s.logg.WithField(ctx, "winner_transaction_id", existing.ID), "refund approval lost race; returning posted refund")
	return existing, nil
}

// chargedShare is the part of the order's net charge that pays for item: its line
// total scaled by (subtotal - discount) / subtotal. Fees are kept.
func chargedShare(order *models.Order, item *models.OrderItem) decimal.Decimal {
	if item == nil || !order.Subtotal.IsPositive() {
		return decimal.Zero
	}
	net := money.Max(order.Subtotal.Sub(order.Discount), decimal.Zero)
	return money.Round(item.LineTotal.Mul(net).Div(order.Subtotal))
}

// remainingCharge is the posted purchase debit less every refund already posted
// against the order, its items or its fulfillments.
func (s *service) remainingCharge(ctx context.Context, tx *gorm.DB, order *models.Order) (decimal.Decimal, error) {
	purchase, err := s.ledger.PostedPurchase(ctx, tx, order.ID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no posted purchase")
		}
		return decimal.Zero, err
	}

	refs := []types.Reference{types.OrderRef(order.ID)}
	items, err := s.orders.WithTx(tx).ListItemsByOrder(ctx, order.ID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	for _, item := range items {
		refs = append(refs, types.OrderItemRef(item.ID))
	}
	deliveries, err := s.fulfillments.ListByOrder(ctx, tx, order.ID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, f := range deliveries {
		refs = append(refs, types.FulfillmentRef(f.ID))
	}
	posted, err := s.ledger.PostedRefunds(ctx, tx, refs...)
	if err != nil {
		return decimal.Zero, err
	}
	refunded := decimal.Zero
	for _, txn := range posted {
		refunded = refunded.Add(txn.Amount)
	}
	return money.Max(purchase.Amount.Sub(refunded), decimal.Zero), nil
}

func (s *service) latestFulfillment(ctx context.Context, item *models.OrderItem) (*models.Fulfillment, error) {
	all, err := s.fulfillments.ListByOrder(ctx, nil, item.OrderID)
	if err != nil {
		return nil, err
	}
	var latest *models.Fulfillment
	for i := range all {
		if all[i].OrderItemID != item.ID {
			continue
		}
		if latest == nil || all[i].ID > latest.ID {
			latest = &all[i]
		}
	}
	if latest == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order item has no delivery to refund")
	}
	return latest, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, actor types.Actor, action string, eventType enums.SystemEventType, locked *rows, txn *models.WalletTransaction, reason string) {
	props := map[string]any{
		"transaction_id": txn.ID,
		"order_id":       locked.order.ID,
		"amount":         txn.Amount.StringFixed(2),
		"status":         txn.Status,
	}
	if locked.item != nil {
		props["order_item_id"] = locked.item.ID
	}
	if locked.fulfillment != nil {
		props["fulfillment_id"] = locked.fulfillment.ID
	}
	if reason != "" {
		props["reason"] = reason
	}
	s.audit.Record(ctx, tx, audit.Entry{
		Actor:      actor,
		Action:     action,
		Subject:    types.TransactionRef(txn.ID),
		Properties: props,
	})
	s.events.RecordFinancial(ctx, tx, events.Event{
		Type:    eventType,
		Entity:  types.TransactionRef(txn.ID),
		Payload: props,
	})
}

func (s *service) notifyAfter(ctx context.Context, ownerID uint64, kind enums.NotificationType, txn *models.WalletTransaction) {
	if s.notifier == nil || txn == nil {
		return
	}
	payload := map[string]any{
		"transaction_id": txn.ID,
		"amount":         txn.Amount.StringFixed(2),
		"status":         txn.Status,
	}
	s.notifier.Notify(ctx, ownerID, kind, payload)
	s.notifier.Broadcast(ctx, notifications.ChannelRefunds, payload)
	s.notifier.Broadcast(ctx, notifications.UserChannel(ownerID), payload)
}

func lookupErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
