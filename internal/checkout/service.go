package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/internal/notifications"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// FulfillmentCreator queues fulfillments for a paid order.
type FulfillmentCreator interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.Fulfillment, error)
}

// Notifier delivers user notifications and list-changed broadcasts.
type Notifier interface {
	Notify(ctx context.Context, userID uint64, kind enums.NotificationType, payload map[string]any)
	Broadcast(ctx context.Context, channel string, payload map[string]any)
}

// Service executes wallet checkout.
type Service interface {
	Checkout(ctx context.Context, userID uint64, items any, meta map[string]any) (*models.Order, error)
	PayOrderWithWallet(ctx context.Context, orderID, walletID uint64) (*models.Order, error)
}

// ServiceParams wire the checkout service. Notifier, Audit and Events are optional.
type ServiceParams struct {
	Tx           txRunner
	Orders       orders.Service
	OrdersRepo   orders.Repository
	Ledger       ledger.Service
	Fulfillments FulfillmentCreator
	Notifier     Notifier
	Audit        audit.Recorder
	Events       events.Recorder
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	orders       orders.Service
	ordersRepo   orders.Repository
	ledger       ledger.Service
	fulfillments FulfillmentCreator
	notifier     Notifier
	audit        audit.Recorder
	events       events.Recorder
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
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
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:           params.Tx,
		orders:       params.Orders,
		ordersRepo:   params.OrdersRepo,
		ledger:       params.Ledger,
		fulfillments: params.Fulfillments,
		notifier:     params.Notifier,
		audit:        auditor,
		events:       recorder,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Checkout turns a cart payload into a paid order. A cart identical to one of the
// user's recent orders replays that order: a paid one is returned as is and an
// unpaid one is paid instead of creating a new order. The order is committed before
// payment, so a declined payment leaves it pending_payment.
func (s *service) Checkout(ctx context.Context, userID uint64, items any, meta map[string]any) (*models.Order, error) {
	if userID == 0 {
		return nil, pkgerrors.Validation("user id is required", map[string]any{"user_id": "required"})
	}
	lines, err := orders.ParseCartPayload(items)
	if err != nil {
		return nil, err
	}
	cartHash := orders.CartHash(lines)
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": userID, "cart_hash": cartHash})

	var (
		order    *models.Order
		walletID uint64
		replayed bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.ledger.ForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		// Serializes concurrent checkouts of the same user so a replayed cart is seen.
		if _, err := s.ledger.LockWallet(ctx, tx, wallet.ID); err != nil {
			return err
		}
		walletID = wallet.ID

		existing, err := s.orders.FindReplay(ctx, tx, userID, cartHash)
		if err != nil {
			return err
		}
		if existing != nil {
			order, replayed = existing, true
			return nil
		}

		orderMeta := map[string]any{}
		for k, v := range meta {
			orderMeta[k] = v
		}
		orderMeta["cart_hash"] = cartHash
		order, err = s.orders.CreateFromCart(ctx, tx, orders.CreateOrderInput{
			UserID: userID,
			Lines:  lines,
			Meta:   orderMeta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if replayed && order.Status != enums.OrderStatusPendingPayment {
		s.logg.Info(s.logg.WithField(ctx, "order_id", order.ID), "checkout replayed paid order")
		return s.reload(ctx, order.ID)
	}
	return s.PayOrderWithWallet(ctx, order.ID, walletID)
}

// PayOrderWithWallet debits the order total from the wallet, marks the order paid
// and queues its fulfillments in one unit of work. Paying an order that is already
// paid only makes sure its fulfillments exist.
func (s *service) PayOrderWithWallet(ctx context.Context, orderID, walletID uint64) (*models.Order, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "wallet_id": walletID})

	var paid bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}

		if order.Status.IsPaid() {
			s.ensureFulfillments(ctx, tx, order)
			return nil
		}
		if order.Status != enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
		}

		wallet, err := s.ledger.LockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		posting, err := s.ledger.DebitForOrder(ctx, tx, order, wallet)
		if err != nil {
			return err
		}

		paidAt := s.now().UTC()
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":  enums.OrderStatusPaid,
			"paid_at": paidAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		order.Status = enums.OrderStatusPaid
		order.PaidAt = &paidAt

		if _, err := s.fulfillments.CreateForOrder(ctx, tx, order); err != nil {
			return err
		}

		payload := map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"total":        order.Total.StringFixed(2),
			"wallet_id":    wallet.ID,
		}
		if posting.Transaction != nil {
			payload["transaction_id"] = posting.Transaction.ID
		}
		s.events.RecordFinancial(ctx, tx, events.Event{
			Type:    enums.EventOrderPaid,
			Entity:  types.OrderRef(order.ID),
			Payload: payload,
		})
		s.audit.Record(ctx, tx, audit.Entry{
			Actor:      types.Actor{UserID: order.UserID, Role: enums.ActorRoleCustomer},
			Action:     "order.paid",
			Subject:    types.OrderRef(order.ID),
			Properties: payload,
		})
		if s.notifier != nil {
			ownerID := order.UserID
			_ = db.AfterCommit(tx, func(hookCtx context.Context) {
				s.notifier.Notify(hookCtx, ownerID, enums.NotificationOrderPaid, payload)
				s.notifier.Broadcast(hookCtx, notifications.ChannelOrders, payload)
				s.notifier.Broadcast(hookCtx, notifications.UserChannel(ownerID), payload)
			})
		}
		paid = true
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
			s.recordDecline(ctx, orderID, walletID, err)
		}
		return nil, err
	}
	if paid {
		s.logg.Info(ctx, "order paid from wallet")
	}
	return s.reload(ctx, orderID)
}

// ensureFulfillments queues missing fulfillments for an already-paid order. Failures
// are logged and rolled back to a savepoint so the caller still gets the order.
func (s *service) ensureFulfillments(ctx context.Context, tx *gorm.DB, order *models.Order) {
	const savepoint = "ensure_fulfillments"
	if err := tx.SavePoint(savepoint).Error; err != nil {
		s.logg.Error(ctx, "create savepoint", err)
		return
	}
	if _, err := s.fulfillments.CreateForOrder(ctx, tx, order); err != nil {
		s.logg.Error(ctx, "ensure fulfillments for paid order", err)
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			s.logg.Error(ctx, "rollback to savepoint", rbErr)
		}
	}
}

// recordDecline mirrors one failed payment attempt. The attempt time keys the event
// so every decline of the same order is kept.
func (s *service) recordDecline(ctx context.Context, orderID, walletID uint64, cause error) {
	attempt := s.now().UTC()
	payload := map[string]any{
		"order_id":     orderID,
		"wallet_id":    walletID,
		"attempted_at": attempt.Format(time.RFC3339Nano),
	}
	if typed := pkgerrors.As(cause); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			for k, v := range details {
				payload[k] = v
			}
		}
	}
	s.events.RecordAsync(ctx, nil, events.Event{
		Type:     enums.EventPaymentDeclined,
		Entity:   types.OrderRef(orderID),
		Severity: enums.SeverityWarning,
		Payload:  payload,
		Suffix:   strconv.FormatInt(attempt.UnixNano(), 10),
	})
	s.logg.Warn(ctx, "wallet payment declined: insufficient balance")
}

func (s *service) reload(ctx context.Context, orderID uint64) (*models.Order, error) {
	order, err := s.ordersRepo.FindOrderWithItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
