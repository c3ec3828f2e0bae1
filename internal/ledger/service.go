package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/metrics"
	"github.com/digimarket/marketcore/pkg/money"
	"github.com/digimarket/marketcore/pkg/types"
)

// Service is the only writer of wallet balances. Every posting row-locks the wallet,
// looks for an existing transaction before creating one and changes the balance only
// after the transaction is posted, all inside the caller's unit of work.
type Service interface {
	ForUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.Wallet, error)
	PlatformWallet(ctx context.Context, tx *gorm.DB) (*models.Wallet, error)
	FindWallet(ctx context.Context, walletID uint64) (*models.Wallet, error)
	LockWallet(ctx context.Context, tx *gorm.DB, walletID uint64) (*models.Wallet, error)
	LockTransaction(ctx context.Context, tx *gorm.DB, txnID uint64) (*models.WalletTransaction, error)
	FindTransaction(ctx context.Context, txnID uint64) (*models.WalletTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	PostedPurchase(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.WalletTransaction, error)
	History(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error)

	DebitForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, wallet *models.Wallet) (*Posting, error)
	CreatePendingRefund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.WalletTransaction, error)
	ActiveRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error)
	PostedRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error)
	PostRefundCredit(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, txn *models.WalletTransaction, orderID uint64) (*Posting, error)
	RejectPending(ctx context.Context, tx *gorm.DB, txn *models.WalletTransaction, meta map[string]any) (*models.WalletTransaction, error)
	PostSettlement(ctx context.Context, tx *gorm.DB, settlementID uint64, amount decimal.Decimal, meta map[string]any) (*Posting, error)

	Topup(ctx context.Context, input TopupInput) (*Posting, error)
	Adjust(ctx context.Context, input AdjustmentInput) (*Posting, error)
	Reconcile(ctx context.Context, walletID uint64) (*Reconciliation, error)
	ListWalletIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wire the ledger service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Logger   *logger.Logger
	Metrics  *metrics.LedgerMetrics
	Events   events.Recorder
	Currency string
}

type service struct {
	repo     Repository
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.LedgerMetrics
	events   events.Recorder
	currency string
}

// Posting is the outcome of a balance-changing operation. Replayed is true when an
// existing posted transaction answered the call.
type Posting struct {
	Transaction *models.WalletTransaction
	Wallet      *models.Wallet
	Replayed    bool
}

// RefundInput describes a pending refund credit.
type RefundInput struct {
	WalletID  uint64
	Amount    decimal.Decimal
	Reference types.Reference
	Meta      map[string]any
}

// TopupInput credits a customer wallet; IdempotencyKey is required.
type TopupInput struct {
	UserID         uint64
	Amount         decimal.Decimal
	IdempotencyKey string
	Actor          types.Actor
	Meta           map[string]any
}

// AdjustmentInput is an administrative credit or debit with a mandatory reason.
type AdjustmentInput struct {
	WalletID       uint64
	Direction      enums.TransactionDirection
	Amount         decimal.Decimal
	Reason         string
	Actor          types.Actor
	IdempotencyKey string
}

// Reconciliation compares a cached balance with the signed sum of posted transactions.
type Reconciliation struct {
	WalletID uint64          `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
	Computed decimal.Decimal `json:"computed"`
	Drift    decimal.Decimal `json:"drift"`
	Balanced bool            `json:"balanced"`
}

// NewService wires a ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
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
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		events:   recorder,
		currency: currency,
	}, nil
}

// PurchaseKey is the idempotency key of an order's purchase debit.
func PurchaseKey(orderID uint64) string { return fmt.Sprintf("purchase:order:%d", orderID) }

// RefundKey is the idempotency key of an order's posted refund credit.
func RefundKey(orderID uint64) string { return fmt.Sprintf("refund:order:%d", orderID) }

// SettlementKey is the idempotency key of a settlement's platform credit.
func SettlementKey(settlementID uint64) string { return fmt.Sprintf("settlement:%d", settlementID) }

// ForUser returns the customer wallet for userID, creating it on first use.
func (s *service) ForUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.Wallet, error) {
	if userID == 0 {
		return nil, pkgerrors.Validation("user id is required", map[string]any{"user_id": "required"})
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWalletByOwner(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	owner := userID
	if err := repo.CreateWallet(ctx, &models.Wallet{
		UserID:   &owner,
		Type:     enums.WalletTypeCustomer,
		Balance:  decimal.Zero,
		Currency: s.currency,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err = repo.FindWalletByOwner(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

// PlatformWallet returns the single platform wallet, provisioning it when absent.
func (s *service) PlatformWallet(ctx context.Context, tx *gorm.DB) (*models.Wallet, error) {
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindPlatformWallet(ctx)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform wallet")
	}
	if err := repo.CreateWallet(ctx, &models.Wallet{
		Type:     enums.WalletTypePlatform,
		Balance:  decimal.Zero,
		Currency: s.currency,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create platform wallet")
	}
	wallet, err = repo.FindPlatformWallet(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform wallet")
	}
	return wallet, nil
}

func (s *service) FindWallet(ctx context.Context, walletID uint64) (*models.Wallet, error) {
	wallet, err := s.repo.FindWallet(ctx, walletID)
	if err != nil {
		return nil, mapLookupErr(err, "wallet")
	}
	return wallet, nil
}

func (s *service) LockWallet(ctx context.Context, tx *gorm.DB, walletID uint64) (*models.Wallet, error) {
	wallet, err := s.repo.WithTx(tx).LockWallet(ctx, walletID)
	if err != nil {
		return nil, mapLookupErr(err, "wallet")
	}
	return wallet, nil
}

func (s *service) LockTransaction(ctx context.Context, tx *gorm.DB, txnID uint64) (*models.WalletTransaction, error) {
	txn, err := s.repo.WithTx(tx).LockTransaction(ctx, txnID)
	if err != nil {
		return nil, mapLookupErr(err, "wallet transaction")
	}
	return txn, nil
}

func (s *service) FindTransaction(ctx context.Context, txnID uint64) (*models.WalletTransaction, error) {
	txn, err := s.repo.FindTransaction(ctx, txnID)
	if err != nil {
		return nil, mapLookupErr(err, "wallet transaction")
	}
	return txn, nil
}

func (s *service) FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	txn, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, mapLookupErr(err, "wallet transaction")
	}
	return txn, nil
}

// PostedPurchase returns the order's posted purchase debit. Only a posted purchase
// carries the purchase key.
func (s *service) PostedPurchase(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.WalletTransaction, error) {
	txn, err := s.repo.WithTx(tx).FindByIdempotencyKey(ctx, PurchaseKey(orderID))
	if err != nil {
		return nil, mapLookupErr(err, "purchase transaction")
	}
	return txn, nil
}

func (s *service) History(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.repo.ListByWallet(ctx, walletID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	return rows, nil
}

func (s *service) ListWalletIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	ids, err := s.repo.ListWalletIDs(ctx, afterID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallets")
	}
	return ids, nil
}

// DebitForOrder posts the purchase debit for order against a wallet the caller has
// already locked (after the order). A posted purchase for the order is replayed, a
// pending one is promoted.
func (s *service) DebitForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, wallet *models.Wallet) (*Posting, error) {
	if order == nil || wallet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and wallet are required")
	}
	if !wallet.OwnedBy(order.UserID) {
		return nil, pkgerrors.Validation("wallet does not belong to the order owner", map[string]any{
			"wallet_id": "does not belong to order owner",
		})
	}
	if !strings.EqualFold(wallet.Currency, order.Currency) {
		return nil, pkgerrors.Validation("wallet currency does not match order", map[string]any{
			"currency": fmt.Sprintf("wallet %s, order %s", wallet.Currency, order.Currency),
		})
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.LockByReference(ctx, types.OrderRef(order.ID), enums.TransactionTypePurchase)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase transactions")
	}

	var pending *models.WalletTransaction
	for i := range existing {
		switch existing[i].Status {
		case enums.TransactionStatusPosted:
			s.metrics.IncReplay("purchase")
			return &Posting{Transaction: &existing[i], Wallet: wallet, Replayed: true}, nil
		case enums.TransactionStatusPending:
			if pending == nil {
				pending = &existing[i]
			}
		}
	}

	total := money.Round(order.Total)
	if pending == nil && !total.IsPositive() {
		return &Posting{Wallet: wallet}, nil
	}
	amount := total
	if pending != nil {
		amount = pending.Amount
	}
	if wallet.Balance.LessThan(amount) {
		return nil, insufficientBalance(wallet, amount)
	}

	key := PurchaseKey(order.ID)
	if pending != nil {
		changed, err := repo.MarkTransaction(ctx, pending.ID, enums.TransactionStatusPending, map[string]any{
			"status":          enums.TransactionStatusPosted,
			"idempotency_key": key,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post pending purchase")
		}
		if !changed {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase transaction is no longer pending")
		}
		pending.Status = enums.TransactionStatusPosted
		pending.IdempotencyKey = &key
		if err := s.applyPosting(ctx, repo, wallet, pending); err != nil {
			return nil, err
		}
		return &Posting{Transaction: pending, Wallet: wallet}, nil
	}

	txn := &models.WalletTransaction{
		WalletID:       wallet.ID,
		Type:           enums.TransactionTypePurchase,
		Direction:      enums.DirectionDebit,
		Amount:         total,
		Status:         enums.TransactionStatusPosted,
		IdempotencyKey: &key,
		Meta:           map[string]any{"order_number": order.OrderNumber},
	}
	txn.SetReference(types.OrderRef(order.ID))
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create purchase transaction")
	}
	if err := s.applyPosting(ctx, repo, wallet, txn); err != nil {
		return nil, err
	}
	return &Posting{Transaction: txn, Wallet: wallet}, nil
}

// CreatePendingRefund records a refund credit awaiting approval. The balance is untouched.
func (s *service) CreatePendingRefund(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.WalletTransaction, error) {
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.Validation("refund amount must be positive", map[string]any{"amount": amount.StringFixed(2)})
	}
	if !refundableReference(input.Reference) {
		return nil, pkgerrors.Validation("refund reference is not refundable", map[string]any{"reference": input.Reference.String()})
	}
	txn := &models.WalletTransaction{
		WalletID:  input.WalletID,
		Type:      enums.TransactionTypeRefund,
		Direction: enums.DirectionCredit,
		Amount:    amount,
		Status:    enums.TransactionStatusPending,
		Meta:      input.Meta,
	}
	txn.SetReference(input.Reference)
	if err := s.repo.WithTx(tx).CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund transaction")
	}
	return txn, nil
}

// ActiveRefunds returns pending or posted refunds that reference any of refs.
func (s *service) ActiveRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error) {
	return s.listRefunds(ctx, tx, []enums.TransactionStatus{enums.TransactionStatusPending, enums.TransactionStatusPosted}, refs)
}

// PostedRefunds returns posted refunds that reference any of refs.
func (s *service) PostedRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error) {
	return s.listRefunds(ctx, tx, []enums.TransactionStatus{enums.TransactionStatusPosted}, refs)
}

func (s *service) listRefunds(ctx context.Context, tx *gorm.DB, statuses []enums.TransactionStatus, refs []types.Reference) ([]models.WalletTransaction, error) {
	rows, err := s.repo.WithTx(tx).ListRefunds(ctx, statuses, refs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund transactions")
	}
	return rows, nil
}

// PostRefundCredit posts a locked pending refund and credits the locked wallet. A
// unique violation on the refund key is returned unwrapped so the caller can resolve
// the race outside the aborted transaction.
func (s *service) PostRefundCredit(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, txn *models.WalletTransaction, orderID uint64) (*Posting, error) {
	if wallet == nil || txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet and transaction are required")
	}
	if txn.Status != enums.TransactionStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("refund transaction is %s", txn.Status))
	}
	if txn.Type != enums.TransactionTypeRefund || txn.Direction != enums.DirectionCredit {
		return nil, pkgerrors.Validation("transaction is not a refund credit", map[string]any{
			"type":      txn.Type,
			"direction": txn.Direction,
		})
	}
	if !txn.Amount.IsPositive() {
		return nil, pkgerrors.Validation("refund amount must be positive", map[string]any{"amount": txn.Amount.StringFixed(2)})
	}
	ref, ok := txn.Reference()
	if !ok || !refundableReference(ref) {
		return nil, pkgerrors.Validation("refund reference is not refundable", nil)
	}
	if txn.WalletID != wallet.ID {
		return nil, pkgerrors.Validation("refund belongs to another wallet", map[string]any{"wallet_id": txn.WalletID})
	}

	repo := s.repo.WithTx(tx)
	key := RefundKey(orderID)
	changed, err := repo.MarkTransaction(ctx, txn.ID, enums.TransactionStatusPending, map[string]any{
		"status":          enums.TransactionStatusPosted,
		"idempotency_key": key,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "idempotency_key") {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post refund transaction")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund transaction is no longer pending")
	}
	txn.Status = enums.TransactionStatusPosted
	txn.IdempotencyKey = &key
	if err := s.applyPosting(ctx, repo, wallet, txn); err != nil {
		return nil, err
	}
	return &Posting{Transaction: txn, Wallet: wallet}, nil
}

// RejectPending moves a pending transaction to rejected, merging meta. No balance change.
func (s *service) RejectPending(ctx context.Context, tx *gorm.DB, txn *models.WalletTransaction, meta map[string]any) (*models.WalletTransaction, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	if txn.Status != enums.TransactionStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transaction is %s", txn.Status))
	}
	merged := models.CloneMeta(txn.Meta)
	for k, v := range meta {
		merged[k] = v
	}
	changed, err := s.repo.WithTx(tx).MarkTransaction(ctx, txn.ID, enums.TransactionStatusPending, map[string]any{
		"status": enums.TransactionStatusRejected,
		"meta":   merged,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject transaction")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is no longer pending")
	}
	txn.Status = enums.TransactionStatusRejected
	txn.Meta = merged
	return txn, nil
}

// PostSettlement credits the platform wallet once per settlement.
func (s *service) PostSettlement(ctx context.Context, tx *gorm.DB, settlementID uint64, amount decimal.Decimal, meta map[string]any) (*Posting, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.Validation("settlement amount must be positive", map[string]any{"amount": amount.StringFixed(2)})
	}
	platform, err := s.PlatformWallet(ctx, tx)
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.LockWallet(ctx, platform.ID)
	if err != nil {
		return nil, mapLookupErr(err, "platform wallet")
	}

	key := SettlementKey(settlementID)
	if existing, err := repo.FindByIdempotencyKey(ctx, key); err == nil {
		s.metrics.IncReplay("settlement")
		return &Posting{Transaction: existing, Wallet: wallet, Replayed: true}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement transaction")
	}

	txn := &models.WalletTransaction{
		WalletID:       wallet.ID,
		Type:           enums.TransactionTypeSettlement,
		Direction:      enums.DirectionCredit,
		Amount:         amount,
		Status:         enums.TransactionStatusPosted,
		IdempotencyKey: &key,
		Meta:           meta,
	}
	txn.SetReference(types.SettlementRef(settlementID))
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement transaction")
	}
	if err := s.applyPosting(ctx, repo, wallet, txn); err != nil {
		return nil, err
	}
	return &Posting{Transaction: txn, Wallet: wallet}, nil
}

// Topup credits a customer wallet in its own unit of work. Reusing the idempotency key
// replays the original posting.
func (s *service) Topup(ctx context.Context, input TopupInput) (*Posting, error) {
	if input.UserID == 0 {
		return nil, pkgerrors.Validation("user id is required", map[string]any{"user_id": "required"})
	}
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.Validation("topup amount must be positive", map[string]any{"amount": amount.StringFixed(2)})
	}
	clientKey := strings.TrimSpace(input.IdempotencyKey)
	if clientKey == "" {
		return nil, pkgerrors.Validation("idempotency key is required", map[string]any{"idempotency_key": "required"})
	}
	key := "topup:" + clientKey

	var posting *Posting
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.ForUser(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if wallet, err = repo.LockWallet(ctx, wallet.ID); err != nil {
			return mapLookupErr(err, "wallet")
		}
		if replay, err := s.replayByKey(ctx, repo, key, wallet, enums.TransactionTypeTopup, "topup"); err != nil || replay != nil {
			posting = replay
			return err
		}

		meta := map[string]any{"idempotency_key": clientKey}
		for k, v := range input.Meta {
			meta[k] = v
		}
		if input.Actor.UserID != 0 {
			meta["actor_id"] = input.Actor.UserID
		}
		txn := &models.WalletTransaction{
			WalletID:       wallet.ID,
			Type:           enums.TransactionTypeTopup,
			Direction:      enums.DirectionCredit,
			Amount:         amount,
			Status:         enums.TransactionStatusPosted,
			IdempotencyKey: &key,
			Meta:           meta,
		}
		txn.SetReference(types.UserRef(input.UserID))
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := s.applyPosting(ctx, repo, wallet, txn); err != nil {
			return err
		}
		s.events.RecordFinancial(ctx, tx, events.Event{
			Type:   enums.EventWalletToppedUp,
			Entity: types.WalletRef(wallet.ID),
			Payload: map[string]any{
				"transaction_id": txn.ID,
				"amount":         amount.StringFixed(2),
				"balance":        wallet.Balance.StringFixed(2),
			},
		})
		posting = &Posting{Transaction: txn, Wallet: wallet}
		return nil
	})
	if err != nil {
		return s.resolveKeyRace(ctx, err, key, "topup")
	}
	return posting, nil
}

// Adjust posts an administrative correction. Debits may not overdraw the wallet.
func (s *service) Adjust(ctx context.Context, input AdjustmentInput) (*Posting, error) {
	if !input.Actor.Privileged() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only administrators may adjust wallets")
	}
	fields := map[string]any{}
	if !input.Direction.IsValid() {
		fields["direction"] = "must be credit or debit"
	}
	amount := money.Round(input.Amount)
	if !amount.IsPositive() {
		fields["amount"] = "must be positive"
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		fields["reason"] = "required"
	}
	if len(fields) > 0 {
		return nil, pkgerrors.Validation("invalid adjustment", fields)
	}
	var key *string
	if k := strings.TrimSpace(input.IdempotencyKey); k != "" {
		scoped := "adjustment:" + k
		key = &scoped
	}

	var posting *Posting
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.LockWallet(ctx, input.WalletID)
		if err != nil {
			return mapLookupErr(err, "wallet")
		}
		if key != nil {
			if replay, err := s.replayByKey(ctx, repo, *key, wallet, enums.TransactionTypeAdjustment, "adjustment"); err != nil || replay != nil {
				posting = replay
				return err
			}
		}
		if input.Direction == enums.DirectionDebit && wallet.Balance.LessThan(amount) {
			return insufficientBalance(wallet, amount)
		}
		txn := &models.WalletTransaction{
			WalletID:       wallet.ID,
			Type:           enums.TransactionTypeAdjustment,
			Direction:      input.Direction,
			Amount:         amount,
			Status:         enums.TransactionStatusPosted,
			IdempotencyKey: key,
			Meta: map[string]any{
				"reason":     reason,
				"actor_id":   input.Actor.UserID,
				"actor_role": string(input.Actor.Role),
			},
		}
		txn.SetReference(types.WalletRef(wallet.ID))
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := s.applyPosting(ctx, repo, wallet, txn); err != nil {
			return err
		}
		s.events.RecordFinancial(ctx, tx, events.Event{
			Type:     enums.EventWalletAdjusted,
			Entity:   types.WalletRef(wallet.ID),
			Severity: enums.SeverityWarning,
			Payload: map[string]any{
				"transaction_id": txn.ID,
				"direction":      string(input.Direction),
				"amount":         amount.StringFixed(2),
				"reason":         reason,
				"actor_id":       input.Actor.UserID,
			},
		})
		posting = &Posting{Transaction: txn, Wallet: wallet}
		return nil
	})
	if err != nil {
		if key == nil {
			return nil, normalizeErr(err, "post adjustment")
		}
		return s.resolveKeyRace(ctx, err, *key, "adjustment")
	}
	return posting, nil
}

// Reconcile recomputes the signed sum of posted transactions and compares it with
// the cached balance. Drift is reported, never corrected.
func (s *service) Reconcile(ctx context.Context, walletID uint64) (*Reconciliation, error) {
	wallet, err := s.repo.FindWallet(ctx, walletID)
	if err != nil {
		return nil, mapLookupErr(err, "wallet")
	}
	rows, err := s.repo.ListPosted(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list posted transactions")
	}
	computed := decimal.Zero
	for _, row := range rows {
		computed = computed.Add(row.SignedAmount())
	}
	computed = money.Round(computed)
	balance := money.Round(wallet.Balance)
	result := &Reconciliation{
		WalletID: walletID,
		Balance:  balance,
		Computed: computed,
		Drift:    balance.Sub(computed),
		Balanced: balance.Equal(computed),
	}
	if !result.Balanced {
		s.metrics.IncDrift()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"wallet_id": walletID,
			"balance":   balance.StringFixed(2),
			"computed":  computed.StringFixed(2),
		})
		s.logg.Warn(logCtx, "wallet balance drift detected")
		s.events.RecordAsync(ctx, nil, events.Event{
			Type:     enums.EventLedgerDrift,
			Entity:   types.WalletRef(walletID),
			Severity: enums.SeverityCritical,
			Suffix:   balance.StringFixed(2) + "/" + computed.StringFixed(2),
			Payload: map[string]any{
				"balance":  balance.StringFixed(2),
				"computed": computed.StringFixed(2),
				"drift":    result.Drift.StringFixed(2),
			},
		})
	}
	return result, nil
}

// applyPosting moves the locked wallet's balance by the posted transaction's signed amount.
func (s *service) applyPosting(ctx context.Context, repo Repository, wallet *models.Wallet, txn *models.WalletTransaction) error {
	next := money.Round(wallet.Balance.Add(txn.SignedAmount()))
	if next.IsNegative() {
		return insufficientBalance(wallet, txn.Amount)
	}
	if err := repo.UpdateWalletBalance(ctx, wallet.ID, next); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	wallet.Balance = next
	s.metrics.ObservePosting(txn.Type.String(), txn.Direction.String(), txn.Amount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"wallet_id":      wallet.ID,
		"transaction_id": txn.ID,
		"type":           txn.Type,
		"direction":      txn.Direction,
		"amount":         txn.Amount.StringFixed(2),
	}), "wallet transaction posted")
	return nil
}

func (s *service) replayByKey(ctx context.Context, repo Repository, key string, wallet *models.Wallet, txType enums.TransactionType, op string) (*Posting, error) {
	existing, err := repo.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by idempotency key")
	}
	if existing.WalletID != wallet.ID || existing.Type != txType {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different operation")
	}
	s.metrics.IncReplay(op)
	return &Posting{Transaction: existing, Wallet: wallet, Replayed: true}, nil
}

// resolveKeyRace turns a lost unique-key race into a replay of the winning row.
func (s *service) resolveKeyRace(ctx context.Context, err error, key, op string) (*Posting, error) {
	if !db.IsUniqueViolation(err, "idempotency_key") {
		return nil, normalizeErr(err, "post "+op)
	}
	s.metrics.IncRace(op)
	existing, findErr := s.repo.FindByIdempotencyKey(ctx, key)
	if findErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load raced transaction")
	}
	wallet, findErr := s.repo.FindWallet(ctx, existing.WalletID)
	if findErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load raced wallet")
	}
	return &Posting{Transaction: existing, Wallet: wallet, Replayed: true}, nil
}

func refundableReference(ref types.Reference) bool {
	switch ref.Kind {
	case enums.ReferenceOrder, enums.ReferenceOrderItem, enums.ReferenceFulfillment:
		return ref.ID != 0
	}
	return false
}

func insufficientBalance(wallet *models.Wallet, required decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient wallet balance").WithDetails(map[string]any{
		"wallet_id": wallet.ID,
		"required":  required.StringFixed(2),
		"available": wallet.Balance.StringFixed(2),
	})
}

func mapLookupErr(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}

func normalizeErr(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
