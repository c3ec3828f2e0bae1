package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/types"
)

// Repository manages persistence for wallets and their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWalletByOwner(ctx context.Context, userID uint64) (*models.Wallet, error)
	FindPlatformWallet(ctx context.Context) (*models.Wallet, error)
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	FindWallet(ctx context.Context, id uint64) (*models.Wallet, error)
	LockWallet(ctx context.Context, id uint64) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uint64, balance decimal.Decimal) error
	ListWalletIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)

	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	FindTransaction(ctx context.Context, id uint64) (*models.WalletTransaction, error)
	LockTransaction(ctx context.Context, id uint64) (*models.WalletTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	LockByReference(ctx context.Context, ref types.Reference, txType enums.TransactionType) ([]models.WalletTransaction, error)
	ListRefunds(ctx context.Context, statuses []enums.TransactionStatus, refs []types.Reference) ([]models.WalletTransaction, error)
	MarkTransaction(ctx context.Context, id uint64, from enums.TransactionStatus, updates map[string]any) (bool, error)
	ListPosted(ctx context.Context, walletID uint64) ([]models.WalletTransaction, error)
	ListByWallet(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindWalletByOwner(ctx context.Context, userID uint64) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, enums.WalletTypeCustomer).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindPlatformWallet(ctx context.Context) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("type = ?", enums.WalletTypePlatform).
		Order("id ASC").
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreateWallet inserts the wallet unless a concurrent writer created it first.
func (r *repository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(wallet).Error
}

func (r *repository) FindWallet(ctx context.Context, id uint64) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWallet(ctx context.Context, id uint64) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&wallet, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) UpdateWalletBalance(ctx context.Context, id uint64, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", id).
		Update("balance", balance).Error
}

func (r *repository) ListWalletIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uint64) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) LockTransaction(ctx context.Context, id uint64) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.db.WithContext(ctx).First(&txn, "idempotency_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) LockByReference(ctx context.Context, ref types.Reference, txType enums.TransactionType) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	if err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("reference_type = ? AND reference_id = ? AND type = ?", ref.Kind, ref.ID, txType).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRefunds returns refund transactions in the given statuses that reference any of refs.
func (r *repository) ListRefunds(ctx context.Context, statuses []enums.TransactionStatus, refs []types.Reference) ([]models.WalletTransaction, error) {
	if len(refs) == 0 || len(statuses) == 0 {
		return nil, nil
	}
	byKind := map[enums.ReferenceKind][]uint64{}
	for _, ref := range refs {
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}
	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	args := make([]any, 0, len(kinds)*2)
	for _, kind := range kinds {
		parts = append(parts, "(reference_type = ? AND reference_id IN ?)")
		args = append(args, kind, byKind[enums.ReferenceKind(kind)])
	}

	var rows []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("type = ? AND status IN ?", enums.TransactionTypeRefund, statuses).
		Where("("+strings.Join(parts, " OR ")+")", args...).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkTransaction applies updates only while the row is still in status from. The
// boolean reports whether the row changed.
func (r *repository) MarkTransaction(ctx context.Context, id uint64, from enums.TransactionStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPosted(ctx context.Context, walletID uint64) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND status = ?", walletID, enums.TransactionStatusPosted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByWallet(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
