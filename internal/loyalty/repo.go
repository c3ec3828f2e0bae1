package loyalty

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
)

// Repository persists loyalty accounts and reads the spend they are derived from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, userID uint64) (*models.LoyaltyAccount, error)
	Upsert(ctx context.Context, account *models.LoyaltyAccount) error
	SpendTransactions(ctx context.Context, userID uint64) ([]models.WalletTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a loyalty repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, userID uint64) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) Upsert(ctx context.Context, account *models.LoyaltyAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"lifetime_spend", "tier", "discount_percentage", "recomputed_at", "updated_at"}),
		}).
		Create(account).Error
}

// SpendTransactions returns the user's posted purchase debits and refund credits.
func (r *repository) SpendTransactions(ctx context.Context, userID uint64) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Joins("JOIN wallets ON wallets.id = wallet_transactions.wallet_id").
		Where("wallets.user_id = ? AND wallets.type = ?", userID, enums.WalletTypeCustomer).
		Where("wallet_transactions.status = ?", enums.TransactionStatusPosted).
		Where("wallet_transactions.type IN ?", []enums.TransactionType{enums.TransactionTypePurchase, enums.TransactionTypeRefund}).
		Order("wallet_transactions.id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
