package settlement

import (
	"context"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
)

// Repository persists settlement headers and their fulfillment links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, header *models.Settlement) error
	CreateLinks(ctx context.Context, links []models.SettlementFulfillment) error
	SetTransaction(ctx context.Context, settlementID, txnID uint64) error
	OrderItemsByIDs(ctx context.Context, ids []uint64) ([]models.OrderItem, error)
	Find(ctx context.Context, id uint64) (*models.Settlement, error)
	ListLinks(ctx context.Context, settlementID uint64) ([]models.SettlementFulfillment, error)
	ListRecent(ctx context.Context, limit int) ([]models.Settlement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, header *models.Settlement) error {
	return r.db.WithContext(ctx).Create(header).Error
}

func (r *repository) CreateLinks(ctx context.Context, links []models.SettlementFulfillment) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&links).Error
}

func (r *repository) SetTransaction(ctx context.Context, settlementID, txnID uint64) error {
	return r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ?", settlementID).
		Update("wallet_transaction_id", txnID).Error
}

func (r *repository) OrderItemsByIDs(ctx context.Context, ids []uint64) ([]models.OrderItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.OrderItem
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Find(ctx context.Context, id uint64) (*models.Settlement, error) {
	var row models.Settlement
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListLinks(ctx context.Context, settlementID uint64) ([]models.SettlementFulfillment, error) {
	var rows []models.SettlementFulfillment
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("fulfillment_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.Settlement, error) {
	var rows []models.Settlement
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
