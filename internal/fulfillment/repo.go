package fulfillment

import (
	"context"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
)

// Repository persists fulfillments and their append-only logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FirstOrCreateForItem(ctx context.Context, item models.OrderItem) (*models.Fulfillment, bool, error)
	Find(ctx context.Context, id uint64) (*models.Fulfillment, error)
	Lock(ctx context.Context, id uint64) (*models.Fulfillment, error)
	LockByItem(ctx context.Context, orderItemID uint64) ([]models.Fulfillment, error)
	Update(ctx context.Context, id uint64, updates map[string]any) error
	ListByOrder(ctx context.Context, orderID uint64) ([]models.Fulfillment, error)
	ListCompletedUnsettled(ctx context.Context, afterID uint64, limit int) ([]models.Fulfillment, error)
	AppendLog(ctx context.Context, entry *models.FulfillmentLog) error
	ListLogs(ctx context.Context, fulfillmentID uint64) ([]models.FulfillmentLog, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a fulfillment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FirstOrCreateForItem returns the item's first fulfillment, creating a queued one
// when none exists. The boolean reports whether a row was created.
func (r *repository) FirstOrCreateForItem(ctx context.Context, item models.OrderItem) (*models.Fulfillment, bool, error) {
	var row models.Fulfillment
	res := r.db.WithContext(ctx).
		Where("order_item_id = ?", item.ID).
		Order("id ASC").
		Attrs(models.Fulfillment{
			OrderID:     item.OrderID,
			OrderItemID: item.ID,
			Provider:    item.Provider,
			Status:      enums.FulfillmentStatusQueued,
			Meta:        map[string]any{"retry_count": 0},
		}).
		FirstOrCreate(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &row, res.RowsAffected > 0, nil
}

func (r *repository) Find(ctx context.Context, id uint64) (*models.Fulfillment, error) {
	var row models.Fulfillment
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Lock(ctx context.Context, id uint64) (*models.Fulfillment, error) {
	var row models.Fulfillment
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// LockByItem locks every fulfillment of an order item in id order.
func (r *repository) LockByItem(ctx context.Context, orderItemID uint64) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	if err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_item_id = ?", orderItemID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uint64, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Fulfillment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uint64) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCompletedUnsettled returns completed fulfillments with id above afterID and no
// settlement link, oldest first.
func (r *repository) ListCompletedUnsettled(ctx context.Context, afterID uint64, limit int) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND id > ?", enums.FulfillmentStatusCompleted, afterID).
		Where("NOT EXISTS (SELECT 1 FROM settlement_fulfillments sf WHERE sf.fulfillment_id = fulfillments.id)").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) AppendLog(ctx context.Context, entry *models.FulfillmentLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListLogs(ctx context.Context, fulfillmentID uint64) ([]models.FulfillmentLog, error) {
	var rows []models.FulfillmentLog
	if err := r.db.WithContext(ctx).
		Where("fulfillment_id = ?", fulfillmentID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
