package events

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/types"
)

// Repository persists system events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.SystemEvent) (bool, error)
	ListForEntity(ctx context.Context, ref types.Reference) ([]models.SystemEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a system event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert writes the event, skipping rows whose idempotency key already exists. The
// boolean reports whether a row was written.
func (r *repository) Insert(ctx context.Context, event *models.SystemEvent) (bool, error) {
	query := r.db.WithContext(ctx)
	if event.IdempotencyKey != nil {
		query = query.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		})
	}
	res := query.Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListForEntity(ctx context.Context, ref types.Reference) ([]models.SystemEvent, error) {
	var rows []models.SystemEvent
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Kind, ref.ID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
