package catalog

import (
	"context"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
)

// Repository reads products and packages. The catalog is owned elsewhere; this side never writes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ProductsByIDs(ctx context.Context, ids []uint64) ([]models.Product, error)
	PackagesByIDs(ctx context.Context, ids []uint64) ([]models.ProductPackage, error)
	ListActive(ctx context.Context) ([]models.Product, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ProductsByIDs(ctx context.Context, ids []uint64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) PackagesByIDs(ctx context.Context, ids []uint64) ([]models.ProductPackage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.ProductPackage
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.Product, error) {
	var rows []models.Product
	if err := r.db.WithContext(ctx).
		Preload("Packages", "is_active = ?", true).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
