package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

// Service loads catalog snapshots for pricing and order building.
type Service interface {
	Load(ctx context.Context, tx *gorm.DB, productIDs, packageIDs []uint64) (*Snapshot, error)
	ListActive(ctx context.Context) ([]models.Product, error)
}

type service struct {
	repo Repository
}

// NewService wires a catalog service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

// Snapshot is the set of products and packages referenced by one cart.
type Snapshot struct {
	products map[uint64]models.Product
	packages map[uint64]models.ProductPackage
}

// NewSnapshot indexes rows by id.
func NewSnapshot(products []models.Product, packages []models.ProductPackage) *Snapshot {
	snap := &Snapshot{
		products: make(map[uint64]models.Product, len(products)),
		packages: make(map[uint64]models.ProductPackage, len(packages)),
	}
	for _, p := range products {
		snap.products[p.ID] = p
	}
	for _, p := range packages {
		snap.packages[p.ID] = p
	}
	return snap
}

func (s *Snapshot) Product(id uint64) (models.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

func (s *Snapshot) Package(id uint64) (models.ProductPackage, bool) {
	p, ok := s.packages[id]
	return p, ok
}

// EntryPrice is the package override when present, else the product's entry price.
func EntryPrice(product models.Product, pkg *models.ProductPackage) decimal.Decimal {
	if pkg != nil && pkg.EntryPrice != nil {
		return *pkg.EntryPrice
	}
	return product.EntryPrice
}

func (s *service) Load(ctx context.Context, tx *gorm.DB, productIDs, packageIDs []uint64) (*Snapshot, error) {
	repo := s.repo.WithTx(tx)
	products, err := repo.ProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	packages, err := repo.PackagesByIDs(ctx, packageIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load packages")
	}
	return NewSnapshot(products, packages), nil
}

func (s *service) ListActive(ctx context.Context) ([]models.Product, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return rows, nil
}
