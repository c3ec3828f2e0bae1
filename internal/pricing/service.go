package pricing

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

// Service hands out calculators over the current rule set.
type Service interface {
	Calculator(ctx context.Context, tx *gorm.DB) (*Calculator, error)
}

type service struct {
	repo Repository
}

// NewService wires a pricing service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	return &service{repo: repo}, nil
}

// Calculator loads the active rules (inside tx when given) and snapshots them.
func (s *service) Calculator(ctx context.Context, tx *gorm.DB) (*Calculator, error) {
	rules, err := s.repo.WithTx(tx).ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing rules")
	}
	return NewCalculator(rules), nil
}
