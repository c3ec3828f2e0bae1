package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/money"
)

// Service tracks lifetime net spend and the checkout discount it unlocks.
type Service interface {
	Discount(ctx context.Context, tx *gorm.DB, userID uint64) (Tier, error)
	Recompute(ctx context.Context, userID uint64) (*models.LoyaltyAccount, error)
}

type service struct {
	repo  Repository
	tiers []Tier
	logg  *logger.Logger
	now   func() time.Time
}

// NewService wires the loyalty service. An empty tier list disables discounts.
func NewService(repo Repository, tiers []Tier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("loyalty repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tiers: tiers, logg: logg, now: time.Now}, nil
}

// Discount returns the tier recorded for userID. Users without an account get the
// entry tier (or a zero tier when none is configured).
func (s *service) Discount(ctx context.Context, tx *gorm.DB, userID uint64) (Tier, error) {
	account, err := s.repo.WithTx(tx).Find(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tier, _ := TierFor(s.tiers, decimal.Zero)
		return tier, nil
	}
	if err != nil {
		return Tier{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loyalty account")
	}
	return Tier{Name: account.Tier, Percent: account.DiscountPercentage}, nil
}

// Recompute derives lifetime net spend from posted purchases minus posted refunds and
// stores the resulting tier. It runs after commit and owns its write.
func (s *service) Recompute(ctx context.Context, userID uint64) (*models.LoyaltyAccount, error) {
	rows, err := s.repo.SpendTransactions(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load spend transactions")
	}
	spend := decimal.Zero
	for _, row := range rows {
		switch row.Type {
		case enums.TransactionTypePurchase:
			spend = spend.Add(row.Amount)
		case enums.TransactionTypeRefund:
			spend = spend.Sub(row.Amount)
		}
	}
	spend = money.Max(money.Round(spend), decimal.Zero)

	tier, _ := TierFor(s.tiers, spend)
	account := &models.LoyaltyAccount{
		UserID:             userID,
		LifetimeSpend:      spend,
		Tier:               tier.Name,
		DiscountPercentage: tier.Percent,
		RecomputedAt:       s.now().UTC(),
	}
	if account.Tier == "" {
		account.Tier = "none"
	}
	if err := s.repo.Upsert(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store loyalty account")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":        userID,
		"lifetime_spend": spend.StringFixed(2),
		"tier":           account.Tier,
	}), "loyalty recomputed")
	return account, nil
}
