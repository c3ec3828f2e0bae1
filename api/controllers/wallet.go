package controllers

import (
	"context"
	"net/http"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/api/responses"
	"github.com/digimarket/marketcore/api/validators"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/logger"
)

// WalletReader exposes the caller's wallet and its recent postings.
type WalletReader interface {
	ForUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.Wallet, error)
	History(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error)
}

type walletResponse struct {
	Wallet       *models.Wallet             `json:"wallet"`
	Transactions []models.WalletTransaction `json:"transactions"`
}

// Wallet returns the caller's balance plus the latest transactions (limit query, 1..100).
func Wallet(svc WalletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.ForUser(r.Context(), nil, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.History(r.Context(), wallet.ID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if history == nil {
			history = []models.WalletTransaction{}
		}
		responses.WriteSuccess(w, walletResponse{Wallet: wallet, Transactions: history})
	}
}
