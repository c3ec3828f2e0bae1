package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/api/responses"
	"github.com/digimarket/marketcore/api/validators"
	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
)

// IdempotencyHeader carries the client key for money-moving admin requests.
const IdempotencyHeader = "Idempotency-Key"

// LedgerAdmin is the administrative side of the ledger.
type LedgerAdmin interface {
	FindWallet(ctx context.Context, walletID uint64) (*models.Wallet, error)
	History(ctx context.Context, walletID uint64, limit int) ([]models.WalletTransaction, error)
	Topup(ctx context.Context, input ledger.TopupInput) (*ledger.Posting, error)
	Adjust(ctx context.Context, input ledger.AdjustmentInput) (*ledger.Posting, error)
	Reconcile(ctx context.Context, walletID uint64) (*ledger.Reconciliation, error)
}

type topupRequest struct {
	Amount string `json:"amount" validate:"required,money"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

type adjustmentRequest struct {
	Direction string `json:"direction" validate:"required,oneof=credit debit"`
	Amount    string `json:"amount" validate:"required,money"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

type postingResponse struct {
	Transaction *models.WalletTransaction `json:"transaction"`
	Wallet      *models.Wallet            `json:"wallet"`
	Replayed    bool                      `json:"replayed"`
}

func writePosting(w http.ResponseWriter, posting *ledger.Posting) {
	status := http.StatusCreated
	if posting.Replayed {
		status = http.StatusOK
	}
	responses.WriteSuccessStatus(w, status, postingResponse{
		Transaction: posting.Transaction,
		Wallet:      posting.Wallet,
		Replayed:    posting.Replayed,
	})
}

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		return "", pkgerrors.Validation("idempotency key is required", map[string]any{IdempotencyHeader: "is required"})
	}
	if len(key) > 128 {
		return "", pkgerrors.Validation("idempotency key too long", map[string]any{IdempotencyHeader: "must be at most 128 characters"})
	}
	return key, nil
}

// TopupWallet credits a user's wallet. Replays of the same key return the first posting.
func TopupWallet(svc LedgerAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload topupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var meta map[string]any
		if note := validators.SanitizeString(payload.Note, 500); note != "" {
			meta = map[string]any{"note": note}
		}
		posting, err := svc.Topup(r.Context(), ledger.TopupInput{
			UserID:         userID,
			Amount:         decimal.RequireFromString(payload.Amount),
			IdempotencyKey: key,
			Actor:          actor,
			Meta:           meta,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writePosting(w, posting)
	}
}

// AdjustWallet posts a signed administrative correction.
func AdjustWallet(svc LedgerAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		walletID, err := validators.ParseIDParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload adjustmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		posting, err := svc.Adjust(r.Context(), ledger.AdjustmentInput{
			WalletID:       walletID,
			Direction:      enums.TransactionDirection(payload.Direction),
			Amount:         decimal.RequireFromString(payload.Amount),
			Reason:         validators.SanitizeString(payload.Reason, 500),
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writePosting(w, posting)
	}
}

// ReconcileWallet compares the cached balance with the sum of posted transactions.
func ReconcileWallet(svc LedgerAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		walletID, err := validators.ParseIDParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Reconcile(r.Context(), walletID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// WalletTransactions returns any wallet with its latest postings.
func WalletTransactions(svc LedgerAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		walletID, err := validators.ParseIDParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := svc.FindWallet(r.Context(), walletID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.History(r.Context(), walletID, limit)
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
