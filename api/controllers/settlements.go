package controllers

import (
	"context"
	"net/http"

	"github.com/digimarket/marketcore/api/responses"
	"github.com/digimarket/marketcore/api/validators"
	"github.com/digimarket/marketcore/internal/settlement"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/logger"
)

// SettlementService runs and reads settlement batches.
type SettlementService interface {
	Run(ctx context.Context) (*settlement.Summary, error)
	Find(ctx context.Context, settlementID uint64) (*settlement.Detail, error)
	Recent(ctx context.Context, limit int) ([]models.Settlement, error)
}

// RunSettlement settles one batch on demand. An empty batch is a 200 with an empty summary.
func RunSettlement(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settlement"))
			return
		}
		summary, err := svc.Run(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if summary == nil {
			summary = &settlement.Summary{FulfillmentIDs: []uint64{}}
		}
		responses.WriteSuccess(w, summary)
	}
}

// ListSettlements returns the most recent batches.
func ListSettlements(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settlement"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.Recent(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if rows == nil {
			rows = []models.Settlement{}
		}
		responses.WriteSuccess(w, rows)
	}
}

// SettlementDetail returns a batch with its fulfillment links.
func SettlementDetail(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settlement"))
			return
		}
		id, err := validators.ParseIDParam(r, "settlementId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Find(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
