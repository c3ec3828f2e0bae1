package controllers

import (
	"context"
	"net/http"

	"github.com/digimarket/marketcore/api/responses"
	"github.com/digimarket/marketcore/api/validators"
	"github.com/digimarket/marketcore/internal/fulfillment"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

// FulfillmentService drives fulfillment transitions.
type FulfillmentService interface {
	Start(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*fulfillment.Result, error)
	Complete(ctx context.Context, fulfillmentID uint64, actor types.Actor, delivered map[string]any) (*fulfillment.Result, error)
	Fail(ctx context.Context, fulfillmentID uint64, actor types.Actor, reason string) (*fulfillment.Result, error)
	Retry(ctx context.Context, fulfillmentID uint64, actor types.Actor) (*fulfillment.Result, error)
	Find(ctx context.Context, fulfillmentID uint64) (*models.Fulfillment, error)
	Logs(ctx context.Context, fulfillmentID uint64) ([]models.FulfillmentLog, error)
}

type completeFulfillmentRequest struct {
	Delivered map[string]any `json:"delivered,omitempty"`
}

type failFulfillmentRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type fulfillmentDetail struct {
	Fulfillment *models.Fulfillment     `json:"fulfillment"`
	Logs        []models.FulfillmentLog `json:"logs"`
}

// transition resolves the actor and path id shared by every fulfillment transition.
func transition(svc FulfillmentService, logg *logger.Logger, apply func(r *http.Request, id uint64, actor types.Actor) (*fulfillment.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("fulfillment"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseIDParam(r, "fulfillmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := apply(r, id, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// StartFulfillment moves a queued fulfillment to processing.
func StartFulfillment(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, id uint64, actor types.Actor) (*fulfillment.Result, error) {
		return svc.Start(r.Context(), id, actor)
	})
}

// CompleteFulfillment records delivery. The body is optional.
func CompleteFulfillment(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, id uint64, actor types.Actor) (*fulfillment.Result, error) {
		var payload completeFulfillmentRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				return nil, err
			}
		}
		return svc.Complete(r.Context(), id, actor, payload.Delivered)
	})
}

// FailFulfillment marks an attempt failed with a reason.
func FailFulfillment(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, id uint64, actor types.Actor) (*fulfillment.Result, error) {
		var payload failFulfillmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Fail(r.Context(), id, actor, validators.SanitizeString(payload.Reason, 1000))
	})
}

// RetryFulfillment requeues a failed fulfillment.
func RetryFulfillment(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(r *http.Request, id uint64, actor types.Actor) (*fulfillment.Result, error) {
		return svc.Retry(r.Context(), id, actor)
	})
}

// FulfillmentDetail returns a fulfillment with its append-only log.
func FulfillmentDetail(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("fulfillment"))
			return
		}
		id, err := validators.ParseIDParam(r, "fulfillmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		f, err := svc.Find(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logs, err := svc.Logs(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logs == nil {
			logs = []models.FulfillmentLog{}
		}
		responses.WriteSuccess(w, fulfillmentDetail{Fulfillment: f, Logs: logs})
	}
}
