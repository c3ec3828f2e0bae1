package controllers

import (
	"context"
	"net/http"

	"github.com/digimarket/marketcore/api/responses"
	"github.com/digimarket/marketcore/api/validators"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/pagination"
	"github.com/digimarket/marketcore/pkg/types"
)

// OrderReader is the read side of the orders service.
type OrderReader interface {
	Detail(ctx context.Context, orderID uint64, actor types.Actor) (*orders.OrderDetail, error)
	List(ctx context.Context, userID uint64, params pagination.Params) (*orders.OrderList, error)
}

// ListOrders pages the caller's orders, newest first.
func ListOrders(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, err := validators.ParseCursor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), actor.UserID, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// OrderDetail returns one order with its items and fulfillment attempts. Ownership is
// enforced by the service; admins may read any order.
func OrderDetail(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Detail(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
