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

// CheckoutService is the checkout surface used by the HTTP layer.
type CheckoutService interface {
	Checkout(ctx context.Context, userID uint64, items any, meta map[string]any) (*models.Order, error)
	PayOrderWithWallet(ctx context.Context, orderID, walletID uint64) (*models.Order, error)
}

// WalletResolver finds (or provisions) the customer wallet of a user.
type WalletResolver interface {
	ForUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.Wallet, error)
}

type checkoutRequest struct {
	// Items stays loosely typed; the cart parser reports every bad field at once.
	Items any            `json:"items" validate:"required"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Checkout turns the submitted cart into a paid order for the calling user.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("checkout"))
			return
		}
		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), actor.UserID, payload.Items, payload.Meta)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// PayOrder retries wallet payment of one of the caller's unpaid orders.
func PayOrder(svc CheckoutService, wallets WalletResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("checkout"))
			return
		}
		if wallets == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("wallet"))
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

		wallet, err := wallets.ForUser(r.Context(), nil, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.PayOrderWithWallet(r.Context(), orderID, wallet.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
