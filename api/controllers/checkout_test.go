package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

type stubCheckoutService struct {
	userID uint64
	items  any
	meta   map[string]any
	paid   [2]uint64
	order  *models.Order
	err    error
}

func (s *stubCheckoutService) Checkout(ctx context.Context, userID uint64, items any, meta map[string]any) (*models.Order, error) {
	s.userID, s.items, s.meta = userID, items, meta
	return s.order, s.err
}

func (s *stubCheckoutService) PayOrderWithWallet(ctx context.Context, orderID, walletID uint64) (*models.Order, error) {
	s.paid = [2]uint64{orderID, walletID}
	return s.order, s.err
}

type stubWalletResolver struct {
	wallet *models.Wallet
	err    error
}

func (s stubWalletResolver) ForUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.Wallet, error) {
	return s.wallet, s.err
}

func TestCheckoutCreatesOrder(t *testing.T) {
	svc := &stubCheckoutService{order: &models.Order{ID: 11, UserID: customer.UserID, Status: enums.OrderStatusPaid}}
	body := `{"items":[{"product_id":3,"quantity":2}],"meta":{"source":"web"}}`
	req := newRequest(t, http.MethodPost, "/api/v1/checkout", body, &customer)
	resp := httptest.NewRecorder()

	Checkout(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.userID != customer.UserID {
		t.Fatalf("expected user %d, got %d", customer.UserID, svc.userID)
	}
	items, ok := svc.items.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected raw item list, got %#v", svc.items)
	}
	if svc.meta["source"] != "web" {
		t.Fatalf("expected meta passed through, got %#v", svc.meta)
	}
	var order models.Order
	decodeData(t, resp, &order)
	if order.ID != 11 || order.Status != enums.OrderStatusPaid {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestCheckoutRequiresItems(t *testing.T) {
	svc := &stubCheckoutService{}
	req := newRequest(t, http.MethodPost, "/api/v1/checkout", `{"meta":{}}`, &customer)
	resp := httptest.NewRecorder()

	Checkout(svc, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	env := decodeError(t, resp)
	if env.Error.Details["items"] != "is required" {
		t.Fatalf("expected items detail, got %#v", env.Error.Details)
	}
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	req := newRequest(t, http.MethodPost, "/api/v1/checkout", `{"items":[],"coupon":"x"}`, &customer)
	resp := httptest.NewRecorder()

	Checkout(&stubCheckoutService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCheckoutWithoutActor(t *testing.T) {
	req := newRequest(t, http.MethodPost, "/api/v1/checkout", `{"items":[]}`, nil)
	resp := httptest.NewRecorder()

	Checkout(&stubCheckoutService{}, testLogger())(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCheckoutInsufficientBalance(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")}
	req := newRequest(t, http.MethodPost, "/api/v1/checkout", `{"items":[{"product_id":1,"quantity":1}]}`, &customer)
	resp := httptest.NewRecorder()

	Checkout(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if env := decodeError(t, resp); env.Error.Code != string(pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}
}

func TestPayOrderUsesCallerWallet(t *testing.T) {
	owner := customer.UserID
	svc := &stubCheckoutService{order: &models.Order{ID: 5, Status: enums.OrderStatusPaid}}
	wallets := stubWalletResolver{wallet: &models.Wallet{ID: 44, UserID: &owner}}
	req := newRequest(t, http.MethodPost, "/api/v1/orders/5/pay", nil, &customer, "orderId", "5")
	resp := httptest.NewRecorder()

	PayOrder(svc, wallets, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.paid != [2]uint64{5, 44} {
		t.Fatalf("unexpected pay call %v", svc.paid)
	}
}

func TestPayOrderRejectsBadID(t *testing.T) {
	req := newRequest(t, http.MethodPost, "/api/v1/orders/abc/pay", nil, &customer, "orderId", "abc")
	resp := httptest.NewRecorder()

	PayOrder(&stubCheckoutService{}, stubWalletResolver{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
