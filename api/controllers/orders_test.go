package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/pkg/db/models"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/pagination"
	"github.com/digimarket/marketcore/pkg/types"
)

type stubOrderReader struct {
	detail    *orders.OrderDetail
	list      *orders.OrderList
	err       error
	gotActor  types.Actor
	gotOrder  uint64
	gotUser   uint64
	gotParams pagination.Params
}

func (s *stubOrderReader) Detail(ctx context.Context, orderID uint64, actor types.Actor) (*orders.OrderDetail, error) {
	s.gotOrder, s.gotActor = orderID, actor
	return s.detail, s.err
}

func (s *stubOrderReader) List(ctx context.Context, userID uint64, params pagination.Params) (*orders.OrderList, error) {
	s.gotUser, s.gotParams = userID, params
	return s.list, s.err
}

func TestListOrdersPassesPagination(t *testing.T) {
	svc := &stubOrderReader{list: &orders.OrderList{Orders: []orders.OrderSummary{{ID: 2}}, NextCursor: "next"}}
	req := newRequest(t, http.MethodGet, "/api/v1/orders?limit=10&cursor=abc", nil, &customer)
	resp := httptest.NewRecorder()

	ListOrders(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotUser != customer.UserID || svc.gotParams.Limit != 10 || svc.gotParams.Cursor != "abc" {
		t.Fatalf("unexpected list call user=%d params=%+v", svc.gotUser, svc.gotParams)
	}
	var list orders.OrderList
	decodeData(t, resp, &list)
	if len(list.Orders) != 1 || list.NextCursor != "next" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestOrderDetailForwardsActor(t *testing.T) {
	svc := &stubOrderReader{detail: &orders.OrderDetail{Order: models.Order{ID: 9}}}
	req := newRequest(t, http.MethodGet, "/api/v1/orders/9", nil, &customer, "orderId", "9")
	resp := httptest.NewRecorder()

	OrderDetail(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotOrder != 9 || svc.gotActor != customer {
		t.Fatalf("unexpected detail call order=%d actor=%+v", svc.gotOrder, svc.gotActor)
	}
}

func TestOrderDetailForbidden(t *testing.T) {
	svc := &stubOrderReader{err: pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")}
	req := newRequest(t, http.MethodGet, "/api/v1/orders/9", nil, &customer, "orderId", "9")
	resp := httptest.NewRecorder()

	OrderDetail(svc, testLogger())(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}
