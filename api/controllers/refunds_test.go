package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/types"
)

type stubRefundService struct {
	txn       *models.WalletTransaction
	err       error
	gotID     uint64
	gotActor  types.Actor
	gotReason string
}

func (s *stubRefundService) Request(ctx context.Context, orderItemID uint64, actor types.Actor) (*models.WalletTransaction, error) {
	s.gotID, s.gotActor = orderItemID, actor
	return s.txn, s.err
}

func (s *stubRefundService) Approve(ctx context.Context, txnID uint64, admin types.Actor) (*models.WalletTransaction, error) {
	s.gotID, s.gotActor = txnID, admin
	return s.txn, s.err
}

func (s *stubRefundService) Reject(ctx context.Context, txnID uint64, admin types.Actor, reason string) (*models.WalletTransaction, error) {
	s.gotID, s.gotActor, s.gotReason = txnID, admin, reason
	return s.txn, s.err
}

func TestRequestRefundAccepted(t *testing.T) {
	svc := &stubRefundService{txn: &models.WalletTransaction{ID: 30, Status: enums.TransactionStatusPending}}
	req := newRequest(t, http.MethodPost, "/api/v1/order-items/4/refund", nil, &customer, "itemId", "4")
	resp := httptest.NewRecorder()

	RequestRefund(svc, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotID != 4 || svc.gotActor != customer {
		t.Fatalf("unexpected request call id=%d actor=%+v", svc.gotID, svc.gotActor)
	}
}

func TestRequestRefundStateConflict(t *testing.T) {
	svc := &stubRefundService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order item is not refundable")}
	req := newRequest(t, http.MethodPost, "/api/v1/order-items/4/refund", nil, &customer, "itemId", "4")
	resp := httptest.NewRecorder()

	RequestRefund(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if env := decodeError(t, resp); env.Error.Message != "order item is not refundable" {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
}

func TestApproveRefund(t *testing.T) {
	svc := &stubRefundService{txn: &models.WalletTransaction{ID: 30, Status: enums.TransactionStatusPosted}}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/refunds/30/approve", nil, &admin, "txId", "30")
	resp := httptest.NewRecorder()

	ApproveRefund(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotID != 30 || svc.gotActor != admin {
		t.Fatalf("unexpected approve call id=%d actor=%+v", svc.gotID, svc.gotActor)
	}
}

func TestRejectRefundTrimsReason(t *testing.T) {
	svc := &stubRefundService{txn: &models.WalletTransaction{ID: 30, Status: enums.TransactionStatusRejected}}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/refunds/30/reject", map[string]string{"reason": "  delivered fine  "}, &admin, "txId", "30")
	resp := httptest.NewRecorder()

	RejectRefund(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotReason != "delivered fine" {
		t.Fatalf("unexpected reason %q", svc.gotReason)
	}
}

func TestRejectRefundRequiresReason(t *testing.T) {
	svc := &stubRefundService{}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/refunds/30/reject", `{}`, &admin, "txId", "30")
	resp := httptest.NewRecorder()

	RejectRefund(svc, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if svc.gotID != 0 {
		t.Fatal("service must not be called")
	}
}
