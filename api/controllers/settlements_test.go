package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/internal/settlement"
	"github.com/digimarket/marketcore/pkg/db/models"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

type stubSettlementService struct {
	summary  *settlement.Summary
	detail   *settlement.Detail
	recent   []models.Settlement
	err      error
	gotLimit int
}

func (s *stubSettlementService) Run(ctx context.Context) (*settlement.Summary, error) {
	return s.summary, s.err
}

func (s *stubSettlementService) Find(ctx context.Context, id uint64) (*settlement.Detail, error) {
	return s.detail, s.err
}

func (s *stubSettlementService) Recent(ctx context.Context, limit int) ([]models.Settlement, error) {
	s.gotLimit = limit
	return s.recent, s.err
}

func TestRunSettlementReturnsSummary(t *testing.T) {
	svc := &stubSettlementService{summary: &settlement.Summary{
		SettlementID:   4,
		TotalAmount:    decimal.RequireFromString("5.50"),
		FulfillmentIDs: []uint64{1, 2, 3},
	}}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/settlements/run", nil, &admin)
	resp := httptest.NewRecorder()

	RunSettlement(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary settlement.Summary
	decodeData(t, resp, &summary)
	if summary.SettlementID != 4 || !summary.TotalAmount.Equal(decimal.RequireFromString("5.5")) || len(summary.FulfillmentIDs) != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunSettlementEmptyBatch(t *testing.T) {
	req := newRequest(t, http.MethodPost, "/api/admin/v1/settlements/run", nil, &admin)
	resp := httptest.NewRecorder()

	RunSettlement(&stubSettlementService{}, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary settlement.Summary
	decodeData(t, resp, &summary)
	if !summary.Empty() {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestListSettlementsDefaultsLimit(t *testing.T) {
	svc := &stubSettlementService{}
	req := newRequest(t, http.MethodGet, "/api/admin/v1/settlements", nil, &admin)
	resp := httptest.NewRecorder()

	ListSettlements(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotLimit != 20 {
		t.Fatalf("expected default limit 20, got %d", svc.gotLimit)
	}
	if body := resp.Body.String(); body != "{\"data\":[]}\n" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestSettlementDetailNotFound(t *testing.T) {
	svc := &stubSettlementService{err: pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")}
	req := newRequest(t, http.MethodGet, "/api/admin/v1/settlements/99", nil, &admin, "settlementId", "99")
	resp := httptest.NewRecorder()

	SettlementDetail(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
