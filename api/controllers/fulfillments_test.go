package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digimarket/marketcore/internal/fulfillment"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/types"
)

type stubFulfillmentService struct {
	calls        []string
	gotID        uint64
	gotActor     types.Actor
	gotDelivered map[string]any
	gotReason    string
	result       *fulfillment.Result
	err          error
}

func (s *stubFulfillmentService) record(name string, id uint64, actor types.Actor) (*fulfillment.Result, error) {
	s.calls = append(s.calls, name)
	s.gotID, s.gotActor = id, actor
	return s.result, s.err
}

func (s *stubFulfillmentService) Start(ctx context.Context, id uint64, actor types.Actor) (*fulfillment.Result, error) {
	return s.record("start", id, actor)
}

func (s *stubFulfillmentService) Complete(ctx context.Context, id uint64, actor types.Actor, delivered map[string]any) (*fulfillment.Result, error) {
	s.gotDelivered = delivered
	return s.record("complete", id, actor)
}

func (s *stubFulfillmentService) Fail(ctx context.Context, id uint64, actor types.Actor, reason string) (*fulfillment.Result, error) {
	s.gotReason = reason
	return s.record("fail", id, actor)
}

func (s *stubFulfillmentService) Retry(ctx context.Context, id uint64, actor types.Actor) (*fulfillment.Result, error) {
	return s.record("retry", id, actor)
}

func (s *stubFulfillmentService) Find(ctx context.Context, id uint64) (*models.Fulfillment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Fulfillment{ID: id, Status: enums.FulfillmentStatusFailed}, nil
}

func (s *stubFulfillmentService) Logs(ctx context.Context, id uint64) ([]models.FulfillmentLog, error) {
	return nil, nil
}

func okResult() *fulfillment.Result {
	return &fulfillment.Result{
		Fulfillment: &models.Fulfillment{ID: 8, Status: enums.FulfillmentStatusCompleted},
		ItemStatus:  enums.OrderItemStatusFulfilled,
		OrderStatus: enums.OrderStatusFulfilled,
		Changed:     true,
	}
}

func TestFulfillmentTransitionsRouteToService(t *testing.T) {
	cases := []struct {
		name    string
		handler func(FulfillmentService) http.HandlerFunc
		body    any
	}{
		{name: "start", handler: func(s FulfillmentService) http.HandlerFunc { return StartFulfillment(s, testLogger()) }},
		{name: "complete", handler: func(s FulfillmentService) http.HandlerFunc { return CompleteFulfillment(s, testLogger()) }},
		{name: "fail", handler: func(s FulfillmentService) http.HandlerFunc { return FailFulfillment(s, testLogger()) }, body: map[string]string{"reason": "provider timeout"}},
		{name: "retry", handler: func(s FulfillmentService) http.HandlerFunc { return RetryFulfillment(s, testLogger()) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubFulfillmentService{result: okResult()}
			req := newRequest(t, http.MethodPost, "/api/admin/v1/fulfillments/8/"+tc.name, tc.body, &admin, "fulfillmentId", "8")
			resp := httptest.NewRecorder()

			tc.handler(svc)(resp, req)

			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
			}
			if len(svc.calls) != 1 || svc.calls[0] != tc.name {
				t.Fatalf("unexpected calls %v", svc.calls)
			}
			if svc.gotID != 8 || svc.gotActor != admin {
				t.Fatalf("unexpected id=%d actor=%+v", svc.gotID, svc.gotActor)
			}
		})
	}
}

func TestCompleteFulfillmentPassesDelivered(t *testing.T) {
	svc := &stubFulfillmentService{result: okResult()}
	body := map[string]any{"delivered": map[string]any{"code": "ABC-123"}}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/fulfillments/8/complete", body, &admin, "fulfillmentId", "8")
	resp := httptest.NewRecorder()

	CompleteFulfillment(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotDelivered["code"] != "ABC-123" {
		t.Fatalf("unexpected delivered payload %#v", svc.gotDelivered)
	}
	var result fulfillment.Result
	decodeData(t, resp, &result)
	if !result.Changed || result.OrderStatus != enums.OrderStatusFulfilled {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestFailFulfillmentRequiresReason(t *testing.T) {
	svc := &stubFulfillmentService{}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/fulfillments/8/fail", `{"reason":""}`, &admin, "fulfillmentId", "8")
	resp := httptest.NewRecorder()

	FailFulfillment(svc, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service must not be called, got %v", svc.calls)
	}
}

func TestStartFulfillmentStateConflict(t *testing.T) {
	svc := &stubFulfillmentService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "cannot start a failed fulfillment")}
	req := newRequest(t, http.MethodPost, "/api/admin/v1/fulfillments/8/start", nil, &admin, "fulfillmentId", "8")
	resp := httptest.NewRecorder()

	StartFulfillment(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestFulfillmentDetailIncludesEmptyLogs(t *testing.T) {
	svc := &stubFulfillmentService{}
	req := newRequest(t, http.MethodGet, "/api/admin/v1/fulfillments/8", nil, &admin, "fulfillmentId", "8")
	resp := httptest.NewRecorder()

	FulfillmentDetail(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var detail struct {
		Fulfillment models.Fulfillment `json:"fulfillment"`
		Logs        []any              `json:"logs"`
	}
	decodeData(t, resp, &detail)
	if detail.Fulfillment.ID != 8 || detail.Logs == nil {
		t.Fatalf("unexpected detail %+v", detail)
	}
}
