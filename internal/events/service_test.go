package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) WindowCount(_ context.Context, scope string, window time.Duration, now time.Time) (int64, time.Time, error) {
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope], now.Truncate(window), nil
}

func newTestService(t *testing.T, intel *Intelligence) (*Service, *gorm.DB, func(context.Context, func(tx *gorm.DB) error) error) {
	t.Helper()
	client, conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repo:         NewRepository(conn),
		Logger:       logger.Nop(),
		Intelligence: intel,
	})
	require.NoError(t, err)
	return svc, conn, client.WithTx
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.SystemEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.SystemEvent{}).Where("type = ?", eventType).Count(&n).Error)
	return n
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without repository")
	}
	if _, err := NewService(ServiceParams{Repo: NewRepository(nil)}); err == nil {
		t.Fatal("expected error without logger")
	}
}

func TestRecordFinancialPanicsOutsideTransaction(t *testing.T) {
	svc, conn, _ := newTestService(t, nil)

	defer func() {
		recovered := recover()
		require.NotNil(t, recovered)
		err, ok := recovered.(error)
		require.True(t, ok)
		require.True(t, errors.Is(err, ErrNotInTransaction))
		require.True(t, pkgerrors.IsInvariant(recovered))
	}()
	svc.RecordFinancial(context.Background(), conn, Event{Type: enums.EventOrderPaid, Entity: types.OrderRef(1)})
}

func TestRecordFinancialCommitsWithTransaction(t *testing.T) {
	svc, conn, withTx := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, withTx(ctx, func(tx *gorm.DB) error {
		svc.RecordFinancial(ctx, tx, Event{
			Type:    enums.EventOrderPaid,
			Entity:  types.OrderRef(7),
			Payload: map[string]any{"total": "12.00"},
		})
		return nil
	}))

	rows, err := NewRepository(conn).ListForEntity(ctx, types.OrderRef(7))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Financial)
	require.Equal(t, enums.SeverityInfo, rows[0].Severity)
	require.Nil(t, rows[0].IdempotencyKey)
	require.Equal(t, "12.00", rows[0].Payload["total"])
}

func TestRecordFinancialRollsBackWithTransaction(t *testing.T) {
	svc, conn, withTx := newTestService(t, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := withTx(ctx, func(tx *gorm.DB) error {
		svc.RecordFinancial(ctx, tx, Event{Type: enums.EventOrderPaid, Entity: types.OrderRef(7)})
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, countEvents(t, conn, enums.EventOrderPaid))
}

func TestRecordAsyncWaitsForCommitAndDedupes(t *testing.T) {
	svc, conn, withTx := newTestService(t, nil)
	ctx := context.Background()
	event := Event{Type: enums.EventFulfillmentCompleted, Entity: types.FulfillmentRef(3)}

	require.NoError(t, withTx(ctx, func(tx *gorm.DB) error {
		svc.RecordAsync(ctx, tx, event)
		if n := countEvents(t, tx, enums.EventFulfillmentCompleted); n != 0 {
			t.Fatalf("expected async event deferred until commit, found %d", n)
		}
		return nil
	}))
	require.EqualValues(t, 1, countEvents(t, conn, enums.EventFulfillmentCompleted))

	svc.RecordAsync(ctx, nil, event)
	require.EqualValues(t, 1, countEvents(t, conn, enums.EventFulfillmentCompleted))

	rows, err := NewRepository(conn).ListForEntity(ctx, types.FulfillmentRef(3))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Financial)
	require.NotNil(t, rows[0].IdempotencyKey)
	require.Equal(t, "async:fulfillment.completed:fulfillment:3", *rows[0].IdempotencyKey)
}

func TestRecordAsyncDroppedOnRollback(t *testing.T) {
	svc, conn, withTx := newTestService(t, nil)
	ctx := context.Background()

	_ = withTx(ctx, func(tx *gorm.DB) error {
		svc.RecordAsync(ctx, tx, Event{Type: enums.EventFulfillmentFailed, Entity: types.FulfillmentRef(1)})
		return errors.New("rollback")
	})
	require.Zero(t, countEvents(t, conn, enums.EventFulfillmentFailed))
}

func TestRecordAsyncSuffixSeparatesRetries(t *testing.T) {
	svc, conn, _ := newTestService(t, nil)
	ctx := context.Background()

	svc.RecordAsync(ctx, nil, Event{Type: enums.EventFulfillmentRetried, Entity: types.FulfillmentRef(2), Suffix: "1"})
	svc.RecordAsync(ctx, nil, Event{Type: enums.EventFulfillmentRetried, Entity: types.FulfillmentRef(2), Suffix: "2"})
	require.EqualValues(t, 2, countEvents(t, conn, enums.EventFulfillmentRetried))
}

func TestAnomalyRecordedOncePerWindow(t *testing.T) {
	counter := &fakeCounter{}
	intel := NewIntelligence(counter, 10*time.Minute, Thresholds{enums.EventFulfillmentFailed: 3}, logger.Nop())
	intel.now = func() time.Time { return time.Date(2026, 3, 1, 12, 4, 0, 0, time.UTC) }
	svc, conn, _ := newTestService(t, intel)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		svc.RecordAsync(ctx, nil, Event{Type: enums.EventFulfillmentFailed, Entity: types.FulfillmentRef(i)})
	}

	require.EqualValues(t, 5, countEvents(t, conn, enums.EventFulfillmentFailed))
	require.EqualValues(t, 1, countEvents(t, conn, enums.EventAnomalyDetected))

	var anomaly models.SystemEvent
	require.NoError(t, conn.Where("type = ?", enums.EventAnomalyDetected).First(&anomaly).Error)
	require.Equal(t, enums.SeverityWarning, anomaly.Severity)
	require.Equal(t, "fulfillment.failed", anomaly.Payload["observed_type"])
}

func TestIntelligenceIgnoresCounterErrors(t *testing.T) {
	intel := NewIntelligence(&fakeCounter{err: errors.New("redis down")}, time.Minute, Thresholds{enums.EventRefundRequested: 1}, logger.Nop())
	if _, ok := intel.Observe(context.Background(), enums.EventRefundRequested); ok {
		t.Fatal("expected no anomaly when counter fails")
	}
}

func TestIntelligenceSkipsUnconfiguredTypes(t *testing.T) {
	intel := NewIntelligence(&fakeCounter{}, time.Minute, Thresholds{enums.EventRefundRequested: 1}, logger.Nop())
	if _, ok := intel.Observe(context.Background(), enums.EventOrderPaid); ok {
		t.Fatal("expected no anomaly for unconfigured type")
	}
	var nilIntel *Intelligence
	if _, ok := nilIntel.Observe(context.Background(), enums.EventRefundRequested); ok {
		t.Fatal("expected nil intelligence to be inert")
	}
}
