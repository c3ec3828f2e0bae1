package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	paginationpkg "github.com/digimarket/marketcore/pkg/pagination"
)

type fakeRepository struct {
	createFn      func(ctx context.Context, notification *models.Notification) error
	listFn        func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn    func(ctx context.Context, userID, notificationID uint64, now time.Time) (notificationMarkResult, error)
	markAllReadFn func(ctx context.Context, userID uint64, now time.Time) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, notification)
	}
	return nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID, notificationID uint64, now time.Time) (notificationMarkResult, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, notificationID, now)
	}
	return notificationMarkResult{}, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

type recordingPublisher struct {
	channels []string
	messages []any
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message any) error {
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return p.err
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(ServiceParams{Repo: repo})
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: 9, CreatedAt: time.Now()}
	second := models.Notification{ID: 8, CreatedAt: time.Now().Add(-time.Hour)}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{ID: second.ID}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{UserID: 5, Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != second.ID {
		t.Fatalf("expected cursor id %d got %d", second.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{UserID: 5, Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	if code := pkgerrors.As(err).Code(); code != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", code)
	}
}

func TestService_MarkRead(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uint64, now time.Time) (notificationMarkResult, error) {
			return notificationMarkResult{Found: true, Updated: true}, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), 5, 10); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uint64, now time.Time) (notificationMarkResult, error) {
			return notificationMarkResult{Found: false}, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), 5, 10); err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID uint64, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.MarkAllRead(context.Background(), 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_NotifySwallowsErrors(t *testing.T) {
	calls := 0
	repo := &fakeRepository{
		createFn: func(ctx context.Context, notification *models.Notification) error {
			calls++
			return errors.New("db down")
		},
	}
	svc := newServiceWithRepo(repo)
	svc.Notify(context.Background(), 3, enums.NotificationFulfillmentFailed, map[string]any{"fulfillment_id": 1})
	svc.Notify(context.Background(), 0, enums.NotificationFulfillmentFailed, nil)
	if calls != 1 {
		t.Fatalf("expected one create call, got %d", calls)
	}
}

func TestService_BroadcastPublishes(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	svc, err := NewService(ServiceParams{Repo: &fakeRepository{}, Publisher: pub})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Broadcast(context.Background(), ChannelFulfillments, map[string]any{"fulfillment_id": 4})
	if len(pub.channels) != 1 || pub.channels[0] != ChannelFulfillments {
		t.Fatalf("unexpected publishes %v", pub.channels)
	}
	message, ok := pub.messages[0].(map[string]any)
	if !ok || message["fulfillment_id"] != 4 {
		t.Fatalf("unexpected message %#v", pub.messages[0])
	}
}

func TestRepository_ListPagesByID(t *testing.T) {
	_, conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := newServiceWithRepo(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Notify(ctx, 7, enums.NotificationOrderPaid, map[string]any{"n": i})
	}
	svc.Notify(ctx, 8, enums.NotificationOrderPaid, nil)

	page, err := svc.List(ctx, ListParams{UserID: 7, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Cursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page.Items[0].ID < page.Items[1].ID {
		t.Fatal("expected newest first")
	}
	rest, err := svc.List(ctx, ListParams{UserID: 7, Limit: 2, Cursor: page.Cursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(rest.Items) != 1 || rest.Cursor != "" {
		t.Fatalf("unexpected second page %+v", rest)
	}

	if err := svc.MarkRead(ctx, 7, rest.Items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, 8, rest.Items[0].ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	count, err := svc.MarkAllRead(ctx, 7)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 rows marked, got %d %v", count, err)
	}
}
