package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/pagination"
)

// Service defines notification delivery plus the user-facing list/read operations.
type Service interface {
	Notify(ctx context.Context, userID uint64, kind enums.NotificationType, payload map[string]any)
	Broadcast(ctx context.Context, channel string, payload map[string]any)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uint64) error
	MarkAllRead(ctx context.Context, userID uint64) (int64, error)
}

// Publisher fans a message out to live subscribers (redis pub/sub in production).
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type service struct {
	repo      Repository
	publisher Publisher
	logg      *logger.Logger
}

// ServiceParams wire the notifications service. Publisher is optional.
type ServiceParams struct {
	Repo      Repository
	Publisher Publisher
	Logger    *logger.Logger
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID     uint64
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: params.Repo, publisher: params.Publisher, logg: logg}, nil
}

// Notify stores an in-app notification. It runs from after-commit hooks, so failures
// are logged and dropped.
func (s *service) Notify(ctx context.Context, userID uint64, kind enums.NotificationType, payload map[string]any) {
	if userID == 0 {
		return
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID:  userID,
		Type:    kind,
		Payload: payload,
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"user_id":           userID,
			"notification_type": kind,
		}), "store notification", err)
	}
}

// Broadcast publishes a list-changed message for live dashboards.
func (s *service) Broadcast(ctx context.Context, channel string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	message := map[string]any{"channel": channel, "at": time.Now().UTC()}
	for k, v := range payload {
		message[k] = v
	}
	if err := s.publisher.Publish(ctx, channel, message); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"channel": channel,
			"error":   err.Error(),
		}), "broadcast failed")
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID:     params.UserID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uint64) error {
	if userID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uint64) (int64, error) {
	if userID == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

// Channel names used for list-changed broadcasts.
const (
	ChannelFulfillments = "fulfillments"
	ChannelRefunds      = "refunds"
	ChannelOrders       = "orders"
)

// UserChannel scopes a broadcast to one customer.
func UserChannel(userID uint64) string {
	return fmt.Sprintf("user:%d", userID)
}
