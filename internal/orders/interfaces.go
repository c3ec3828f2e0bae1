package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/pagination"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, orderID uint64, updates map[string]any) error
	FindOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	FindOrderWithItems(ctx context.Context, orderID uint64) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	FindRecentByUser(ctx context.Context, userID uint64, statuses []enums.OrderStatus, limit int) ([]models.Order, error)
	ListByUser(ctx context.Context, userID uint64, params pagination.Params) ([]models.Order, *pagination.Cursor, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	ListItemsByOrder(ctx context.Context, orderID uint64) ([]models.OrderItem, error)
	FindOrderItem(ctx context.Context, itemID uint64) (*models.OrderItem, error)
	LockOrderItem(ctx context.Context, itemID uint64) (*models.OrderItem, error)
	UpdateOrderItem(ctx context.Context, itemID uint64, updates map[string]any) error
}
