package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/digimarket/marketcore/pkg/enums"
)

// Fulfillment is one delivery attempt for an order item. Retries reuse the row.
type Fulfillment struct {
	ID          uint64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID     uint64                  `gorm:"column:order_id;not null;index" json:"order_id"`
	OrderItemID uint64                  `gorm:"column:order_item_id;not null;index" json:"order_item_id"`
	Provider    string                  `gorm:"column:provider;type:text;not null;default:''" json:"provider"`
	Status      enums.FulfillmentStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	Attempts    int                     `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   *string                 `gorm:"column:last_error;type:text" json:"last_error"`
	ProcessedAt *time.Time              `gorm:"column:processed_at" json:"processed_at"`
	CompletedAt *time.Time              `gorm:"column:completed_at" json:"completed_at"`
	Meta        datatypes.JSONMap       `gorm:"column:meta" json:"meta"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// RetryCount reads meta.retry_count regardless of how the JSON number was decoded.
func (f Fulfillment) RetryCount() int {
	return MetaInt(f.Meta, "retry_count")
}

// MetaInt reads an integer out of a JSON map, tolerating float64 and json.Number encodings.
func MetaInt(meta datatypes.JSONMap, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// CloneMeta returns a shallow copy that is safe to mutate before persisting.
func CloneMeta(meta datatypes.JSONMap) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range meta {
		out[k] = v
	}
	return out
}
