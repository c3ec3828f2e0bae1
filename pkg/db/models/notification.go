package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/digimarket/marketcore/pkg/enums"
)

// Notification stores in-app notifications for a user.
type Notification struct {
	ID        uint64                 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    uint64                 `gorm:"column:user_id;not null;index" json:"user_id"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null" json:"type"`
	Payload   datatypes.JSONMap      `gorm:"column:payload" json:"payload"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
