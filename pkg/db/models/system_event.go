package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

// SystemEvent is an advisory mirror row. Rows are insert-only.
type SystemEvent struct {
	ID             uint64                `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Type           enums.SystemEventType `gorm:"column:type;type:text;not null;index" json:"type"`
	EntityType     enums.ReferenceKind   `gorm:"column:entity_type;type:text;not null" json:"entity_type"`
	EntityID       uint64                `gorm:"column:entity_id;not null" json:"entity_id"`
	Severity       enums.EventSeverity   `gorm:"column:severity;type:text;not null" json:"severity"`
	Financial      bool                  `gorm:"column:financial;not null;default:false" json:"financial"`
	IdempotencyKey *string               `gorm:"column:idempotency_key;type:text;uniqueIndex:ux_system_events_idempotency_key" json:"idempotency_key"`
	Payload        datatypes.JSONMap     `gorm:"column:payload" json:"payload"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *SystemEvent) BeforeUpdate(*gorm.DB) error {
	pkgerrors.Invariant("system events are insert-only")
	return nil
}

func (e *SystemEvent) BeforeDelete(*gorm.DB) error {
	pkgerrors.Invariant("system events are insert-only")
	return nil
}
