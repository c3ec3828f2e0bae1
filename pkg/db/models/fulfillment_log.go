package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

// FulfillmentLog is an append-only trail entry for a fulfillment.
type FulfillmentLog struct {
	ID            uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FulfillmentID uint64            `gorm:"column:fulfillment_id;not null;index" json:"fulfillment_id"`
	Level         enums.LogLevel    `gorm:"column:level;type:text;not null" json:"level"`
	Message       string            `gorm:"column:message;type:text;not null" json:"message"`
	Context       datatypes.JSONMap `gorm:"column:context" json:"context"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (l *FulfillmentLog) BeforeUpdate(*gorm.DB) error {
	pkgerrors.Invariant("fulfillment logs are append-only")
	return nil
}

func (l *FulfillmentLog) BeforeDelete(*gorm.DB) error {
	pkgerrors.Invariant("fulfillment logs are append-only")
	return nil
}
