package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is the audit trail consumed by the admin viewer.
type ActivityLog struct {
	ID          uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ActorID     *uint64           `gorm:"column:actor_id" json:"actor_id"`
	ActorRole   string            `gorm:"column:actor_role;type:text;not null" json:"actor_role"`
	Action      string            `gorm:"column:action;type:text;not null;index" json:"action"`
	SubjectType string            `gorm:"column:subject_type;type:text;not null" json:"subject_type"`
	SubjectID   uint64            `gorm:"column:subject_id;not null" json:"subject_id"`
	Properties  datatypes.JSONMap `gorm:"column:properties" json:"properties"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
