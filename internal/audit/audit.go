// Package audit appends activity log rows for the admin viewer. Writes are best effort.
package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

// Entry is one audited action.
type Entry struct {
	Actor      types.Actor
	Action     string
	Subject    types.Reference
	Properties map[string]any
}

// Recorder is the surface the domain services depend on.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry)
}

// ActivityLogger writes entries once the surrounding transaction commits, or right
// away when there is none.
type ActivityLogger struct {
	db   *gorm.DB
	logg *logger.Logger
}

// NewActivityLogger binds the logger to the base connection used for post-commit writes.
func NewActivityLogger(conn *gorm.DB, logg *logger.Logger) (*ActivityLogger, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ActivityLogger{db: conn, logg: logg}, nil
}

func (a *ActivityLogger) Record(ctx context.Context, tx *gorm.DB, entry Entry) {
	write := func(hookCtx context.Context) { a.write(hookCtx, entry) }
	if tx != nil && db.AfterCommit(tx, write) == nil {
		return
	}
	write(ctx)
}

func (a *ActivityLogger) write(ctx context.Context, entry Entry) {
	row := &models.ActivityLog{
		ActorRole:   string(entry.Actor.Role),
		Action:      entry.Action,
		SubjectType: string(entry.Subject.Kind),
		SubjectID:   entry.Subject.ID,
		Properties:  entry.Properties,
	}
	if entry.Actor.UserID != 0 {
		actorID := entry.Actor.UserID
		row.ActorID = &actorID
	}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		a.logg.Error(a.logg.WithFields(ctx, map[string]any{
			"action":  entry.Action,
			"subject": entry.Subject.String(),
		}), "write activity log", err)
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, *gorm.DB, Entry) {}
