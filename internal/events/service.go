package events

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
)

const financialSavepoint = "system_event"

// ErrNotInTransaction is the panic value for financial events recorded without a unit of work.
var ErrNotInTransaction = fmt.Errorf("%w: financial event recorded outside a transaction", pkgerrors.ErrInvariant)

// Recorder is the surface other packages depend on.
type Recorder interface {
	RecordFinancial(ctx context.Context, tx *gorm.DB, event Event)
	RecordAsync(ctx context.Context, tx *gorm.DB, event Event)
}

// ServiceParams configure the system event service.
type ServiceParams struct {
	Repo         Repository
	Logger       *logger.Logger
	Intelligence *Intelligence
}

// Service mirrors domain activity into system_events. It never fails the caller:
// every persistence error is logged and swallowed.
type Service struct {
	repo  Repository
	logg  *logger.Logger
	intel *Intelligence
}

// NewService builds the system event service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("system event repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: params.Repo, logg: params.Logger, intel: params.Intelligence}, nil
}

// RecordFinancial writes event inside the caller's transaction so it commits or rolls
// back with the money movement. Insert failures are isolated behind a savepoint.
func (s *Service) RecordFinancial(ctx context.Context, tx *gorm.DB, event Event) {
	if !db.InTransaction(tx) {
		panic(fmt.Errorf("%w (%s)", ErrNotInTransaction, event.Type))
	}
	row := event.toModel(true, nil)
	if err := tx.SavePoint(financialSavepoint).Error; err != nil {
		s.logFailure(ctx, event, "system event savepoint failed", err)
		return
	}
	if _, err := s.repo.WithTx(tx).Insert(ctx, row); err != nil {
		if rbErr := tx.RollbackTo(financialSavepoint).Error; rbErr != nil {
			s.logFailure(ctx, event, "system event savepoint rollback failed", rbErr)
		}
		s.logFailure(ctx, event, "financial system event insert failed", err)
		return
	}
	_ = db.AfterCommit(tx, func(hookCtx context.Context) {
		s.observe(hookCtx, event)
	})
}

// RecordAsync persists event after tx commits, or immediately in its own write when
// tx is nil or not a unit of work. Duplicate keys are ignored.
func (s *Service) RecordAsync(ctx context.Context, tx *gorm.DB, event Event) {
	persist := func(hookCtx context.Context) {
		s.persistAsync(hookCtx, event)
		s.observe(hookCtx, event)
	}
	if tx != nil && db.AfterCommit(tx, persist) == nil {
		return
	}
	persist(ctx)
}

func (s *Service) persistAsync(ctx context.Context, event Event) {
	key := event.AsyncKey()
	written, err := s.repo.Insert(ctx, event.toModel(false, &key))
	if err != nil {
		if db.IsUniqueViolation(err, "idempotency_key") {
			return
		}
		s.logFailure(ctx, event, "async system event insert failed", err)
		return
	}
	if !written {
		s.logg.Debug(s.logg.WithField(ctx, "idempotency_key", key), "duplicate async system event skipped")
	}
}

func (s *Service) observe(ctx context.Context, event Event) {
	anomaly, ok := s.intel.Observe(ctx, event.Type)
	if !ok {
		return
	}
	alert := Event{
		Type:     enums.EventAnomalyDetected,
		Entity:   event.Entity,
		Severity: enums.SeverityWarning,
		Suffix:   event.Type.String() + ":" + strconv.FormatInt(anomaly.WindowStart.Unix(), 10),
		Payload: map[string]any{
			"observed_type": event.Type.String(),
			"count":         anomaly.Count,
			"threshold":     anomaly.Threshold,
			"window_start":  anomaly.WindowStart,
		},
	}
	s.logg.Warn(s.logg.WithFields(ctx, alert.Payload), "operational anomaly detected")
	s.persistAsync(ctx, alert)
}

func (s *Service) logFailure(ctx context.Context, event Event, msg string, err error) {
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"event_type":  event.Type,
		"entity_type": event.Entity.Kind,
		"entity_id":   event.Entity.ID,
	}), msg, err)
}

// Nop discards every event; used where the mirror is not wired.
type Nop struct{}

func (Nop) RecordFinancial(context.Context, *gorm.DB, Event) {}
func (Nop) RecordAsync(context.Context, *gorm.DB, Event)     {}
