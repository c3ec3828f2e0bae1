package audit

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/types"
)

func TestActivityLoggerWritesAfterCommit(t *testing.T) {
	client, conn := dbtest.Open(t)
	recorder, err := NewActivityLogger(conn, logger.Nop())
	if err != nil {
		t.Fatalf("new activity logger: %v", err)
	}
	ctx := context.Background()
	admin := types.Actor{UserID: 2, Role: enums.ActorRoleAdmin}

	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		recorder.Record(ctx, tx, Entry{Actor: admin, Action: "refund.approved", Subject: types.TransactionRef(9)})
		return nil
	}); err != nil {
		t.Fatalf("with tx: %v", err)
	}
	_ = client.WithTx(ctx, func(tx *gorm.DB) error {
		recorder.Record(ctx, tx, Entry{Actor: admin, Action: "refund.rejected", Subject: types.TransactionRef(9)})
		return errors.New("rollback")
	})
	recorder.Record(ctx, nil, Entry{Actor: types.SystemActor(), Action: "settlement.posted", Subject: types.SettlementRef(1)})

	var rows []models.ActivityLog
	if err := conn.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 activity rows, got %d", len(rows))
	}
	if rows[0].Action != "refund.approved" || rows[0].ActorID == nil || *rows[0].ActorID != 2 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].ActorID != nil || rows[1].ActorRole != "system" || rows[1].SubjectType != "settlement" {
		t.Fatalf("unexpected system row %+v", rows[1])
	}
}

func TestNewActivityLoggerRequiresDependencies(t *testing.T) {
	if _, err := NewActivityLogger(nil, logger.Nop()); err == nil {
		t.Fatal("expected error without database")
	}
}
