// Package settlement sweeps the margin of completed, unrefunded deliveries into the
// platform wallet in batches.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/money"
	"github.com/digimarket/marketcore/pkg/types"
)

// DefaultBatchSize caps the fulfillments settled by one run.
const DefaultBatchSize = 500

// Service runs settlement batches.
type Service interface {
	Run(ctx context.Context) (*Summary, error)
	Find(ctx context.Context, settlementID uint64) (*Detail, error)
	Recent(ctx context.Context, limit int) ([]models.Settlement, error)
}

// CandidateSource lists completed fulfillments that are not linked to a settlement.
type CandidateSource interface {
	CompletedUnsettled(ctx context.Context, tx *gorm.DB, afterID uint64, limit int) ([]models.Fulfillment, error)
}

// RefundLookup reports posted refunds by reference.
type RefundLookup interface {
	PostedRefunds(ctx context.Context, tx *gorm.DB, refs ...types.Reference) ([]models.WalletTransaction, error)
}

// Poster credits the platform wallet.
type Poster interface {
	PostSettlement(ctx context.Context, tx *gorm.DB, settlementID uint64, amount decimal.Decimal, meta map[string]any) (*ledger.Posting, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wire the settlement service. Audit and Events are optional.
type ServiceParams struct {
	Repo       Repository
	Candidates CandidateSource
	Refunds    RefundLookup
	Ledger     Poster
	Tx         txRunner
	Audit      audit.Recorder
	Events     events.Recorder
	Logger     *logger.Logger
	BatchSize  int
}

type service struct {
	repo       Repository
	candidates CandidateSource
	refunds    RefundLookup
	ledger     Poster
	tx         txRunner
	audit      audit.Recorder
	events     events.Recorder
	logg       *logger.Logger
	batchSize  int
}

// Summary describes one run. An empty run has no SettlementID.
type Summary struct {
	SettlementID   uint64          `json:"settlement_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	FulfillmentIDs []uint64        `json:"fulfillment_ids"`
	Excluded       []uint64        `json:"excluded_fulfillment_ids,omitempty"`
	TransactionID  uint64          `json:"wallet_transaction_id,omitempty"`
}

// Empty reports whether the run settled nothing.
func (s Summary) Empty() bool {
	return s.SettlementID == 0
}

// Detail is a settlement header with its links.
type Detail struct {
	Settlement models.Settlement              `json:"settlement"`
	Links      []models.SettlementFulfillment `json:"fulfillments"`
}

// errLostRace aborts a run whose links collided with a concurrent run.
var errLostRace = errors.New("settlement: fulfillments already settled by a concurrent run")

// NewService wires the settlement service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.Candidates == nil {
		return nil, fmt.Errorf("candidate source required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund lookup required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	recorder := params.Events
	if recorder == nil {
		recorder = events.Nop{}
	}
	auditor := params.Audit
	if auditor == nil {
		auditor = audit.Nop{}
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &service{
		repo:       params.Repo,
		candidates: params.Candidates,
		refunds:    params.Refunds,
		ledger:     params.Ledger,
		tx:         params.Tx,
		audit:      auditor,
		events:     recorder,
		logg:       params.Logger,
		batchSize:  batch,
	}, nil
}

type line struct {
	fulfillment models.Fulfillment
	profit      decimal.Decimal
}

// Run settles up to one batch of completed fulfillments. Each included fulfillment
// contributes unit_price - entry_price of its order item. Fulfillments with a posted
// refund are skipped and stay unsettled. A batch with no fulfillments writes nothing;
// a batch whose total is not positive is recorded without a ledger posting.
func (s *service) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{TotalAmount: decimal.Zero, FulfillmentIDs: []uint64{}}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines, excluded, err := s.collect(ctx, tx)
		if err != nil {
			return err
		}
		summary.Excluded = excluded
		if len(lines) == 0 {
			return nil
		}

		total := decimal.Zero
		for _, l := range lines {
			total = total.Add(l.profit)
		}
		total = money.Round(total)

		repo := s.repo.WithTx(tx)
		header := &models.Settlement{TotalAmount: total, FulfillmentCount: len(lines)}
		if err := repo.Create(ctx, header); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement")
		}
		links := make([]models.SettlementFulfillment, 0, len(lines))
		ids := make([]uint64, 0, len(lines))
		for _, l := range lines {
			links = append(links, models.SettlementFulfillment{
				SettlementID:  header.ID,
				FulfillmentID: l.fulfillment.ID,
				Profit:        l.profit,
			})
			ids = append(ids, l.fulfillment.ID)
		}
		if err := repo.CreateLinks(ctx, links); err != nil {
			if db.IsUniqueViolation(err, "fulfillment_id") {
				return errLostRace
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link settled fulfillments")
		}

		summary.SettlementID = header.ID
		summary.TotalAmount = total
		summary.FulfillmentIDs = ids

		meta := map[string]any{"settlement_id": header.ID, "fulfillment_count": len(lines)}
		if total.IsPositive() {
			posting, err := s.ledger.PostSettlement(ctx, tx, header.ID, total, meta)
			if err != nil {
				return err
			}
			if err := repo.SetTransaction(ctx, header.ID, posting.Transaction.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link settlement transaction")
			}
			summary.TransactionID = posting.Transaction.ID
		}

		payload := map[string]any{
			"settlement_id":     header.ID,
			"total_amount":      total.StringFixed(2),
			"fulfillment_count": len(lines),
			"excluded_count":    len(excluded),
		}
		s.events.RecordFinancial(ctx, tx, events.Event{
			Type:    enums.EventSettlementPosted,
			Entity:  types.SettlementRef(header.ID),
			Payload: payload,
		})
		s.audit.Record(ctx, tx, audit.Entry{
			Actor:      types.SystemActor(),
			Action:     "settlement.posted",
			Subject:    types.SettlementRef(header.ID),
			Properties: payload,
		})
		return nil
	})
	if errors.Is(err, errLostRace) {
		s.logg.Warn(ctx, "settlement batch lost to a concurrent run")
		return &Summary{TotalAmount: decimal.Zero, FulfillmentIDs: []uint64{}}, nil
	}
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"settlement_id":     summary.SettlementID,
		"total_amount":      summary.TotalAmount.StringFixed(2),
		"fulfillment_count": len(summary.FulfillmentIDs),
		"excluded_count":    len(summary.Excluded),
	})
	if summary.Empty() {
		s.logg.Info(logCtx, "settlement run found nothing to settle")
	} else {
		s.logg.Info(logCtx, "settlement posted")
	}
	return summary, nil
}

// collect pages through candidates until a full batch of settleable fulfillments is
// found or candidates run out, so refunded rows cannot starve later ones.
func (s *service) collect(ctx context.Context, tx *gorm.DB) ([]line, []uint64, error) {
	var (
		lines    []line
		excluded []uint64
		afterID  uint64
	)
	for len(lines) < s.batchSize {
		page, err := s.candidates.CompletedUnsettled(ctx, tx, afterID, s.batchSize)
		if err != nil {
			return nil, nil, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		refunded, err := s.refundedSet(ctx, tx, page)
		if err != nil {
			return nil, nil, err
		}
		itemIDs := make([]uint64, 0, len(page))
		for _, f := range page {
			itemIDs = append(itemIDs, f.OrderItemID)
		}
		items, err := s.repo.WithTx(tx).OrderItemsByIDs(ctx, itemIDs)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		byID := make(map[uint64]models.OrderItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		for _, f := range page {
			if refunded[f.ID] {
				excluded = append(excluded, f.ID)
				continue
			}
			item, ok := byID[f.OrderItemID]
			if !ok {
				return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("order item %d missing for fulfillment %d", f.OrderItemID, f.ID))
			}
			lines = append(lines, line{fulfillment: f, profit: Profit(item)})
			if len(lines) == s.batchSize {
				break
			}
		}
		if len(page) < s.batchSize {
			break
		}
	}
	return lines, excluded, nil
}

// refundedSet marks fulfillments covered by a posted refund on the fulfillment, on
// its order, or on its order item when the refund names no other fulfillment.
func (s *service) refundedSet(ctx context.Context, tx *gorm.DB, page []models.Fulfillment) (map[uint64]bool, error) {
	refs := make([]types.Reference, 0, len(page)*3)
	for _, f := range page {
		refs = append(refs,
			types.FulfillmentRef(f.ID),
			types.OrderRef(f.OrderID),
			types.OrderItemRef(f.OrderItemID),
		)
	}
	posted, err := s.refunds.PostedRefunds(ctx, tx, refs...)
	if err != nil {
		return nil, err
	}

	byFulfillment := map[uint64]bool{}
	byOrder := map[uint64]bool{}
	byItem := map[uint64][]uint64{}
	for _, txn := range posted {
		ref, ok := txn.Reference()
		if !ok {
			continue
		}
		switch ref.Kind {
		case enums.ReferenceFulfillment:
			byFulfillment[ref.ID] = true
		case enums.ReferenceOrder:
			byOrder[ref.ID] = true
		case enums.ReferenceOrderItem:
			byItem[ref.ID] = append(byItem[ref.ID], uint64(models.MetaInt(txn.Meta, "fulfillment_id")))
		}
	}

	out := make(map[uint64]bool, len(page))
	for _, f := range page {
		if byFulfillment[f.ID] || byOrder[f.OrderID] {
			out[f.ID] = true
			continue
		}
		for _, named := range byItem[f.OrderItemID] {
			if named == 0 || named == f.ID {
				out[f.ID] = true
				break
			}
		}
	}
	return out, nil
}

// Profit is the platform margin of one delivered unit.
func Profit(item models.OrderItem) decimal.Decimal {
	return money.Round(item.UnitPrice.Sub(item.EntryPrice))
}

func (s *service) Find(ctx context.Context, settlementID uint64) (*Detail, error) {
	header, err := s.repo.Find(ctx, settlementID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	links, err := s.repo.ListLinks(ctx, settlementID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement links")
	}
	return &Detail{Settlement: *header, Links: links}, nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]models.Settlement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}
	return rows, nil
}
