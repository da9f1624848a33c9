package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	"github.com/mlandesman/SAMS-sub020/internal/credit/repository"
	obsmetrics "github.com/mlandesman/SAMS-sub020/internal/observability/metrics"
	"github.com/mlandesman/SAMS-sub020/internal/unitlock"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"github.com/mlandesman/SAMS-sub020/pkg/actorctx"
	"github.com/mlandesman/SAMS-sub020/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        repository.Repository
	ClientSvc   clientdomain.Service
	Locks       *unitlock.Guard
	Invalidator yearviewdomain.Invalidator
	AuditSvc    auditdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        repository.Repository
	clientSvc   clientdomain.Service
	locks       *unitlock.Guard
	invalidator yearviewdomain.Invalidator
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("credit.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		clientSvc:   p.ClientSvc,
		locks:       p.Locks,
		invalidator: p.Invalidator,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// ApplyTx appends one entry inside the caller's transaction. The balance
// check and the append are all-or-nothing: a rejected entry leaves no row.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, entry *domain.Entry) (int64, error) {
	if entry == nil || entry.UnitID == 0 {
		return 0, domain.ErrInvalidUnit
	}
	if entry.Amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	switch entry.Type {
	case domain.EntryOverpayment, domain.EntryApplied, domain.EntryManualAdd, domain.EntryManualRemove, domain.EntryCorrection:
	default:
		return 0, domain.ErrInvalidEntryType
	}
	// Corrections carry either sign; every other type must match its
	// direction.
	if entry.Type != domain.EntryCorrection {
		if entry.Type.IsDebit() && entry.Amount > 0 {
			return 0, domain.ErrInvalidAmount
		}
		if !entry.Type.IsDebit() && entry.Amount < 0 {
			return 0, domain.ErrInvalidAmount
		}
	}

	balance, err := s.repo.SumAmounts(ctx, tx, entry.UnitID)
	if err != nil {
		return 0, err
	}
	newBalance := balance + entry.Amount
	if newBalance < 0 {
		return 0, domain.ErrInsufficientCredit
	}

	seq, err := s.repo.NextSeq(ctx, tx, entry.UnitID)
	if err != nil {
		return 0, err
	}

	entry.Seq = seq
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}

	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		return 0, err
	}

	s.obsMetrics.RecordCreditEntry(ctx, string(entry.Type))
	return newBalance, nil
}

func (s *Service) Balance(ctx context.Context, unitID snowflake.ID) (int64, error) {
	if unitID == 0 {
		return 0, domain.ErrInvalidUnit
	}
	return s.repo.SumAmounts(ctx, s.db, unitID)
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	if req.UnitID == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidUnit
	}

	afterSeq := int64(0)
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidUnit
		}
		afterSeq = cursor.Seq
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	entries, err := s.repo.ListAfter(ctx, s.db, req.UnitID, afterSeq, pageSize+1)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	resp := domain.HistoryResponse{Entries: entries}
	if len(entries) > pageSize {
		resp.Entries = entries[:pageSize]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{Seq: resp.Entries[pageSize-1].Seq})
		if err != nil {
			return domain.HistoryResponse{}, err
		}
		resp.NextPageToken = token
	}
	return resp, nil
}

// Adjust records a manual credit movement under the unit's write lock.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (*domain.Entry, error) {
	if req.Type != domain.EntryManualAdd && req.Type != domain.EntryManualRemove {
		return nil, domain.ErrInvalidEntryType
	}

	unit, err := s.clientSvc.GetUnit(ctx, req.UnitID)
	if err != nil {
		return nil, err
	}

	entry := &domain.Entry{
		ClientID: unit.ClientID,
		UnitID:   req.UnitID,
		Amount:   req.Amount,
		Type:     req.Type,
		Notes:    req.Notes,
	}

	err = s.locks.Do(ctx, req.UnitID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.ApplyTx(ctx, tx, entry); err != nil {
				return err
			}

			fiscalYears, err := s.activeFiscalYears(ctx, tx, req.UnitID)
			if err != nil {
				return err
			}
			for _, fy := range fiscalYears {
				if err := s.invalidator.PatchTx(ctx, tx, unit.ClientID, fy, req.UnitID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	actorType, actorID := actorctx.Actor(ctx)
	entryID := entry.ID.String()
	if auditErr := s.auditSvc.Record(ctx, auditdomain.Action{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     "credit.adjust",
		TargetType: "credit_ledger_entry",
		TargetID:   entryID,
		Metadata: map[string]any{
			"unit_id": req.UnitID.String(),
			"amount":  req.Amount,
			"type":    string(req.Type),
		},
	}); auditErr != nil {
		s.log.Warn("failed to write credit audit log", zap.Error(auditErr))
	}

	return entry, nil
}

// InsertCorrection splices an administrative correction into history. Every
// running balance after the insertion point is re-verified; this is the one
// operation that recomputes rather than increments, and it is O(n) in the
// number of later entries.
func (s *Service) InsertCorrection(ctx context.Context, unitID snowflake.ID, afterSeq int64, amount int64, notes string) (*domain.Entry, error) {
	if unitID == 0 {
		return nil, domain.ErrInvalidUnit
	}
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}

	unit, err := s.clientSvc.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	entry := &domain.Entry{
		ID:        s.genID.Generate(),
		ClientID:  unit.ClientID,
		UnitID:    unitID,
		Seq:       afterSeq + 1,
		Amount:    amount,
		Type:      domain.EntryCorrection,
		Notes:     notes,
		CreatedAt: s.clock.Now(),
	}

	err = s.locks.Do(ctx, unitID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.ShiftSeqFrom(ctx, tx, unitID, afterSeq+1); err != nil {
				return err
			}
			if err := s.repo.Insert(ctx, tx, entry); err != nil {
				return err
			}

			// Full recompute from zero: the correction may sit anywhere
			// in history, so every later prefix sum must be re-checked.
			entries, err := s.repo.ListAfter(ctx, tx, unitID, 0, 0)
			if err != nil {
				return err
			}
			var running int64
			for _, e := range entries {
				running += e.Amount
				if running < 0 {
					return domain.ErrInsufficientCredit
				}
			}

			fiscalYears, err := s.activeFiscalYears(ctx, tx, unitID)
			if err != nil {
				return err
			}
			for _, fy := range fiscalYears {
				if err := s.invalidator.PatchTx(ctx, tx, unit.ClientID, fy, unitID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) activeFiscalYears(ctx context.Context, tx *gorm.DB, unitID snowflake.ID) ([]int, error) {
	var fiscalYears []int
	err := tx.WithContext(ctx).Raw(
		`SELECT DISTINCT fiscal_year FROM obligations WHERE unit_id = ? ORDER BY fiscal_year`,
		unitID,
	).Scan(&fiscalYears).Error
	return fiscalYears, err
}
