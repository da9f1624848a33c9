package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/allocation"
	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/config"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	journaldomain "github.com/mlandesman/SAMS-sub020/internal/journal/domain"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	obsmetrics "github.com/mlandesman/SAMS-sub020/internal/observability/metrics"
	"github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	"github.com/mlandesman/SAMS-sub020/internal/penalty"
	"github.com/mlandesman/SAMS-sub020/internal/unitlock"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"github.com/mlandesman/SAMS-sub020/pkg/actorctx"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	ClientSvc   clientdomain.Service
	CreditSvc   creditdomain.Service
	JournalSvc  journaldomain.Service
	CrossrefSvc crossrefdomain.Service
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
	lockRetries int
	clientSvc   clientdomain.Service
	creditSvc   creditdomain.Service
	journalSvc  journaldomain.Service
	crossrefSvc crossrefdomain.Service
	locks       *unitlock.Guard
	invalidator yearviewdomain.Invalidator
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	retries := p.Config.PaymentLockRetries
	if retries < 1 {
		retries = 1
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		lockRetries: retries,
		clientSvc:   p.ClientSvc,
		creditSvc:   p.CreditSvc,
		journalSvc:  p.JournalSvc,
		crossrefSvc: p.CrossrefSvc,
		locks:       p.Locks,
		invalidator: p.Invalidator,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// RecordPayment commits one payment: read outstanding obligations, run
// the allocator, then apply obligation updates, the credit entry, the
// journal transaction, the cross-reference links, and the year-view
// patch in a single transaction under the unit's lock. The deterministic
// idempotency key makes a resubmitted payment a replay, never a
// double-apply.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.RecordPaymentResponse, error) {
	if req.UnitID == 0 {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidUnit
	}
	if req.Amount <= 0 {
		return domain.RecordPaymentResponse{}, domain.ErrInvalidAmount
	}
	if req.Date.IsZero() {
		req.Date = s.clock.Now()
	}
	if req.Method == "" {
		req.Method = "unknown"
	}

	unit, err := s.clientSvc.GetUnit(ctx, req.UnitID)
	if err != nil {
		return domain.RecordPaymentResponse{}, err
	}

	key := idempotencyKey(unit.ClientID, req)

	// Replay fast path before taking the lock.
	if existing, err := s.findByKey(ctx, s.db, key); err != nil {
		return domain.RecordPaymentResponse{}, err
	} else if existing != nil {
		return s.replay(ctx, existing)
	}

	var resp domain.RecordPaymentResponse
	for attempt := 0; attempt < s.lockRetries; attempt++ {
		err = s.locks.Do(ctx, req.UnitID, func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return s.recordTx(ctx, tx, unit, req, key, &resp)
			})
		})
		if !errors.Is(err, unitlock.ErrConflict) {
			break
		}
		s.log.Warn("unit lock contention, retrying payment",
			zap.String("unit_id", req.UnitID.String()),
			zap.Int("attempt", attempt+1))
	}
	if errors.Is(err, unitlock.ErrConflict) {
		return domain.RecordPaymentResponse{}, domain.ErrConcurrencyConflict
	}
	if err != nil {
		return domain.RecordPaymentResponse{}, err
	}

	if resp.Replayed {
		s.obsMetrics.RecordPaymentReplay(ctx)
		return resp, nil
	}

	s.obsMetrics.RecordPayment(ctx, req.Method)

	actorType, actorID := actorctx.Actor(ctx)
	if auditErr := s.auditSvc.Record(ctx, auditdomain.Action{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     "payment.record",
		TargetType: "payment_record",
		TargetID:   resp.Payment.ID.String(),
		Metadata: map[string]any{
			"unit_id":      req.UnitID.String(),
			"amount":       req.Amount,
			"method":       req.Method,
			"credit_delta": resp.Payment.CreditDelta,
			"allocations":  len(resp.Allocations),
		},
	}); auditErr != nil {
		s.log.Warn("failed to write payment audit log", zap.Error(auditErr))
	}

	return resp, nil
}

func (s *Service) recordTx(
	ctx context.Context,
	tx *gorm.DB,
	unit *clientdomain.Unit,
	req domain.RecordPaymentRequest,
	key string,
	resp *domain.RecordPaymentResponse,
) error {
	// Second replay check inside the lock. Two racing submissions of the
	// same payment resolve here: the loser sees the winner's row.
	if existing, err := s.findByKey(ctx, tx, key); err != nil {
		return err
	} else if existing != nil {
		replayed, err := s.replay(ctx, existing)
		if err != nil {
			return err
		}
		*resp = replayed
		return nil
	}

	outstanding, err := s.outstandingTx(ctx, tx, req.UnitID, req.Date)
	if err != nil {
		return err
	}

	plan, err := allocation.Allocate(req.Amount, outstanding.items)
	if err != nil {
		return err
	}

	seq, err := s.nextSeqTx(ctx, tx, req.UnitID)
	if err != nil {
		return err
	}

	reference := req.Reference
	if reference == "" {
		reference = ulid.Make().String()
	}

	now := s.clock.Now()
	payment := &domain.PaymentRecord{
		ID:             s.genID.Generate(),
		ClientID:       unit.ClientID,
		UnitID:         req.UnitID,
		Seq:            seq,
		Amount:         req.Amount,
		Date:           req.Date,
		Method:         req.Method,
		Reference:      reference,
		IdempotencyKey: key,
		CreditDelta:    plan.CreditDelta,
		CreatedAt:      now,
	}

	// Step 1: obligation mutations, oldest first.
	for _, alloc := range plan.Allocations {
		ob, ok := outstanding.byID[alloc.ObligationID]
		if !ok {
			return obligationdomain.ErrObligationNotFound
		}
		newPaidBase := ob.row.PaidBase + alloc.BasePortion
		newPaidPenalty := ob.row.PaidPenalty + alloc.PenaltyPortion

		status := obligationdomain.StatusPartiallyPaid
		if newPaidBase == ob.row.BaseAmount && alloc.PenaltyPortion == ob.penaltyDue {
			status = obligationdomain.StatusPaid
		}

		err := tx.WithContext(ctx).
			Model(&obligationdomain.Obligation{}).
			Where("id = ?", alloc.ObligationID).
			Updates(map[string]any{
				"paid_base":    newPaidBase,
				"paid_penalty": newPaidPenalty,
				"status":       string(status),
				"updated_at":   now,
			}).Error
		if err != nil {
			return err
		}
	}

	// Step 2: overpayment feeds the credit ledger.
	if plan.CreditDelta > 0 {
		entry := &creditdomain.Entry{
			ClientID:        unit.ClientID,
			UnitID:          req.UnitID,
			Amount:          plan.CreditDelta,
			Type:            creditdomain.EntryOverpayment,
			SourcePaymentID: payment.ID,
		}
		if _, err := s.creditSvc.ApplyTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	// Step 3: journal the transaction.
	transactionID, err := s.journalSvc.CreateTx(ctx, tx, &journaldomain.Transaction{
		ClientID:  unit.ClientID,
		UnitID:    req.UnitID,
		Amount:    req.Amount,
		Kind:      "payment",
		Reference: reference,
		Date:      req.Date,
	})
	if err != nil {
		return err
	}
	payment.TransactionID = transactionID

	if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
		return err
	}

	allocations := make([]domain.PaymentAllocation, 0, len(plan.Allocations))
	for _, alloc := range plan.Allocations {
		row := domain.PaymentAllocation{
			ID:             s.genID.Generate(),
			PaymentID:      payment.ID,
			ObligationID:   alloc.ObligationID,
			FiscalYear:     alloc.FiscalYear,
			PeriodIndex:    alloc.PeriodIndex,
			BasePortion:    alloc.BasePortion,
			PenaltyPortion: alloc.PenaltyPortion,
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
		allocations = append(allocations, row)

		// Step 4: cross-reference every settled period.
		if err := s.crossrefSvc.LinkTx(ctx, tx, unit.ClientID, req.UnitID, alloc.FiscalYear, alloc.PeriodIndex, transactionID); err != nil {
			return err
		}
	}

	// Step 5: patch the year view for every fiscal year this payment
	// touched. An overpayment moves the unit's credit balance, which the
	// view carries for each year the unit has obligations in, paid or not.
	years := allocatedFiscalYears(plan)
	if plan.CreditDelta > 0 {
		years, err = s.activeFiscalYearsTx(ctx, tx, req.UnitID)
		if err != nil {
			return err
		}
	}
	for _, fy := range years {
		if err := s.invalidator.PatchTx(ctx, tx, unit.ClientID, fy, req.UnitID); err != nil {
			return err
		}
	}

	resp.Payment = *payment
	resp.Allocations = allocations
	resp.Replayed = false
	return nil
}

type outstandingSet struct {
	items []allocation.Outstanding
	byID  map[snowflake.ID]outstandingRow
}

type outstandingRow struct {
	row        obligationdomain.Obligation
	penaltyDue int64
}

// outstandingTx reads the unit's non-paid obligations inside the
// transaction and prices each one's penalty as of the payment date
// against its period's frozen rate snapshot.
func (s *Service) outstandingTx(ctx context.Context, tx *gorm.DB, unitID snowflake.ID, asOf time.Time) (outstandingSet, error) {
	var rows []obligationdomain.Obligation
	err := tx.WithContext(ctx).
		Where("unit_id = ? AND status <> ?", unitID, obligationdomain.StatusPaid).
		Order("fiscal_year ASC, period_index ASC").
		Find(&rows).Error
	if err != nil {
		return outstandingSet{}, err
	}

	set := outstandingSet{byID: make(map[snowflake.ID]outstandingRow, len(rows))}

	for _, ob := range rows {
		var period obligationdomain.BillingPeriod
		err := tx.WithContext(ctx).
			Where("client_id = ? AND fiscal_year = ? AND period_index = ?", ob.ClientID, ob.FiscalYear, ob.PeriodIndex).
			First(&period).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return outstandingSet{}, obligationdomain.ErrPeriodNotFound
			}
			return outstandingSet{}, err
		}

		snapshot, err := period.Snapshot()
		if err != nil {
			return outstandingSet{}, err
		}

		penaltyDue, err := penalty.Due(penalty.Obligation{
			BaseAmount:  ob.BaseAmount,
			PaidBase:    ob.PaidBase,
			PaidPenalty: ob.PaidPenalty,
			Start:       period.StartDate,
			DueDate:     period.DueDate,
		}, asOf, snapshot)
		if err != nil {
			return outstandingSet{}, err
		}

		set.items = append(set.items, allocation.Outstanding{
			ObligationID: ob.ID,
			FiscalYear:   ob.FiscalYear,
			PeriodIndex:  ob.PeriodIndex,
			UnpaidBase:   ob.UnpaidBase(),
			PenaltyDue:   penaltyDue,
		})
		set.byID[ob.ID] = outstandingRow{row: ob, penaltyDue: penaltyDue}
	}
	return set, nil
}

func allocatedFiscalYears(plan allocation.Plan) []int {
	seen := make(map[int]struct{})
	var years []int
	for _, alloc := range plan.Allocations {
		if _, ok := seen[alloc.FiscalYear]; ok {
			continue
		}
		seen[alloc.FiscalYear] = struct{}{}
		years = append(years, alloc.FiscalYear)
	}
	return years
}

func (s *Service) activeFiscalYearsTx(ctx context.Context, tx *gorm.DB, unitID snowflake.ID) ([]int, error) {
	var years []int
	err := tx.WithContext(ctx).Raw(
		`SELECT DISTINCT fiscal_year FROM obligations WHERE unit_id = ? ORDER BY fiscal_year`,
		unitID,
	).Scan(&years).Error
	return years, err
}

func (s *Service) nextSeqTx(ctx context.Context, tx *gorm.DB, unitID snowflake.ID) (int64, error) {
	var seq int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM payment_records WHERE unit_id = ?`,
		unitID,
	).Scan(&seq).Error
	return seq, err
}

func (s *Service) findByKey(ctx context.Context, tx *gorm.DB, key string) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	err := tx.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) replay(ctx context.Context, record *domain.PaymentRecord) (domain.RecordPaymentResponse, error) {
	allocations, err := s.listAllocations(ctx, record.ID)
	if err != nil {
		return domain.RecordPaymentResponse{}, err
	}
	return domain.RecordPaymentResponse{
		Payment:     *record,
		Allocations: allocations,
		Replayed:    true,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PaymentRecord, []domain.PaymentAllocation, error) {
	var record domain.PaymentRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	allocations, err := s.listAllocations(ctx, record.ID)
	if err != nil {
		return nil, nil, err
	}
	return &record, allocations, nil
}

func (s *Service) ListForUnit(ctx context.Context, unitID snowflake.ID) ([]domain.PaymentRecord, error) {
	if unitID == 0 {
		return nil, domain.ErrInvalidUnit
	}
	var records []domain.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("seq ASC").
		Find(&records).Error
	return records, err
}

func (s *Service) listAllocations(ctx context.Context, paymentID snowflake.ID) ([]domain.PaymentAllocation, error) {
	var allocations []domain.PaymentAllocation
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("fiscal_year ASC, period_index ASC").
		Find(&allocations).Error
	return allocations, err
}

// idempotencyKey derives a deterministic key from the request identity
// fields, so a resubmission hashes to the same value without the client
// having to supply its own key.
func idempotencyKey(clientID snowflake.ID, req domain.RecordPaymentRequest) string {
	canonical := fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		clientID, req.UnitID, req.Amount,
		req.Date.UTC().Format(time.RFC3339),
		req.Method, req.Reference)
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
