// Package importer performs the one-time initial data load: historical
// obligations, payments, credit entries, and the cross-reference mapping
// file. It runs single-threaded against a quiescent system, writes
// directly to the tables without per-unit locking, and must finish with
// the cross-reference integrity pass before live traffic is allowed.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	journaldomain "github.com/mlandesman/SAMS-sub020/internal/journal/domain"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	paymentdomain "github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUnknownUnit   = errors.New("import_unknown_unit")
	ErrInvalidImport = errors.New("invalid_import_file")
)

// File is the import payload. Payments accept either the allocations
// array or the legacy singular shape (one period per payment); the
// legacy shape is migrated into a one-element array on load.
type File struct {
	Client     ClientInput     `json:"client"`
	Units      []UnitInput     `json:"units"`
	Periods    []PeriodInput   `json:"periods"`
	Obligation []ObligationRow `json:"obligations"`
	Payments   []PaymentInput  `json:"payments"`
	Credits    []CreditInput   `json:"credit_entries"`
	CrossRefs  []CrossRefInput `json:"cross_references"`
}

type ClientInput struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	FiscalYearStartMonth int    `json:"fiscal_year_start_month"`
	PeriodsPerYear       int    `json:"periods_per_year"`
	DueDay               int    `json:"due_day"`
}

type UnitInput struct {
	Code  string `json:"code"`
	Owner string `json:"owner"`
}

type PeriodInput struct {
	FiscalYear  int              `json:"fiscal_year"`
	PeriodIndex int              `json:"period_index"`
	StartDate   time.Time        `json:"start_date"`
	DueDate     time.Time        `json:"due_date"`
	UnitRate    int64            `json:"unit_rate"`
	PenaltyRate string           `json:"penalty_rate"`
	GraceDays   int              `json:"grace_days"`
	Surcharges  map[string]int64 `json:"surcharges"`
}

type ObligationRow struct {
	UnitCode    string `json:"unit_code"`
	FiscalYear  int    `json:"fiscal_year"`
	PeriodIndex int    `json:"period_index"`
	BaseAmount  int64  `json:"base_amount"`
	PaidBase    int64  `json:"paid_base"`
	PaidPenalty int64  `json:"paid_penalty"`
	Status      string `json:"status"`
}

type PaymentInput struct {
	UnitCode    string            `json:"unit_code"`
	Amount      int64             `json:"amount"`
	Date        time.Time         `json:"date"`
	Method      string            `json:"method"`
	Reference   string            `json:"reference"`
	Allocations []AllocationInput `json:"allocations"`

	// Legacy singular shape: older exports carried one period per
	// payment record instead of the allocations array.
	PeriodIndex    int   `json:"period_index"`
	FiscalYear     int   `json:"fiscal_year"`
	BasePortion    int64 `json:"base_portion"`
	PenaltyPortion int64 `json:"penalty_portion"`
}

type AllocationInput struct {
	FiscalYear     int   `json:"fiscal_year"`
	PeriodIndex    int   `json:"period_index"`
	BasePortion    int64 `json:"base_portion"`
	PenaltyPortion int64 `json:"penalty_portion"`
}

type CreditInput struct {
	UnitCode string    `json:"unit_code"`
	Amount   int64     `json:"amount"`
	Type     string    `json:"type"`
	Notes    string    `json:"notes"`
	Date     time.Time `json:"date"`
}

type CrossRefInput struct {
	UnitCode      string `json:"unit_code"`
	FiscalYear    int    `json:"fiscal_year"`
	PeriodIndex   int    `json:"period_index"`
	TransactionID string `json:"transaction_id"`
}

// Summary reports what one import run wrote.
type Summary struct {
	ClientID    snowflake.ID
	Units       int
	Periods     int
	Obligations int
	Payments    int
	Credits     int
	CrossRefs   int
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	CrossrefSvc crossrefdomain.Service
	Invalidator yearviewdomain.Invalidator
}

type Importer struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	crossrefSvc crossrefdomain.Service
	invalidator yearviewdomain.Invalidator
}

func New(p Params) *Importer {
	return &Importer{
		db:          p.DB,
		log:         p.Log.Named("importer"),
		genID:       p.GenID,
		clock:       p.Clock,
		crossrefSvc: p.CrossrefSvc,
		invalidator: p.Invalidator,
	}
}

// Run decodes and loads one import file, then verifies cross-reference
// integrity. A dangling transaction id after load is fatal.
func (im *Importer) Run(ctx context.Context, r io.Reader) (Summary, error) {
	var file File
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if file.Client.Code == "" {
		return Summary{}, fmt.Errorf("%w: missing client code", ErrInvalidImport)
	}

	var summary Summary
	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		summary, txErr = im.loadTx(ctx, tx, file)
		return txErr
	})
	if err != nil {
		return Summary{}, err
	}

	if err := im.crossrefSvc.VerifyIntegrity(ctx, summary.ClientID); err != nil {
		return Summary{}, err
	}

	im.log.Info("import finished",
		zap.String("client_id", summary.ClientID.String()),
		zap.Int("units", summary.Units),
		zap.Int("obligations", summary.Obligations),
		zap.Int("payments", summary.Payments),
		zap.Int("credit_entries", summary.Credits),
		zap.Int("cross_references", summary.CrossRefs),
	)
	return summary, nil
}

func (im *Importer) loadTx(ctx context.Context, tx *gorm.DB, file File) (Summary, error) {
	now := im.clock.Now()
	summary := Summary{}

	client, err := im.ensureClient(ctx, tx, file.Client, now)
	if err != nil {
		return summary, err
	}
	summary.ClientID = client.ID

	units := make(map[string]clientdomain.Unit, len(file.Units))
	for _, in := range file.Units {
		unit, err := im.ensureUnit(ctx, tx, client.ID, in, now)
		if err != nil {
			return summary, err
		}
		units[in.Code] = unit
		summary.Units++
	}

	touchedYears := make(map[int]struct{})

	for _, in := range file.Periods {
		surcharges := datatypes.JSONMap{}
		for key, amount := range in.Surcharges {
			surcharges[key] = amount
		}
		res := tx.WithContext(ctx).Exec(`
			INSERT INTO billing_periods (
				id, client_id, fiscal_year, period_index, start_date, due_date,
				unit_rate, penalty_rate, grace_days, surcharges, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (client_id, fiscal_year, period_index) DO NOTHING`,
			im.genID.Generate(), client.ID, in.FiscalYear, in.PeriodIndex,
			in.StartDate, in.DueDate, in.UnitRate, in.PenaltyRate, in.GraceDays,
			surcharges, now,
		)
		if res.Error != nil {
			return summary, res.Error
		}
		summary.Periods += int(res.RowsAffected)
		touchedYears[in.FiscalYear] = struct{}{}
	}

	for _, in := range file.Obligation {
		unit, ok := units[in.UnitCode]
		if !ok {
			return summary, fmt.Errorf("%w: %s", ErrUnknownUnit, in.UnitCode)
		}
		status := in.Status
		if status == "" {
			status = string(obligationdomain.StatusBilled)
		}
		res := tx.WithContext(ctx).Exec(`
			INSERT INTO obligations (
				id, client_id, unit_id, fiscal_year, period_index,
				base_amount, paid_base, paid_penalty, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (unit_id, fiscal_year, period_index) DO NOTHING`,
			im.genID.Generate(), client.ID, unit.ID, in.FiscalYear, in.PeriodIndex,
			in.BaseAmount, in.PaidBase, in.PaidPenalty, status, now, now,
		)
		if res.Error != nil {
			return summary, res.Error
		}
		summary.Obligations += int(res.RowsAffected)
		touchedYears[in.FiscalYear] = struct{}{}
	}

	transactionIDs := make(map[string]snowflake.ID)
	paymentSeqs := make(map[snowflake.ID]int64)

	for _, in := range file.Payments {
		unit, ok := units[in.UnitCode]
		if !ok {
			return summary, fmt.Errorf("%w: %s", ErrUnknownUnit, in.UnitCode)
		}

		allocations := in.Allocations
		if len(allocations) == 0 && in.PeriodIndex > 0 {
			// Migrate the legacy singular shape.
			allocations = []AllocationInput{{
				FiscalYear:     in.FiscalYear,
				PeriodIndex:    in.PeriodIndex,
				BasePortion:    in.BasePortion,
				PenaltyPortion: in.PenaltyPortion,
			}}
		}

		journalEntry := &journaldomain.Transaction{
			ID:        im.genID.Generate(),
			ClientID:  client.ID,
			UnitID:    unit.ID,
			Amount:    in.Amount,
			Kind:      "payment",
			Reference: in.Reference,
			Date:      in.Date,
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(journalEntry).Error; err != nil {
			return summary, err
		}
		if in.Reference != "" {
			transactionIDs[in.Reference] = journalEntry.ID
		}

		paymentSeqs[unit.ID]++
		var allocatedBase, allocatedPenalty int64
		for _, alloc := range allocations {
			allocatedBase += alloc.BasePortion
			allocatedPenalty += alloc.PenaltyPortion
		}

		payment := &paymentdomain.PaymentRecord{
			ID:             im.genID.Generate(),
			ClientID:       client.ID,
			UnitID:         unit.ID,
			Seq:            paymentSeqs[unit.ID],
			Amount:         in.Amount,
			Date:           in.Date,
			Method:         in.Method,
			Reference:      in.Reference,
			IdempotencyKey: fmt.Sprintf("import|%s|%d", unit.ID, paymentSeqs[unit.ID]),
			TransactionID:  journalEntry.ID,
			CreditDelta:    in.Amount - allocatedBase - allocatedPenalty,
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
			return summary, err
		}

		for _, alloc := range allocations {
			row := paymentdomain.PaymentAllocation{
				ID:             im.genID.Generate(),
				PaymentID:      payment.ID,
				ObligationID:   0,
				FiscalYear:     alloc.FiscalYear,
				PeriodIndex:    alloc.PeriodIndex,
				BasePortion:    alloc.BasePortion,
				PenaltyPortion: alloc.PenaltyPortion,
				CreatedAt:      now,
			}
			if ob, err := im.findObligation(ctx, tx, unit.ID, alloc.FiscalYear, alloc.PeriodIndex); err == nil {
				row.ObligationID = ob.ID
			}
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				return summary, err
			}
			touchedYears[alloc.FiscalYear] = struct{}{}
		}
		summary.Payments++
	}

	creditSeqs := make(map[snowflake.ID]int64)
	creditBalances := make(map[snowflake.ID]int64)
	for _, in := range file.Credits {
		unit, ok := units[in.UnitCode]
		if !ok {
			return summary, fmt.Errorf("%w: %s", ErrUnknownUnit, in.UnitCode)
		}
		if creditBalances[unit.ID]+in.Amount < 0 {
			return summary, creditdomain.ErrBalanceIntegrity
		}
		creditSeqs[unit.ID]++
		creditBalances[unit.ID] += in.Amount

		createdAt := in.Date
		if createdAt.IsZero() {
			createdAt = now
		}
		entry := &creditdomain.Entry{
			ID:        im.genID.Generate(),
			ClientID:  client.ID,
			UnitID:    unit.ID,
			Seq:       creditSeqs[unit.ID],
			Amount:    in.Amount,
			Type:      creditdomain.EntryType(in.Type),
			Notes:     in.Notes,
			CreatedAt: createdAt,
		}
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			return summary, err
		}
		summary.Credits++
	}

	// Cross references come from a pre-computed mapping file; entries may
	// point at transactions loaded above (by reference) or carry raw ids.
	for _, in := range file.CrossRefs {
		unit, ok := units[in.UnitCode]
		if !ok {
			return summary, fmt.Errorf("%w: %s", ErrUnknownUnit, in.UnitCode)
		}
		transactionID, ok := transactionIDs[in.TransactionID]
		if !ok {
			parsed, err := snowflake.ParseString(in.TransactionID)
			if err != nil {
				return summary, fmt.Errorf("%w: bad transaction id %q", ErrInvalidImport, in.TransactionID)
			}
			transactionID = parsed
		}
		if err := im.crossrefSvc.LinkTx(ctx, tx, client.ID, unit.ID, in.FiscalYear, in.PeriodIndex, transactionID); err != nil {
			return summary, err
		}
		summary.CrossRefs++
		touchedYears[in.FiscalYear] = struct{}{}
	}

	// Import is bulk-shaped: bump tokens and let the first read rebuild.
	for fy := range touchedYears {
		if err := im.invalidator.BumpTx(ctx, tx, client.ID, fy); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (im *Importer) ensureClient(ctx context.Context, tx *gorm.DB, in ClientInput, now time.Time) (clientdomain.Client, error) {
	var client clientdomain.Client
	err := tx.WithContext(ctx).Where("code = ?", in.Code).First(&client).Error
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return client, err
	}

	client = clientdomain.Client{
		ID:                   im.genID.Generate(),
		Code:                 in.Code,
		Name:                 in.Name,
		FiscalYearStartMonth: in.FiscalYearStartMonth,
		PeriodsPerYear:       in.PeriodsPerYear,
		DueDay:               in.DueDay,
		CreatedAt:            now,
	}
	if client.FiscalYearStartMonth == 0 {
		client.FiscalYearStartMonth = 1
	}
	if client.PeriodsPerYear == 0 {
		client.PeriodsPerYear = 12
	}
	if client.DueDay == 0 {
		client.DueDay = 1
	}
	if err := tx.WithContext(ctx).Create(&client).Error; err != nil {
		return client, err
	}
	return client, nil
}

func (im *Importer) ensureUnit(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, in UnitInput, now time.Time) (clientdomain.Unit, error) {
	var unit clientdomain.Unit
	err := tx.WithContext(ctx).
		Where("client_id = ? AND code = ?", clientID, in.Code).
		First(&unit).Error
	if err == nil {
		return unit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return unit, err
	}

	unit = clientdomain.Unit{
		ID:        im.genID.Generate(),
		ClientID:  clientID,
		Code:      in.Code,
		Owner:     in.Owner,
		Active:    true,
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&unit).Error; err != nil {
		return unit, err
	}
	return unit, nil
}

func (im *Importer) findObligation(ctx context.Context, tx *gorm.DB, unitID snowflake.ID, fiscalYear, periodIndex int) (*obligationdomain.Obligation, error) {
	var ob obligationdomain.Obligation
	err := tx.WithContext(ctx).
		Where("unit_id = ? AND fiscal_year = ? AND period_index = ?", unitID, fiscalYear, periodIndex).
		First(&ob).Error
	if err != nil {
		return nil, err
	}
	return &ob, nil
}
