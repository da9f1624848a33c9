package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/mlandesman/SAMS-sub020/internal/audit/service"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	clientservice "github.com/mlandesman/SAMS-sub020/internal/client/service"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	"github.com/mlandesman/SAMS-sub020/internal/credit/repository"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	"github.com/mlandesman/SAMS-sub020/internal/unitlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	"github.com/mlandesman/SAMS-sub020/pkg/db"
	"github.com/mlandesman/SAMS-sub020/pkg/db/pagination"
)

type noopInvalidator struct{}

func (noopInvalidator) BumpTx(context.Context, *gorm.DB, snowflake.ID, int) error { return nil }
func (noopInvalidator) PatchTx(context.Context, *gorm.DB, snowflake.ID, int, snowflake.ID) error {
	return nil
}

type creditFixture struct {
	svc    *Service
	db     *gorm.DB
	client *clientdomain.Client
	unit   *clientdomain.Unit
}

func newCreditFixture(t *testing.T) *creditFixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&clientdomain.Client{},
		&clientdomain.Unit{},
		&domain.Entry{},
		&obligationdomain.Obligation{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	logger := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	client := &clientdomain.Client{
		ID:                   node.Generate(),
		Code:                 "mtc",
		Name:                 "Marina Turquesa",
		FiscalYearStartMonth: 1,
		PeriodsPerYear:       12,
		DueDay:               1,
	}
	require.NoError(t, conn.Create(client).Error)

	unit := &clientdomain.Unit{
		ID:       node.Generate(),
		ClientID: client.ID,
		Code:     "PH4D",
		Active:   true,
	}
	require.NoError(t, conn.Create(unit).Error)

	clientSvc := clientservice.NewService(clientservice.Params{DB: conn, Log: logger})
	auditSvc := auditservice.NewService(auditservice.Params{DB: conn, Log: logger, GenID: node, Clock: fakeClock})

	svc := NewService(Params{
		DB:          conn,
		Log:         logger,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repository.Provide(),
		ClientSvc:   clientSvc,
		Locks:       unitlock.NewGuard(nil, logger, nil),
		Invalidator: noopInvalidator{},
		AuditSvc:    auditSvc,
	}).(*Service)

	return &creditFixture{svc: svc, db: conn, client: client, unit: unit}
}

func (f *creditFixture) apply(t *testing.T, amount int64, typ domain.EntryType) int64 {
	t.Helper()
	var balance int64
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = f.svc.ApplyTx(context.Background(), tx, &domain.Entry{
			ClientID: f.client.ID,
			UnitID:   f.unit.ID,
			Amount:   amount,
			Type:     typ,
		})
		return err
	})
	require.NoError(t, err)
	return balance
}

func TestApplyTx_RunningBalance(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	assert.Equal(t, int64(5000), f.apply(t, 5000, domain.EntryOverpayment))
	assert.Equal(t, int64(3000), f.apply(t, -2000, domain.EntryApplied))
	assert.Equal(t, int64(4500), f.apply(t, 1500, domain.EntryManualAdd))

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), balance)
}

func TestApplyTx_RejectsOverdraw(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	f.apply(t, 5000, domain.EntryOverpayment)

	// $50 on balance, removing $60 must fail and leave no row behind.
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ApplyTx(ctx, tx, &domain.Entry{
			ClientID: f.client.ID,
			UnitID:   f.unit.ID,
			Amount:   -6000,
			Type:     domain.EntryManualRemove,
		})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	var count int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Where("unit_id = ?", f.unit.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyTx_Validation(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApplyTx(ctx, f.db, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)

	_, err = f.svc.ApplyTx(ctx, f.db, &domain.Entry{UnitID: f.unit.ID, Amount: 0, Type: domain.EntryManualAdd})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.ApplyTx(ctx, f.db, &domain.Entry{UnitID: f.unit.ID, Amount: 100, Type: "refund"})
	assert.ErrorIs(t, err, domain.ErrInvalidEntryType)

	// Debit entry types carry negative amounts, credit types positive.
	_, err = f.svc.ApplyTx(ctx, f.db, &domain.Entry{UnitID: f.unit.ID, Amount: 100, Type: domain.EntryApplied})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.ApplyTx(ctx, f.db, &domain.Entry{UnitID: f.unit.ID, Amount: -100, Type: domain.EntryOverpayment})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestApplyTx_RejectsNegativeAdd(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	f.apply(t, 5000, domain.EntryOverpayment)

	// A manual_add must not drain the balance under an add label.
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ApplyTx(ctx, tx, &domain.Entry{
			ClientID: f.client.ID,
			UnitID:   f.unit.ID,
			Amount:   -3000,
			Type:     domain.EntryManualAdd,
		})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	var count int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Where("unit_id = ?", f.unit.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAdjust_WritesEntryAndAudit(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Adjust(ctx, domain.AdjustRequest{
		UnitID: f.unit.ID,
		Amount: 2500,
		Type:   domain.EntryManualAdd,
		Notes:  "board approved transfer",
	})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, int64(1), entry.Seq)

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), balance)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "credit.adjust", logs[0].Action)

	_, err = f.svc.Adjust(ctx, domain.AdjustRequest{
		UnitID: f.unit.ID,
		Amount: 100,
		Type:   domain.EntryOverpayment,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEntryType)
}

func TestHistory_Pagination(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.apply(t, 1000, domain.EntryOverpayment)
	}

	first, err := f.svc.History(ctx, domain.HistoryRequest{UnitID: f.unit.ID})
	require.NoError(t, err)
	require.Len(t, first.Entries, 5)
	assert.False(t, first.HasMore)

	page, err := f.svc.History(ctx, domain.HistoryRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		UnitID:     f.unit.ID,
	})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(1), page.Entries[0].Seq)
	assert.Equal(t, int64(2), page.Entries[1].Seq)
	require.NotEmpty(t, page.NextPageToken)

	next, err := f.svc.History(ctx, domain.HistoryRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
		UnitID:     f.unit.ID,
	})
	require.NoError(t, err)
	require.Len(t, next.Entries, 2)
	assert.Equal(t, int64(3), next.Entries[0].Seq)
	assert.Equal(t, int64(4), next.Entries[1].Seq)
}

func TestInsertCorrection_ResequencesAndVerifies(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	f.apply(t, 5000, domain.EntryOverpayment) // seq 1
	f.apply(t, -3000, domain.EntryApplied)    // seq 2
	f.apply(t, 1000, domain.EntryManualAdd)   // seq 3

	entry, err := f.svc.InsertCorrection(ctx, f.unit.ID, 1, 700, "bank reconciliation")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Seq)

	var entries []domain.Entry
	require.NoError(t, f.db.Where("unit_id = ?", f.unit.ID).Order("seq").Find(&entries).Error)
	require.Len(t, entries, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq, entries[3].Seq})
	assert.Equal(t, domain.EntryCorrection, entries[1].Type)
	assert.Equal(t, int64(-3000), entries[2].Amount)

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3700), balance)
}

func TestInsertCorrection_RejectsNegativeRunningBalance(t *testing.T) {
	f := newCreditFixture(t)
	ctx := context.Background()

	f.apply(t, 5000, domain.EntryOverpayment)
	f.apply(t, -5000, domain.EntryApplied)

	// A correction before the debit that removes money makes the running
	// balance dip below zero at seq 3; the whole splice rolls back.
	_, err := f.svc.InsertCorrection(ctx, f.unit.ID, 1, -1000, "bad correction")
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)

	var count int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Where("unit_id = ?", f.unit.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	balance, err := f.svc.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}
