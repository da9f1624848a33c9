package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	auditservice "github.com/mlandesman/SAMS-sub020/internal/audit/service"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	clientservice "github.com/mlandesman/SAMS-sub020/internal/client/service"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/config"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	creditrepository "github.com/mlandesman/SAMS-sub020/internal/credit/repository"
	creditservice "github.com/mlandesman/SAMS-sub020/internal/credit/service"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	crossrefservice "github.com/mlandesman/SAMS-sub020/internal/crossref/service"
	journaldomain "github.com/mlandesman/SAMS-sub020/internal/journal/domain"
	journalservice "github.com/mlandesman/SAMS-sub020/internal/journal/service"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	"github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	"github.com/mlandesman/SAMS-sub020/internal/unitlock"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	yearviewservice "github.com/mlandesman/SAMS-sub020/internal/yearview/service"
	"github.com/mlandesman/SAMS-sub020/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type paymentFixture struct {
	svc      domain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	client   *clientdomain.Client
	unit     *clientdomain.Unit
	credit   creditdomain.Service
	crossref crossrefdomain.Service
	yearview *yearviewservice.Service
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&clientdomain.Client{},
		&clientdomain.Unit{},
		&obligationdomain.BillingPeriod{},
		&obligationdomain.Obligation{},
		&domain.PaymentRecord{},
		&domain.PaymentAllocation{},
		&creditdomain.Entry{},
		&journaldomain.Transaction{},
		&crossrefdomain.CrossReference{},
		&yearviewdomain.Record{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))

	client := &clientdomain.Client{
		ID:                   node.Generate(),
		Code:                 "mtc",
		Name:                 "Marina Turquesa",
		FiscalYearStartMonth: 1,
		PeriodsPerYear:       12,
		DueDay:               1,
	}
	require.NoError(t, conn.Create(client).Error)

	unit := &clientdomain.Unit{ID: node.Generate(), ClientID: client.ID, Code: "PH4D", Active: true}
	require.NoError(t, conn.Create(unit).Error)

	clientSvc := clientservice.NewService(clientservice.Params{DB: conn, Log: logger})
	auditSvc := auditservice.NewService(auditservice.Params{DB: conn, Log: logger, GenID: node, Clock: fakeClock})
	journalSvc := journalservice.NewService(journalservice.Params{DB: conn, Log: logger, GenID: node, Clock: fakeClock})
	crossrefSvc := crossrefservice.NewService(crossrefservice.Params{DB: conn, Log: logger, GenID: node, Clock: fakeClock})
	yearviewSvc := yearviewservice.NewService(yearviewservice.Params{
		DB: conn, Log: logger, GenID: node, Clock: fakeClock, ClientSvc: clientSvc,
	})
	locks := unitlock.NewGuard(nil, logger, nil)
	creditSvc := creditservice.NewService(creditservice.Params{
		DB:          conn,
		Log:         logger,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        creditrepository.Provide(),
		ClientSvc:   clientSvc,
		Locks:       locks,
		Invalidator: yearviewSvc,
		AuditSvc:    auditSvc,
	})

	svc := NewService(Params{
		DB:          conn,
		Log:         logger,
		GenID:       node,
		Clock:       fakeClock,
		Config:      config.Config{PaymentLockRetries: 3},
		ClientSvc:   clientSvc,
		CreditSvc:   creditSvc,
		JournalSvc:  journalSvc,
		CrossrefSvc: crossrefSvc,
		Locks:       locks,
		Invalidator: yearviewSvc,
		AuditSvc:    auditSvc,
	})

	return &paymentFixture{
		svc:      svc,
		db:       conn,
		node:     node,
		clock:    fakeClock,
		client:   client,
		unit:     unit,
		credit:   creditSvc,
		crossref: crossrefSvc,
		yearview: yearviewSvc,
	}
}

// bill creates a January 2026 period with a 5% monthly penalty, 10 grace
// days, and one billed obligation for the fixture unit.
func (f *paymentFixture) bill(t *testing.T, periodIndex int, base int64) obligationdomain.Obligation {
	t.Helper()

	start := time.Date(2026, time.Month(periodIndex), 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Create(&obligationdomain.BillingPeriod{
		ID:          f.node.Generate(),
		ClientID:    f.client.ID,
		FiscalYear:  2026,
		PeriodIndex: periodIndex,
		StartDate:   start,
		DueDate:     start,
		UnitRate:    base,
		PenaltyRate: "0.05",
		GraceDays:   10,
		Surcharges:  datatypes.JSONMap{},
	}).Error)

	ob := obligationdomain.Obligation{
		ID:          f.node.Generate(),
		ClientID:    f.client.ID,
		UnitID:      f.unit.ID,
		FiscalYear:  2026,
		PeriodIndex: periodIndex,
		BaseAmount:  base,
		Status:      obligationdomain.StatusBilled,
	}
	require.NoError(t, f.db.Create(&ob).Error)
	return ob
}

func (f *paymentFixture) obligation(t *testing.T, id snowflake.ID) obligationdomain.Obligation {
	t.Helper()
	var ob obligationdomain.Obligation
	require.NoError(t, f.db.Where("id = ?", id).First(&ob).Error)
	return ob
}

func TestRecordPayment_PartialThenSettling(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	// $100 due Jan 1, 10 grace days, 5% per month.
	billed := f.bill(t, 1, 10000)

	// Payment 1 lands inside the grace window: $40 of base, no penalty.
	first, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 4000,
		Date:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Method: "bank_transfer",
	})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(1), first.Payment.Seq)
	assert.NotZero(t, first.Payment.TransactionID)
	assert.NotEmpty(t, first.Payment.Reference)
	require.Len(t, first.Allocations, 1)
	assert.Equal(t, int64(4000), first.Allocations[0].BasePortion)
	assert.Equal(t, int64(0), first.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(0), first.Payment.CreditDelta)

	ob := f.obligation(t, billed.ID)
	assert.Equal(t, int64(4000), ob.PaidBase)
	assert.Equal(t, obligationdomain.StatusPartiallyPaid, ob.Status)

	// Payment 2 in mid March: two compounding cycles on the $60 unpaid
	// remainder. 6000 * (1.05^2 - 1) = 615.
	second, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 6615,
		Date:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Method: "bank_transfer",
	})
	require.NoError(t, err)
	require.Len(t, second.Allocations, 1)
	assert.Equal(t, int64(6000), second.Allocations[0].BasePortion)
	assert.Equal(t, int64(615), second.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(0), second.Payment.CreditDelta)
	assert.Equal(t, int64(2), second.Payment.Seq)

	ob = f.obligation(t, billed.ID)
	assert.Equal(t, int64(10000), ob.PaidBase)
	assert.Equal(t, int64(615), ob.PaidPenalty)
	assert.Equal(t, obligationdomain.StatusPaid, ob.Status)

	balance, err := f.credit.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// Both payments journaled and cross-referenced to period 1.
	txIDs, err := f.crossref.Lookup(ctx, f.unit.ID, 2026, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []snowflake.ID{first.Payment.TransactionID, second.Payment.TransactionID}, txIDs)

	periods, err := f.crossref.ReverseLookup(ctx, second.Payment.TransactionID)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, 2026, periods[0].FiscalYear)
	assert.Equal(t, 1, periods[0].PeriodIndex)
}

func TestRecordPayment_OverflowBecomesCredit(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.bill(t, 1, 10000)

	resp, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 14000,
		Date:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Method: "cash",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), resp.Payment.CreditDelta)

	balance, err := f.credit.Balance(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)

	var entry creditdomain.Entry
	require.NoError(t, f.db.Where("unit_id = ?", f.unit.ID).First(&entry).Error)
	assert.Equal(t, creditdomain.EntryOverpayment, entry.Type)
	assert.Equal(t, resp.Payment.ID, entry.SourcePaymentID)

	// The year view reflects the commit without a rebuild.
	view, err := f.yearview.GetYear(ctx, f.client.ID, 2026)
	require.NoError(t, err)
	require.Len(t, view.View.Units, 1)
	assert.Equal(t, int64(4000), view.View.Units[0].CreditBalance)
	assert.Equal(t, int64(10000), view.View.Units[0].TotalPaidBase)
}

func TestRecordPayment_PureOverpaymentPatchesView(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.bill(t, 1, 10000)

	_, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 10000,
		Date:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Method: "cash",
	})
	require.NoError(t, err)

	// Materialize the snapshot, then pay with nothing outstanding.
	before, err := f.yearview.GetYear(ctx, f.client.ID, 2026)
	require.NoError(t, err)

	resp, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 2500,
		Date:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Method: "cash",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Allocations)
	assert.Equal(t, int64(2500), resp.Payment.CreditDelta)

	after, err := f.yearview.GetYear(ctx, f.client.ID, 2026)
	require.NoError(t, err)
	assert.NotEqual(t, before.Token, after.Token)
	require.Len(t, after.View.Units, 1)
	assert.Equal(t, int64(2500), after.View.Units[0].CreditBalance)
}

func TestRecordPayment_ReplayIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	billed := f.bill(t, 1, 10000)

	req := domain.RecordPaymentRequest{
		UnitID:    f.unit.ID,
		Amount:    5000,
		Date:      time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Method:    "bank_transfer",
		Reference: "WIRE-20260105-001",
	}

	first, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	require.Len(t, second.Allocations, 1)
	assert.Equal(t, first.Allocations[0].ID, second.Allocations[0].ID)

	// Nothing applied twice.
	ob := f.obligation(t, billed.ID)
	assert.Equal(t, int64(5000), ob.PaidBase)

	var count int64
	require.NoError(t, f.db.Model(&domain.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// A different reference is a different payment.
	req.Reference = "WIRE-20260105-002"
	third, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.NotEqual(t, first.Payment.ID, third.Payment.ID)
}

func TestRecordPayment_SpansMultiplePeriods(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.bill(t, 1, 10000)
	f.bill(t, 2, 10000)
	f.bill(t, 3, 10000)

	// By April 15: Jan has 3 compounding cycles (1576), Feb 2 (1025),
	// Mar 1 (500). 21000 clears Jan base+penalty and partially fills the
	// Feb base; Mar is never touched.
	resp, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 21000,
		Date:   time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		Method: "bank_transfer",
	})
	require.NoError(t, err)
	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, 1, resp.Allocations[0].PeriodIndex)
	assert.Equal(t, 2, resp.Allocations[1].PeriodIndex)

	assert.Equal(t, int64(10000), resp.Allocations[0].BasePortion)
	assert.Equal(t, int64(1576), resp.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(9424), resp.Allocations[1].BasePortion)
	assert.Equal(t, int64(0), resp.Allocations[1].PenaltyPortion)
	assert.Equal(t, int64(0), resp.Payment.CreditDelta)
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{Amount: 1000})
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)

	_, err = f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{UnitID: f.unit.ID, Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{UnitID: f.node.Generate(), Amount: 1000})
	assert.ErrorIs(t, err, clientdomain.ErrUnitNotFound)
}

func TestGetAndListForUnit(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.bill(t, 1, 10000)

	resp, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		UnitID: f.unit.ID,
		Amount: 5000,
		Date:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	record, allocations, err := f.svc.Get(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, record.ID)
	assert.Equal(t, "unknown", record.Method)
	require.Len(t, allocations, 1)

	_, _, err = f.svc.Get(ctx, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	records, err := f.svc.ListForUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(5000), records[0].Amount)
}
