package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ObligationStatus string

const (
	StatusUnbilled      ObligationStatus = "unbilled"
	StatusBilled        ObligationStatus = "billed"
	StatusPartiallyPaid ObligationStatus = "partially_paid"
	StatusPaid          ObligationStatus = "paid"
)

// BillingPeriod is created when a period is first billed and is immutable
// afterwards; it carries a copy of the rate snapshot that was active at
// billing time so historical penalty math never shifts under a rate change.
type BillingPeriod struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ClientID    snowflake.ID `gorm:"not null;uniqueIndex:ux_billing_periods_key,priority:1"`
	FiscalYear  int          `gorm:"not null;uniqueIndex:ux_billing_periods_key,priority:2"`
	PeriodIndex int          `gorm:"not null;uniqueIndex:ux_billing_periods_key,priority:3"`
	StartDate   time.Time    `gorm:"not null"`
	DueDate     time.Time    `gorm:"not null"`

	UnitRate    int64             `gorm:"not null"`
	PenaltyRate string            `gorm:"type:text;not null"`
	GraceDays   int               `gorm:"not null"`
	Surcharges  datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingPeriod) TableName() string { return "billing_periods" }

// Snapshot reconstructs the frozen rate snapshot for penalty computation.
func (p BillingPeriod) Snapshot() (rateconfigdomain.RateSnapshot, error) {
	rate, err := decimal.NewFromString(p.PenaltyRate)
	if err != nil {
		return rateconfigdomain.RateSnapshot{}, rateconfigdomain.ErrInvalidPenaltyRate
	}
	surcharges := make(map[string]int64, len(p.Surcharges))
	for key, value := range p.Surcharges {
		if v, ok := value.(float64); ok {
			surcharges[key] = int64(v)
		}
	}
	return rateconfigdomain.RateSnapshot{
		UnitRate:    p.UnitRate,
		PenaltyRate: rate,
		GraceDays:   p.GraceDays,
		Surcharges:  surcharges,
	}, nil
}

// Obligation is the per-unit, per-period record of what is owed. Rows are
// never deleted; corrections append reversing entries. paid_base and
// paid_penalty move only inside the payment commit.
type Obligation struct {
	ID          snowflake.ID     `gorm:"primaryKey"`
	ClientID    snowflake.ID     `gorm:"not null;index"`
	UnitID      snowflake.ID     `gorm:"not null;uniqueIndex:ux_obligations_key,priority:1"`
	FiscalYear  int              `gorm:"not null;uniqueIndex:ux_obligations_key,priority:2"`
	PeriodIndex int              `gorm:"not null;uniqueIndex:ux_obligations_key,priority:3"`
	BaseAmount  int64            `gorm:"not null"`
	PaidBase    int64            `gorm:"not null;default:0"`
	PaidPenalty int64            `gorm:"not null;default:0"`
	Status      ObligationStatus `gorm:"type:text;not null;default:billed"`
	CreatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Obligation) TableName() string { return "obligations" }

// UnpaidBase returns the base charge still owed.
func (o Obligation) UnpaidBase() int64 {
	return o.BaseAmount - o.PaidBase
}

// DeriveStatus recomputes status against the penalty accrued at check time.
func (o Obligation) DeriveStatus(accruedPenalty int64) ObligationStatus {
	switch {
	case o.PaidBase == o.BaseAmount && o.PaidPenalty == accruedPenalty:
		return StatusPaid
	case o.PaidBase > 0 || o.PaidPenalty > 0:
		return StatusPartiallyPaid
	default:
		return StatusBilled
	}
}

type GenerateBillsRequest struct {
	ClientID    snowflake.ID
	FiscalYear  int
	PeriodIndex int
}

type GenerateBillsResponse struct {
	Period  BillingPeriod
	Created int
	Skipped int
}

type Service interface {
	// GenerateBills creates the billing period (with its rate snapshot)
	// and one billed obligation per active unit. Idempotent: re-running
	// for an already-billed period creates nothing.
	GenerateBills(ctx context.Context, req GenerateBillsRequest) (GenerateBillsResponse, error)
	// ListOutstanding returns non-paid obligations for a unit ordered
	// oldest period first, paired with their period rows.
	ListOutstanding(ctx context.Context, unitID snowflake.ID) ([]Outstanding, error)
	// List returns all obligations for a unit and fiscal year in period order.
	List(ctx context.Context, unitID snowflake.ID, fiscalYear int) ([]Obligation, error)
	GetPeriod(ctx context.Context, clientID snowflake.ID, fiscalYear, periodIndex int) (*BillingPeriod, error)
}

// Outstanding pairs an obligation with its immutable period row.
type Outstanding struct {
	Obligation Obligation
	Period     BillingPeriod
}

var (
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidUnit        = errors.New("invalid_unit")
	ErrInvalidPeriod      = errors.New("invalid_period")
	ErrPeriodNotFound     = errors.New("period_not_found")
	ErrObligationNotFound = errors.New("obligation_not_found")
)
