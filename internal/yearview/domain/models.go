package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// YearView is the aggregated read model for one client and fiscal year.
// It is a pure fold over the obligation and credit ledgers: the same
// ledger state always serializes to the same bytes, whether the view was
// rebuilt from scratch or patched incrementally.
type YearView struct {
	ClientID   string        `json:"client_id"`
	FiscalYear int           `json:"fiscal_year"`
	Units      []UnitSummary `json:"units"`
}

// UnitSummary aggregates one unit across the fiscal year. Periods always
// has the client's full period count; unbilled slots are zero-valued.
type UnitSummary struct {
	UnitID           string          `json:"unit_id"`
	Periods          []PeriodSummary `json:"periods"`
	TotalBilled      int64           `json:"total_billed"`
	TotalPaidBase    int64           `json:"total_paid_base"`
	TotalPaidPenalty int64           `json:"total_paid_penalty"`
	TotalUnpaid      int64           `json:"total_unpaid"`
	CreditBalance    int64           `json:"credit_balance"`
}

type PeriodSummary struct {
	BaseAmount  int64  `json:"base_amount"`
	PaidBase    int64  `json:"paid_base"`
	PaidPenalty int64  `json:"paid_penalty"`
	Status      string `json:"status"`
}

// Record is the persisted snapshot row. Snapshot holds the compressed
// view bytes and may be null after a bulk invalidation; the token column
// is authoritative for freshness either way.
type Record struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ClientID   snowflake.ID `gorm:"not null;uniqueIndex:ux_year_views_key,priority:1"`
	FiscalYear int          `gorm:"not null;uniqueIndex:ux_year_views_key,priority:2"`
	Token      snowflake.ID `gorm:"not null"`
	Snapshot   []byte       `gorm:"type:bytea"`
	ComputedAt time.Time
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Record) TableName() string { return "year_views" }

type GetYearResponse struct {
	View       YearView
	Token      string
	ComputedAt time.Time
}

type Service interface {
	// GetYear returns the aggregated view, rebuilding the snapshot if a
	// bulk invalidation dropped it.
	GetYear(ctx context.Context, clientID snowflake.ID, fiscalYear int) (GetYearResponse, error)
	// Token returns the current freshness token without touching snapshot
	// bytes. Empty string when the year has never been computed.
	Token(ctx context.Context, clientID snowflake.ID, fiscalYear int) (string, error)
}

// Invalidator is the write-side contract ledger mutators call inside
// their own transaction. Every code path that moves obligation or credit
// state must either patch or bump; a stale token is the failure mode
// this interface exists to prevent.
type Invalidator interface {
	// BumpTx rotates the token and drops the snapshot for lazy rebuild.
	// Suited to bulk mutations where patching each unit is wasteful.
	BumpTx(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int) error
	// PatchTx recomputes the one affected unit in place and rotates the
	// token, leaving the rest of the snapshot untouched.
	PatchTx(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int, unitID snowflake.ID) error
}

var (
	ErrInvalidClient = errors.New("invalid_client")
	ErrInvalidYear   = errors.New("invalid_fiscal_year")
)
