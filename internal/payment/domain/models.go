package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentRecord is one committed payment event. Records are immutable:
// reversal is a new offsetting record, never an edit. Seq is the unit's
// monotonic payment counter.
type PaymentRecord struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ClientID       snowflake.ID `gorm:"not null;index"`
	UnitID         snowflake.ID `gorm:"not null;uniqueIndex:ux_payment_records_unit_seq,priority:1"`
	Seq            int64        `gorm:"not null;uniqueIndex:ux_payment_records_unit_seq,priority:2"`
	Amount         int64        `gorm:"not null"`
	Date           time.Time    `gorm:"not null"`
	Method         string       `gorm:"type:text;not null"`
	Reference      string       `gorm:"type:text"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex"`
	TransactionID  snowflake.ID `gorm:"not null;index"`
	CreditDelta    int64        `gorm:"not null;default:0"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// PaymentAllocation is one sub-entry of a payment: the portion applied to
// a single obligation. The sub-entries plus CreditDelta sum to the
// payment amount exactly.
type PaymentAllocation struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	PaymentID      snowflake.ID `gorm:"not null;index"`
	ObligationID   snowflake.ID `gorm:"not null;index"`
	FiscalYear     int          `gorm:"not null"`
	PeriodIndex    int          `gorm:"not null"`
	BasePortion    int64        `gorm:"not null"`
	PenaltyPortion int64        `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentAllocation) TableName() string { return "payment_allocations" }

type RecordPaymentRequest struct {
	UnitID    snowflake.ID
	Amount    int64
	Date      time.Time
	Method    string
	Reference string
}

type RecordPaymentResponse struct {
	Payment     PaymentRecord
	Allocations []PaymentAllocation
	// Replayed is true when the idempotency key matched an existing
	// record and nothing was re-applied.
	Replayed bool
}

type Service interface {
	// RecordPayment allocates and commits one payment atomically under
	// the unit's write lock. Submitting the same payment twice returns
	// the stored record.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (RecordPaymentResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentRecord, []PaymentAllocation, error)
	ListForUnit(ctx context.Context, unitID snowflake.ID) ([]PaymentRecord, error)
}

var (
	ErrInvalidUnit         = errors.New("invalid_unit")
	ErrInvalidAmount       = errors.New("invalid_payment_amount")
	ErrNotFound            = errors.New("payment_not_found")
	ErrConcurrencyConflict = errors.New("payment_concurrency_conflict")
)
