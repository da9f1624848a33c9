package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CrossReference links a billed period to a journal transaction. The
// mapping is many-to-many: one payment may settle several periods and a
// period may be settled across several payments.
type CrossReference struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	ClientID      snowflake.ID `gorm:"not null;index"`
	UnitID        snowflake.ID `gorm:"not null;uniqueIndex:ux_cross_references_key,priority:1"`
	FiscalYear    int          `gorm:"not null;uniqueIndex:ux_cross_references_key,priority:2"`
	PeriodIndex   int          `gorm:"not null;uniqueIndex:ux_cross_references_key,priority:3"`
	TransactionID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_cross_references_key,priority:4"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CrossReference) TableName() string { return "cross_references" }

// PeriodRef identifies one billed period of a unit.
type PeriodRef struct {
	UnitID      snowflake.ID
	FiscalYear  int
	PeriodIndex int
}

type Service interface {
	// LinkTx records the period-to-transaction edge inside the caller's
	// transaction. Idempotent: relinking an existing edge is a no-op.
	LinkTx(ctx context.Context, tx *gorm.DB, clientID, unitID snowflake.ID, fiscalYear, periodIndex int, transactionID snowflake.ID) error
	// Lookup returns the transactions that touched a period.
	Lookup(ctx context.Context, unitID snowflake.ID, fiscalYear, periodIndex int) ([]snowflake.ID, error)
	// ReverseLookup returns the periods a transaction touched.
	ReverseLookup(ctx context.Context, transactionID snowflake.ID) ([]PeriodRef, error)
	// BulkLoad inserts import-supplied edges without existence checks.
	BulkLoad(ctx context.Context, refs []CrossReference) (int, error)
	// VerifyIntegrity checks every edge resolves to a journaled
	// transaction. Dangling ids are fatal and never silently repaired.
	VerifyIntegrity(ctx context.Context, clientID snowflake.ID) error
}

var (
	ErrInvalidRef         = errors.New("invalid_cross_reference")
	ErrIntegrityViolation = errors.New("cross_reference_integrity_violation")
)
