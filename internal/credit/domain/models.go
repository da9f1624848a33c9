package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/pkg/db/pagination"
	"gorm.io/gorm"
)

type EntryType string

const (
	EntryOverpayment  EntryType = "overpayment"
	EntryApplied      EntryType = "credit_applied"
	EntryManualAdd    EntryType = "manual_add"
	EntryManualRemove EntryType = "manual_remove"
	EntryCorrection   EntryType = "correction"
)

// Entry is one signed movement in a unit's credit balance. The ledger is
// append-only: the current balance is always the running sum over history,
// and any cached scalar is a derived optimization, never authoritative.
type Entry struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	ClientID snowflake.ID `gorm:"not null;index"`
	UnitID   snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_entries_unit_seq,priority:1"`
	// Seq is the per-unit monotonic position of this entry.
	Seq             int64        `gorm:"not null;uniqueIndex:ux_credit_entries_unit_seq,priority:2"`
	Amount          int64        `gorm:"not null"`
	Type            EntryType    `gorm:"type:text;not null"`
	SourcePaymentID snowflake.ID `gorm:"index"`
	Notes           string       `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Entry) TableName() string { return "credit_ledger_entries" }

// IsDebit reports whether this entry type removes credit.
func (t EntryType) IsDebit() bool {
	return t == EntryApplied || t == EntryManualRemove
}

type HistoryRequest struct {
	pagination.Pagination
	UnitID snowflake.ID
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type AdjustRequest struct {
	UnitID snowflake.ID
	Amount int64
	Type   EntryType
	Notes  string
}

type Service interface {
	// ApplyTx appends an entry inside the caller's transaction and
	// returns the new balance. A negative-going balance is rejected with
	// ErrInsufficientCredit and nothing is appended.
	ApplyTx(ctx context.Context, tx *gorm.DB, entry *Entry) (int64, error)
	// Balance is the running sum over the unit's full history.
	Balance(ctx context.Context, unitID snowflake.ID) (int64, error)
	// History returns entries ordered by sequence, cursor-paginated.
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	// Adjust records a manual credit movement with its own transaction,
	// audit entry, and year-view token bump.
	Adjust(ctx context.Context, req AdjustRequest) (*Entry, error)
	// InsertCorrection places a correction entry at the given sequence
	// position and re-verifies every later running balance. O(n) in the
	// number of entries after the insertion point.
	InsertCorrection(ctx context.Context, unitID snowflake.ID, afterSeq int64, amount int64, notes string) (*Entry, error)
}

var (
	ErrInvalidUnit        = errors.New("invalid_unit")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidEntryType   = errors.New("invalid_entry_type")
	ErrInsufficientCredit = errors.New("insufficient_credit")
	// ErrBalanceIntegrity signals a running balance that went negative in
	// recorded history; it is never silently corrected.
	ErrBalanceIntegrity = errors.New("credit_balance_integrity")
)
