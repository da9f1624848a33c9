package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Transaction is a row in the organization-wide transaction journal. The
// ledger only writes and reads its own rows; the journal itself is owned
// by the wider accounting system.
type Transaction struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ClientID  snowflake.ID `gorm:"not null;index"`
	UnitID    snowflake.ID `gorm:"not null;index"`
	Amount    int64        `gorm:"not null"`
	Kind      string       `gorm:"type:text;not null"`
	Reference string       `gorm:"type:text"`
	Date      time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Transaction) TableName() string { return "journal_transactions" }

type Service interface {
	// CreateTx journals one transaction inside the caller's transaction
	// and returns its id.
	CreateTx(ctx context.Context, tx *gorm.DB, entry *Transaction) (snowflake.ID, error)
	Get(ctx context.Context, id snowflake.ID) (*Transaction, error)
	// Exists reports whether the id resolves to a journaled transaction.
	Exists(ctx context.Context, id snowflake.ID) (bool, error)
}

var ErrNotFound = errors.New("transaction_not_found")
