package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error
	NextSeq(ctx context.Context, db *gorm.DB, unitID snowflake.ID) (int64, error)
	SumAmounts(ctx context.Context, db *gorm.DB, unitID snowflake.ID) (int64, error)
	ListAfter(ctx context.Context, db *gorm.DB, unitID snowflake.ID, afterSeq int64, limit int) ([]domain.Entry, error)
	ShiftSeqFrom(ctx context.Context, db *gorm.DB, unitID snowflake.ID, fromSeq int64) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_ledger_entries (
			id, client_id, unit_id, seq, amount, type, source_payment_id, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ClientID,
		entry.UnitID,
		entry.Seq,
		entry.Amount,
		string(entry.Type),
		entry.SourcePaymentID,
		entry.Notes,
		entry.CreatedAt,
	).Error
}

func (r *repo) NextSeq(ctx context.Context, db *gorm.DB, unitID snowflake.ID) (int64, error) {
	var maxSeq int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(seq), 0) FROM credit_ledger_entries WHERE unit_id = ?`,
		unitID,
	).Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

func (r *repo) SumAmounts(ctx context.Context, db *gorm.DB, unitID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_ledger_entries WHERE unit_id = ?`,
		unitID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) ListAfter(ctx context.Context, db *gorm.DB, unitID snowflake.ID, afterSeq int64, limit int) ([]domain.Entry, error) {
	var entries []domain.Entry
	stmt := db.WithContext(ctx).
		Where("unit_id = ? AND seq > ?", unitID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.Find(&entries).Error
	return entries, err
}

// ShiftSeqFrom makes room for a correction entry at fromSeq by moving every
// later entry up one position. Descending order keeps the unique index happy.
func (r *repo) ShiftSeqFrom(ctx context.Context, db *gorm.DB, unitID snowflake.ID, fromSeq int64) error {
	var seqs []int64
	if err := db.WithContext(ctx).Raw(
		`SELECT seq FROM credit_ledger_entries WHERE unit_id = ? AND seq >= ? ORDER BY seq DESC`,
		unitID,
		fromSeq,
	).Scan(&seqs).Error; err != nil {
		return err
	}
	for _, seq := range seqs {
		if err := db.WithContext(ctx).Exec(
			`UPDATE credit_ledger_entries SET seq = seq + 1 WHERE unit_id = ? AND seq = ?`,
			unitID,
			seq,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
