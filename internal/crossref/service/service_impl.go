package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("crossref.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) LinkTx(ctx context.Context, tx *gorm.DB, clientID, unitID snowflake.ID, fiscalYear, periodIndex int, transactionID snowflake.ID) error {
	if unitID == 0 || transactionID == 0 || fiscalYear <= 0 || periodIndex < 1 {
		return domain.ErrInvalidRef
	}

	return tx.WithContext(ctx).Exec(`
		INSERT INTO cross_references (id, client_id, unit_id, fiscal_year, period_index, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unit_id, fiscal_year, period_index, transaction_id) DO NOTHING`,
		s.genID.Generate(), clientID, unitID, fiscalYear, periodIndex, transactionID, s.clock.Now(),
	).Error
}

func (s *Service) Lookup(ctx context.Context, unitID snowflake.ID, fiscalYear, periodIndex int) ([]snowflake.ID, error) {
	if unitID == 0 {
		return nil, domain.ErrInvalidRef
	}
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&domain.CrossReference{}).
		Where("unit_id = ? AND fiscal_year = ? AND period_index = ?", unitID, fiscalYear, periodIndex).
		Order("transaction_id").
		Pluck("transaction_id", &ids).Error
	return ids, err
}

func (s *Service) ReverseLookup(ctx context.Context, transactionID snowflake.ID) ([]domain.PeriodRef, error) {
	if transactionID == 0 {
		return nil, domain.ErrInvalidRef
	}
	var refs []domain.CrossReference
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("unit_id, fiscal_year, period_index").
		Find(&refs).Error
	if err != nil {
		return nil, err
	}

	periods := make([]domain.PeriodRef, 0, len(refs))
	for _, ref := range refs {
		periods = append(periods, domain.PeriodRef{
			UnitID:      ref.UnitID,
			FiscalYear:  ref.FiscalYear,
			PeriodIndex: ref.PeriodIndex,
		})
	}
	return periods, nil
}

func (s *Service) BulkLoad(ctx context.Context, refs []domain.CrossReference) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range refs {
			ref := &refs[i]
			if ref.UnitID == 0 || ref.TransactionID == 0 {
				return domain.ErrInvalidRef
			}
			if ref.ID == 0 {
				ref.ID = s.genID.Generate()
			}
			if ref.CreatedAt.IsZero() {
				ref.CreatedAt = s.clock.Now()
			}
			res := tx.Exec(`
				INSERT INTO cross_references (id, client_id, unit_id, fiscal_year, period_index, transaction_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (unit_id, fiscal_year, period_index, transaction_id) DO NOTHING`,
				ref.ID, ref.ClientID, ref.UnitID, ref.FiscalYear, ref.PeriodIndex, ref.TransactionID, ref.CreatedAt,
			)
			if res.Error != nil {
				return res.Error
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, clientID snowflake.ID) error {
	var dangling []snowflake.ID
	err := s.db.WithContext(ctx).Raw(`
		SELECT cr.transaction_id
		FROM cross_references cr
		LEFT JOIN journal_transactions jt ON jt.id = cr.transaction_id
		WHERE cr.client_id = ? AND jt.id IS NULL
		ORDER BY cr.transaction_id`,
		clientID,
	).Scan(&dangling).Error
	if err != nil {
		return err
	}
	if len(dangling) == 0 {
		return nil
	}

	ids := make([]string, 0, len(dangling))
	for _, id := range dangling {
		ids = append(ids, id.String())
	}
	s.log.Error("cross references point at missing journal transactions",
		zap.String("client_id", clientID.String()),
		zap.Strings("transaction_ids", ids))
	return domain.ErrIntegrityViolation
}
