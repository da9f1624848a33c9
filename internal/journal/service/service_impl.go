package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/journal/domain"
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
		log:   p.Log.Named("journal.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, entry *domain.Transaction) (snowflake.ID, error) {
	if entry == nil {
		return 0, errors.New("journal entry is required")
	}
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.Date.IsZero() {
		entry.Date = s.clock.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Transaction, error) {
	var entry domain.Transaction
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) Exists(ctx context.Context, id snowflake.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
