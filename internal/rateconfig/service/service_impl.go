package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) rateconfigdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("rateconfig.service"),
	}
}

// GetRateConfig resolves the rate row effective at asOf. Missing
// configuration is a setup fault surfaced to the admin, never retried.
func (s *Service) GetRateConfig(ctx context.Context, clientID snowflake.ID, asOf time.Time) (rateconfigdomain.RateSnapshot, error) {
	if clientID == 0 {
		return rateconfigdomain.RateSnapshot{}, rateconfigdomain.ErrInvalidClient
	}

	var row rateconfigdomain.ClientRateConfig
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND effective_from <= ?", clientID, asOf.UTC()).
		Order("effective_from DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rateconfigdomain.RateSnapshot{}, rateconfigdomain.ErrNoRateConfig
		}
		return rateconfigdomain.RateSnapshot{}, err
	}

	return row.Snapshot()
}
