package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
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

func NewService(p Params) clientdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("client.service"),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*clientdomain.Client, error) {
	if id == 0 {
		return nil, clientdomain.ErrInvalidClient
	}
	var client clientdomain.Client
	err := s.db.WithContext(ctx).First(&client, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, clientdomain.ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *Service) GetUnit(ctx context.Context, unitID snowflake.ID) (*clientdomain.Unit, error) {
	if unitID == 0 {
		return nil, clientdomain.ErrInvalidUnit
	}
	var unit clientdomain.Unit
	err := s.db.WithContext(ctx).First(&unit, "id = ?", unitID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, clientdomain.ErrUnitNotFound
		}
		return nil, err
	}
	return &unit, nil
}

func (s *Service) ListActiveUnits(ctx context.Context, clientID snowflake.ID) ([]clientdomain.Unit, error) {
	if clientID == 0 {
		return nil, clientdomain.ErrInvalidClient
	}
	var units []clientdomain.Unit
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND active = ?", clientID, true).
		Order("code ASC").
		Find(&units).Error
	if err != nil {
		return nil, err
	}
	return units, nil
}
