package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/config"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultUnitRate    = 460000
	defaultPenaltyRate = "0.05"
	defaultGraceDays   = 10
)

// EnsureDefaultClient seeds the configured client with a starter rate
// config for startup bootstrap. Safe to run on every boot.
func EnsureDefaultClient(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if cfg.DefaultClientName == "" {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := ensureClientTx(ctx, tx, node, cfg)
		if err != nil {
			return err
		}
		return ensureRateConfigTx(ctx, tx, node, client.ID)
	})
}

func ensureClientTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, cfg config.Config) (clientdomain.Client, error) {
	code := slug.Make(cfg.DefaultClientName)

	var client clientdomain.Client
	err := tx.WithContext(ctx).Where("code = ?", code).First(&client).Error
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return client, err
	}

	client = clientdomain.Client{
		ID:                   node.Generate(),
		Code:                 code,
		Name:                 cfg.DefaultClientName,
		FiscalYearStartMonth: 1,
		PeriodsPerYear:       12,
		DueDay:               1,
		CreatedAt:            time.Now().UTC(),
	}
	if cfg.DefaultClientID != 0 {
		client.ID = snowflake.ID(cfg.DefaultClientID)
	}
	if err := tx.WithContext(ctx).Create(&client).Error; err != nil {
		return client, err
	}
	return client, nil
}

func ensureRateConfigTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clientID snowflake.ID) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&rateconfigdomain.ClientRateConfig{}).
		Where("client_id = ?", clientID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	rc := rateconfigdomain.ClientRateConfig{
		ID:            node.Generate(),
		ClientID:      clientID,
		UnitRate:      defaultUnitRate,
		PenaltyRate:   defaultPenaltyRate,
		GraceDays:     defaultGraceDays,
		Surcharges:    datatypes.JSONMap{},
		EffectiveFrom: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:     now,
	}
	return tx.WithContext(ctx).Create(&rc).Error
}
