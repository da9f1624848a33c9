package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ClientRateConfig is an effective-dated rate row. The newest row whose
// effective_from is not after the as-of date wins; older rows are never
// edited, a rate change is a new row.
type ClientRateConfig struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ClientID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_rate_configs_client_from,priority:1"`
	EffectiveFrom time.Time         `gorm:"not null;uniqueIndex:ux_rate_configs_client_from,priority:2"`
	UnitRate      int64             `gorm:"not null"`
	PenaltyRate   string            `gorm:"type:text;not null"`
	GraceDays     int               `gorm:"not null"`
	Surcharges    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ClientRateConfig) TableName() string { return "client_rate_configs" }

// RateSnapshot is the immutable view handed to the penalty engine and bill
// generation. Historical periods keep the snapshot that was active when
// they were billed; it is never re-resolved.
type RateSnapshot struct {
	UnitRate    int64
	PenaltyRate decimal.Decimal
	GraceDays   int
	Surcharges  map[string]int64
}

// Snapshot converts the stored row into a runtime snapshot.
func (c ClientRateConfig) Snapshot() (RateSnapshot, error) {
	rate, err := decimal.NewFromString(c.PenaltyRate)
	if err != nil {
		return RateSnapshot{}, ErrInvalidPenaltyRate
	}
	if rate.IsNegative() {
		return RateSnapshot{}, ErrInvalidPenaltyRate
	}
	if c.UnitRate < 0 {
		return RateSnapshot{}, ErrInvalidUnitRate
	}

	surcharges := make(map[string]int64, len(c.Surcharges))
	for key, value := range c.Surcharges {
		switch v := value.(type) {
		case float64:
			surcharges[key] = int64(v)
		case int64:
			surcharges[key] = v
		}
	}

	return RateSnapshot{
		UnitRate:    c.UnitRate,
		PenaltyRate: rate,
		GraceDays:   c.GraceDays,
		Surcharges:  surcharges,
	}, nil
}

// SurchargeTotal sums flat surcharges into the billed base amount.
func (s RateSnapshot) SurchargeTotal() int64 {
	var total int64
	for _, amount := range s.Surcharges {
		total += amount
	}
	return total
}

type Service interface {
	GetRateConfig(ctx context.Context, clientID snowflake.ID, asOf time.Time) (RateSnapshot, error)
}

var (
	ErrNoRateConfig       = errors.New("no_rate_config")
	ErrInvalidPenaltyRate = errors.New("invalid_penalty_rate")
	ErrInvalidUnitRate    = errors.New("invalid_unit_rate")
	ErrInvalidClient      = errors.New("invalid_client")
)
