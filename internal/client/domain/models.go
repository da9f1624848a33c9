package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Client is a managed property (association) being billed.
type Client struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Code string       `gorm:"type:text;not null;uniqueIndex"`
	Name string       `gorm:"type:text;not null"`
	// FiscalYearStartMonth reorders calendar months into the billing year;
	// 1 = January.
	FiscalYearStartMonth int       `gorm:"not null;default:1"`
	PeriodsPerYear       int       `gorm:"not null;default:12"`
	DueDay               int       `gorm:"not null;default:1"`
	CreatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Client) TableName() string { return "clients" }

// Unit is a billable unit (home, condo, water meter) belonging to a client.
type Unit struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ClientID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_units_client_code,priority:1"`
	Code      string       `gorm:"type:text;not null;uniqueIndex:ux_units_client_code,priority:2"`
	Owner     string       `gorm:"type:text"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Unit) TableName() string { return "units" }

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Client, error)
	GetUnit(ctx context.Context, unitID snowflake.ID) (*Unit, error)
	ListActiveUnits(ctx context.Context, clientID snowflake.ID) ([]Unit, error)
}

var (
	ErrNotFound        = errors.New("client_not_found")
	ErrUnitNotFound    = errors.New("unit_not_found")
	ErrInvalidClient   = errors.New("invalid_client")
	ErrInvalidUnit     = errors.New("invalid_unit")
	ErrInvalidCalendar = errors.New("invalid_calendar")
)
