package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mlandesman/SAMS-sub020/internal/calendar"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	obsmetrics "github.com/mlandesman/SAMS-sub020/internal/observability/metrics"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	ClientSvc   clientdomain.Service
	RateSvc     rateconfigdomain.Service
	Invalidator yearviewdomain.Invalidator
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	clientSvc   clientdomain.Service
	rateSvc     rateconfigdomain.Service
	invalidator yearviewdomain.Invalidator
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) obligationdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("obligation.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		clientSvc:   p.ClientSvc,
		rateSvc:     p.RateSvc,
		invalidator: p.Invalidator,
		obsMetrics:  p.ObsMetrics,
	}
}

// GenerateBills creates the billing period with its frozen rate snapshot
// and one billed obligation per active unit. Re-running for a period that
// already exists inserts nothing; the unique indexes make both inserts
// idempotent.
func (s *Service) GenerateBills(ctx context.Context, req obligationdomain.GenerateBillsRequest) (obligationdomain.GenerateBillsResponse, error) {
	if req.ClientID == 0 {
		return obligationdomain.GenerateBillsResponse{}, obligationdomain.ErrInvalidClient
	}

	client, err := s.clientSvc.Get(ctx, req.ClientID)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, err
	}

	cal, err := calendar.New(time.Month(client.FiscalYearStartMonth), client.PeriodsPerYear, client.DueDay)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, err
	}
	start, err := cal.PeriodStart(req.FiscalYear, req.PeriodIndex)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, obligationdomain.ErrInvalidPeriod
	}
	due, err := cal.DueDate(req.FiscalYear, req.PeriodIndex)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, obligationdomain.ErrInvalidPeriod
	}

	snapshot, err := s.rateSvc.GetRateConfig(ctx, req.ClientID, start)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, err
	}

	units, err := s.clientSvc.ListActiveUnits(ctx, req.ClientID)
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, err
	}

	resp := obligationdomain.GenerateBillsResponse{}
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		period, err := s.ensurePeriod(ctx, tx, req, start, due, snapshot, now)
		if err != nil {
			return err
		}
		resp.Period = *period

		baseAmount := snapshot.UnitRate + snapshot.SurchargeTotal()
		for _, unit := range units {
			result := tx.WithContext(ctx).Exec(
				`INSERT INTO obligations (
					id, client_id, unit_id, fiscal_year, period_index,
					base_amount, paid_base, paid_penalty, status, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
				ON CONFLICT (unit_id, fiscal_year, period_index) DO NOTHING`,
				s.genID.Generate(),
				req.ClientID,
				unit.ID,
				req.FiscalYear,
				req.PeriodIndex,
				baseAmount,
				string(obligationdomain.StatusBilled),
				now,
				now,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				resp.Skipped++
			} else {
				resp.Created++
			}
		}

		if resp.Created > 0 {
			return s.invalidator.BumpTx(ctx, tx, req.ClientID, req.FiscalYear)
		}
		return nil
	})
	if err != nil {
		return obligationdomain.GenerateBillsResponse{}, err
	}

	if resp.Created > 0 {
		s.obsMetrics.RecordBillsGenerated(ctx, int64(resp.Created))
		s.log.Info("generated bills",
			zap.String("client_id", req.ClientID.String()),
			zap.Int("fiscal_year", req.FiscalYear),
			zap.Int("period_index", req.PeriodIndex),
			zap.Int("created", resp.Created),
			zap.Int("skipped", resp.Skipped),
		)
	}
	return resp, nil
}

func (s *Service) ensurePeriod(
	ctx context.Context,
	tx *gorm.DB,
	req obligationdomain.GenerateBillsRequest,
	start, due time.Time,
	snapshot rateconfigdomain.RateSnapshot,
	now time.Time,
) (*obligationdomain.BillingPeriod, error) {
	surcharges := datatypes.JSONMap{}
	for key, amount := range snapshot.Surcharges {
		surcharges[key] = amount
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO billing_periods (
			id, client_id, fiscal_year, period_index, start_date, due_date,
			unit_rate, penalty_rate, grace_days, surcharges, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, fiscal_year, period_index) DO NOTHING`,
		s.genID.Generate(),
		req.ClientID,
		req.FiscalYear,
		req.PeriodIndex,
		start,
		due,
		snapshot.UnitRate,
		snapshot.PenaltyRate.String(),
		snapshot.GraceDays,
		surcharges,
		now,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	var period obligationdomain.BillingPeriod
	err := tx.WithContext(ctx).
		Where("client_id = ? AND fiscal_year = ? AND period_index = ?", req.ClientID, req.FiscalYear, req.PeriodIndex).
		First(&period).Error
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (s *Service) ListOutstanding(ctx context.Context, unitID snowflake.ID) ([]obligationdomain.Outstanding, error) {
	if unitID == 0 {
		return nil, obligationdomain.ErrInvalidUnit
	}

	var obligations []obligationdomain.Obligation
	err := s.db.WithContext(ctx).
		Where("unit_id = ? AND status <> ?", unitID, obligationdomain.StatusPaid).
		Order("fiscal_year ASC, period_index ASC").
		Find(&obligations).Error
	if err != nil {
		return nil, err
	}

	out := make([]obligationdomain.Outstanding, 0, len(obligations))
	for _, ob := range obligations {
		period, err := s.GetPeriod(ctx, ob.ClientID, ob.FiscalYear, ob.PeriodIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, obligationdomain.Outstanding{Obligation: ob, Period: *period})
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, unitID snowflake.ID, fiscalYear int) ([]obligationdomain.Obligation, error) {
	if unitID == 0 {
		return nil, obligationdomain.ErrInvalidUnit
	}

	var obligations []obligationdomain.Obligation
	err := s.db.WithContext(ctx).
		Where("unit_id = ? AND fiscal_year = ?", unitID, fiscalYear).
		Order("period_index ASC").
		Find(&obligations).Error
	if err != nil {
		return nil, err
	}
	return obligations, nil
}

func (s *Service) GetPeriod(ctx context.Context, clientID snowflake.ID, fiscalYear, periodIndex int) (*obligationdomain.BillingPeriod, error) {
	var period obligationdomain.BillingPeriod
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND fiscal_year = ? AND period_index = ?", clientID, fiscalYear, periodIndex).
		First(&period).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, obligationdomain.ErrPeriodNotFound
		}
		return nil, err
	}
	return &period, nil
}
