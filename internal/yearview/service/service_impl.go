package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	"github.com/mlandesman/SAMS-sub020/internal/cache"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	obsmetrics "github.com/mlandesman/SAMS-sub020/internal/observability/metrics"
	"github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const viewCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ClientSvc  clientdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	clientSvc  clientdomain.Service
	obsMetrics *obsmetrics.Metrics
	views      cache.Cache[string, domain.GetYearResponse]
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("yearview.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		clientSvc:  p.ClientSvc,
		obsMetrics: p.ObsMetrics,
		views:      cache.NewTTLCache[string, domain.GetYearResponse](),
	}
}

func (s *Service) GetYear(ctx context.Context, clientID snowflake.ID, fiscalYear int) (domain.GetYearResponse, error) {
	if clientID == 0 {
		return domain.GetYearResponse{}, domain.ErrInvalidClient
	}
	if fiscalYear <= 0 {
		return domain.GetYearResponse{}, domain.ErrInvalidYear
	}

	rec, err := s.loadRecord(ctx, s.db, clientID, fiscalYear)
	if err != nil {
		return domain.GetYearResponse{}, err
	}

	if rec != nil && len(rec.Snapshot) > 0 {
		key := viewCacheKey(clientID, fiscalYear)
		if cached, ok := s.views.Get(key); ok && cached.Token == rec.Token.String() {
			return cached, nil
		}
		view, err := decodeSnapshot(rec.Snapshot)
		if err != nil {
			// Corrupt snapshot falls through to a rebuild.
			s.log.Error("failed to decode year view snapshot",
				zap.String("client_id", clientID.String()),
				zap.Int("fiscal_year", fiscalYear),
				zap.Error(err))
		} else {
			resp := domain.GetYearResponse{View: view, Token: rec.Token.String(), ComputedAt: rec.ComputedAt}
			s.views.Set(key, resp, viewCacheTTL)
			return resp, nil
		}
	}

	var resp domain.GetYearResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		resp, txErr = s.rebuildTx(ctx, tx, clientID, fiscalYear)
		return txErr
	})
	if err != nil {
		return domain.GetYearResponse{}, err
	}

	s.views.Set(viewCacheKey(clientID, fiscalYear), resp, viewCacheTTL)
	return resp, nil
}

func (s *Service) Token(ctx context.Context, clientID snowflake.ID, fiscalYear int) (string, error) {
	if clientID == 0 {
		return "", domain.ErrInvalidClient
	}
	rec, err := s.loadRecord(ctx, s.db, clientID, fiscalYear)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.Token.String(), nil
}

// BumpTx rotates the freshness token and drops the snapshot; the next
// GetYear rebuilds lazily.
func (s *Service) BumpTx(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int) error {
	rec, err := s.loadRecord(ctx, tx, clientID, fiscalYear)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &domain.Record{
			ID:         s.genID.Generate(),
			ClientID:   clientID,
			FiscalYear: fiscalYear,
		}
	}
	rec.Token = s.genID.Generate()
	rec.Snapshot = nil
	rec.UpdatedAt = s.clock.Now()
	return tx.WithContext(ctx).Save(rec).Error
}

// PatchTx recomputes the one unit's summary from ledger rows visible in
// the caller's transaction and splices it into the stored snapshot. When
// no snapshot exists the patch degrades to a token bump.
func (s *Service) PatchTx(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int, unitID snowflake.ID) error {
	rec, err := s.loadRecord(ctx, tx, clientID, fiscalYear)
	if err != nil {
		return err
	}
	if rec == nil || len(rec.Snapshot) == 0 {
		return s.BumpTx(ctx, tx, clientID, fiscalYear)
	}

	view, err := decodeSnapshot(rec.Snapshot)
	if err != nil {
		s.log.Error("failed to decode year view snapshot for patch",
			zap.String("client_id", clientID.String()),
			zap.Error(err))
		return s.BumpTx(ctx, tx, clientID, fiscalYear)
	}

	client, err := s.clientSvc.Get(ctx, clientID)
	if err != nil {
		return err
	}

	summary, err := s.unitSummaryTx(ctx, tx, unitID, fiscalYear, client.PeriodsPerYear)
	if err != nil {
		return err
	}
	spliceUnit(&view, summary)

	snapshot, err := encodeSnapshot(view)
	if err != nil {
		return err
	}

	rec.Snapshot = snapshot
	rec.Token = s.genID.Generate()
	rec.ComputedAt = s.clock.Now()
	rec.UpdatedAt = rec.ComputedAt
	if err := tx.WithContext(ctx).Save(rec).Error; err != nil {
		return err
	}

	s.obsMetrics.RecordYearViewPatch(ctx)
	return nil
}

func (s *Service) rebuildTx(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int) (domain.GetYearResponse, error) {
	client, err := s.clientSvc.Get(ctx, clientID)
	if err != nil {
		return domain.GetYearResponse{}, err
	}

	view, err := s.buildView(ctx, tx, clientID, fiscalYear, client.PeriodsPerYear)
	if err != nil {
		return domain.GetYearResponse{}, err
	}

	snapshot, err := encodeSnapshot(view)
	if err != nil {
		return domain.GetYearResponse{}, err
	}

	rec, err := s.loadRecord(ctx, tx, clientID, fiscalYear)
	if err != nil {
		return domain.GetYearResponse{}, err
	}
	if rec == nil {
		rec = &domain.Record{
			ID:         s.genID.Generate(),
			ClientID:   clientID,
			FiscalYear: fiscalYear,
			Token:      s.genID.Generate(),
		}
	}
	rec.Snapshot = snapshot
	rec.ComputedAt = s.clock.Now()
	rec.UpdatedAt = rec.ComputedAt
	if err := tx.WithContext(ctx).Save(rec).Error; err != nil {
		return domain.GetYearResponse{}, err
	}

	s.obsMetrics.RecordYearViewRebuild(ctx)
	return domain.GetYearResponse{View: view, Token: rec.Token.String(), ComputedAt: rec.ComputedAt}, nil
}

// buildView folds the obligation and credit ledgers into the aggregated
// view. Units are ordered by id and every unit carries the full period
// array so the serialization is stable across rebuilds.
func (s *Service) buildView(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear, periodsPerYear int) (domain.YearView, error) {
	view := domain.YearView{
		ClientID:   clientID.String(),
		FiscalYear: fiscalYear,
		Units:      []domain.UnitSummary{},
	}

	var unitIDs []snowflake.ID
	err := tx.WithContext(ctx).
		Model(&obligationdomain.Obligation{}).
		Distinct("unit_id").
		Where("client_id = ? AND fiscal_year = ?", clientID, fiscalYear).
		Order("unit_id").
		Pluck("unit_id", &unitIDs).Error
	if err != nil {
		return domain.YearView{}, err
	}

	for _, unitID := range unitIDs {
		summary, err := s.unitSummaryTx(ctx, tx, unitID, fiscalYear, periodsPerYear)
		if err != nil {
			return domain.YearView{}, err
		}
		view.Units = append(view.Units, summary)
	}
	return view, nil
}

// unitSummaryTx is the single summarization path shared by rebuild and
// patch; both must produce identical bytes for identical ledger state.
func (s *Service) unitSummaryTx(ctx context.Context, tx *gorm.DB, unitID snowflake.ID, fiscalYear, periodsPerYear int) (domain.UnitSummary, error) {
	var obligations []obligationdomain.Obligation
	err := tx.WithContext(ctx).
		Where("unit_id = ? AND fiscal_year = ?", unitID, fiscalYear).
		Order("period_index").
		Find(&obligations).Error
	if err != nil {
		return domain.UnitSummary{}, err
	}

	var balance int64
	err = tx.WithContext(ctx).
		Model(&creditdomain.Entry{}).
		Where("unit_id = ?", unitID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	if err != nil {
		return domain.UnitSummary{}, err
	}

	return summarize(unitID, periodsPerYear, obligations, balance), nil
}

func summarize(unitID snowflake.ID, periodsPerYear int, obligations []obligationdomain.Obligation, creditBalance int64) domain.UnitSummary {
	summary := domain.UnitSummary{
		UnitID:        unitID.String(),
		Periods:       make([]domain.PeriodSummary, periodsPerYear),
		CreditBalance: creditBalance,
	}
	for i := range summary.Periods {
		summary.Periods[i].Status = string(obligationdomain.StatusUnbilled)
	}
	for _, ob := range obligations {
		if ob.PeriodIndex < 1 || ob.PeriodIndex > periodsPerYear {
			continue
		}
		summary.Periods[ob.PeriodIndex-1] = domain.PeriodSummary{
			BaseAmount:  ob.BaseAmount,
			PaidBase:    ob.PaidBase,
			PaidPenalty: ob.PaidPenalty,
			Status:      string(ob.Status),
		}
		summary.TotalBilled += ob.BaseAmount
		summary.TotalPaidBase += ob.PaidBase
		summary.TotalPaidPenalty += ob.PaidPenalty
		summary.TotalUnpaid += ob.UnpaidBase()
	}
	return summary
}

// spliceUnit replaces or inserts the summary keeping units ordered by
// numeric id, matching the order a full rebuild produces.
func spliceUnit(view *domain.YearView, summary domain.UnitSummary) {
	target, err := snowflake.ParseString(summary.UnitID)
	if err != nil {
		return
	}
	idx := sort.Search(len(view.Units), func(i int) bool {
		id, parseErr := snowflake.ParseString(view.Units[i].UnitID)
		if parseErr != nil {
			return true
		}
		return id >= target
	})
	if idx < len(view.Units) && view.Units[idx].UnitID == summary.UnitID {
		view.Units[idx] = summary
		return
	}
	view.Units = append(view.Units, domain.UnitSummary{})
	copy(view.Units[idx+1:], view.Units[idx:])
	view.Units[idx] = summary
}

func (s *Service) loadRecord(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, fiscalYear int) (*domain.Record, error) {
	var rec domain.Record
	err := tx.WithContext(ctx).
		Where("client_id = ? AND fiscal_year = ?", clientID, fiscalYear).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeSnapshot(view domain.YearView) ([]byte, error) {
	raw, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeSnapshot(snapshot []byte) (domain.YearView, error) {
	raw, err := snappy.Decode(nil, snapshot)
	if err != nil {
		return domain.YearView{}, err
	}
	var view domain.YearView
	if err := json.Unmarshal(raw, &view); err != nil {
		return domain.YearView{}, err
	}
	return view, nil
}

func viewCacheKey(clientID snowflake.ID, fiscalYear int) string {
	return fmt.Sprintf("%s|%d", clientID, fiscalYear)
}
