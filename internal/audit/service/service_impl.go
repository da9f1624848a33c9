package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/pkg/actorctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, action auditdomain.Action) error {
	name := strings.TrimSpace(action.Action)
	if name == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(action.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorType := strings.TrimSpace(action.ActorType)
	if actorType == "" {
		actorType = "system"
	}

	metadata := datatypes.JSONMap{}
	for key, value := range action.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	if requestID := actorctx.RequestID(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    strings.TrimSpace(action.ActorID),
		Action:     name,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(action.TargetID),
		Metadata:   metadata,
		CreatedAt:  s.clock.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Warn("failed to persist audit log", zap.Error(err), zap.String("action", name))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, targetType, targetID string, limit int) ([]auditdomain.AuditLog, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	var logs []auditdomain.AuditLog
	stmt := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if strings.TrimSpace(targetType) != "" {
		stmt = stmt.Where("target_type = ?", targetType)
	}
	if strings.TrimSpace(targetID) != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	err := stmt.Find(&logs).Error
	return logs, err
}
