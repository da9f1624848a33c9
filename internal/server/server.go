package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/mlandesman/SAMS-sub020/internal/audit"
	auditdomain "github.com/mlandesman/SAMS-sub020/internal/audit/domain"
	"github.com/mlandesman/SAMS-sub020/internal/client"
	clientdomain "github.com/mlandesman/SAMS-sub020/internal/client/domain"
	"github.com/mlandesman/SAMS-sub020/internal/clock"
	"github.com/mlandesman/SAMS-sub020/internal/config"
	"github.com/mlandesman/SAMS-sub020/internal/credit"
	creditdomain "github.com/mlandesman/SAMS-sub020/internal/credit/domain"
	"github.com/mlandesman/SAMS-sub020/internal/crossref"
	crossrefdomain "github.com/mlandesman/SAMS-sub020/internal/crossref/domain"
	"github.com/mlandesman/SAMS-sub020/internal/importer"
	"github.com/mlandesman/SAMS-sub020/internal/journal"
	"github.com/mlandesman/SAMS-sub020/internal/obligation"
	obligationdomain "github.com/mlandesman/SAMS-sub020/internal/obligation/domain"
	"github.com/mlandesman/SAMS-sub020/internal/observability"
	obsmiddleware "github.com/mlandesman/SAMS-sub020/internal/observability/logger"
	obstracing "github.com/mlandesman/SAMS-sub020/internal/observability/tracing"
	"github.com/mlandesman/SAMS-sub020/internal/payment"
	paymentdomain "github.com/mlandesman/SAMS-sub020/internal/payment/domain"
	"github.com/mlandesman/SAMS-sub020/internal/rateconfig"
	"github.com/mlandesman/SAMS-sub020/internal/unitlock"
	"github.com/mlandesman/SAMS-sub020/internal/yearview"
	yearviewdomain "github.com/mlandesman/SAMS-sub020/internal/yearview/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	clock.Module,
	fx.Provide(registerGin),
	audit.Module,
	client.Module,
	rateconfig.Module,
	unitlock.Module,
	yearview.Module,
	obligation.Module,
	credit.Module,
	journal.Module,
	crossref.Module,
	payment.Module,
	importer.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	clientSvc     clientdomain.Service
	obligationSvc obligationdomain.Service
	paymentSvc    paymentdomain.Service
	creditSvc     creditdomain.Service
	crossrefSvc   crossrefdomain.Service
	yearviewSvc   yearviewdomain.Service
	auditSvc      auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	ClientSvc     clientdomain.Service
	ObligationSvc obligationdomain.Service
	PaymentSvc    paymentdomain.Service
	CreditSvc     creditdomain.Service
	CrossrefSvc   crossrefdomain.Service
	YearviewSvc   yearviewdomain.Service
	AuditSvc      auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		clientSvc:     p.ClientSvc,
		obligationSvc: p.ObligationSvc,
		paymentSvc:    p.PaymentSvc,
		creditSvc:     p.CreditSvc,
		crossrefSvc:   p.CrossrefSvc,
		yearviewSvc:   p.YearviewSvc,
		auditSvc:      p.AuditSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	units := api.Group("/units/:unit_id")
	units.GET("/obligations", s.ListObligations)
	units.GET("/payments", s.ListPayments)
	units.POST("/payments", s.RecordPayment)
	units.GET("/credit", s.GetCreditBalance)
	units.GET("/credit/history", s.GetCreditHistory)
	units.POST("/credit/adjustments", s.AdjustCredit)

	years := api.Group("/clients/:client_id/years/:fiscal_year")
	years.GET("", s.GetYearView)
	years.POST("/bills", s.GenerateBills)

	api.GET("/transactions/:transaction_id/periods", s.ReverseLookup)
}

func parseID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid identifier"))
		return 0, false
	}
	return id, true
}
