package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/capability"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/gate"
	"github.com/smallbiznis/contentgate/internal/identity"
	moderationdomain "github.com/smallbiznis/contentgate/internal/moderation/domain"
	"github.com/smallbiznis/contentgate/internal/observability"
	obslogger "github.com/smallbiznis/contentgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/contentgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/contentgate/internal/observability/tracing"
	quotadomain "github.com/smallbiznis/contentgate/internal/quota/domain"
	"github.com/smallbiznis/contentgate/internal/ratelimit"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	clock         clock.Clock
	verifier      *identity.Verifier
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	submissionSvc subdomain.Service
	moderationSvc moderationdomain.Service
	quotaSvc      quotadomain.Service
	gate          *gate.Gate
	capabilities  *capability.Issuer
	limiter       *ratelimit.APILimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Clock         clock.Clock
	Verifier      *identity.Verifier
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	SubmissionSvc subdomain.Service
	ModerationSvc moderationdomain.Service
	QuotaSvc      quotadomain.Service
	Gate          *gate.Gate
	Capabilities  *capability.Issuer
	Limiter       *ratelimit.APILimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		clock:         p.Clock,
		verifier:      p.Verifier,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		submissionSvc: p.SubmissionSvc,
		moderationSvc: p.ModerationSvc,
		quotaSvc:      p.QuotaSvc,
		gate:          p.Gate,
		capabilities:  p.Capabilities,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/health", s.Health)

	internal := s.engine.Group("/internal")
	internal.POST("/capabilities/verify", s.VerifyCapability)

	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())

	api.POST("/submissions",
		s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionCreate),
		s.RateLimit(),
		s.CreateSubmission,
	)
	api.GET("/submissions", s.ListSubmissions)
	api.GET("/submissions/:id", s.GetSubmission)
	api.POST("/submissions/:id/download",
		s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionDownload),
		s.RateLimit(),
		s.DownloadSubmission,
	)
	api.POST("/submissions/:id/resubmit",
		s.authorize(authorization.ObjectSubmission, authorization.ActionSubmissionResubmit),
		s.RateLimit(),
		s.ResubmitSubmission,
	)
	api.POST("/submissions/:id/approve", s.ApproveSubmission)
	api.POST("/submissions/:id/reject", s.RejectSubmission)
	api.DELETE("/submissions/:id", s.RemoveSubmission)
	api.GET("/submissions/:id/history", s.SubmissionHistory)

	api.GET("/quota", s.authorize(authorization.ObjectQuota, authorization.ActionQuotaView), s.GetQuota)
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

// Health reports liveness and whether the store answers a ping.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}
