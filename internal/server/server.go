package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/siteledger/internal/authorization"
	"github.com/smallbiznis/siteledger/internal/config"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/internal/enforcer"
	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	obslogger "github.com/smallbiznis/siteledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/siteledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/siteledger/internal/observability/tracing"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(e *enforcer.Enforcer) EnforcerRunner { return e }),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

// EnforcerRunner triggers one enforcement run.
type EnforcerRunner interface {
	RunOnce(ctx context.Context) (enforcer.Report, error)
}

type EngineParams struct {
	fx.In

	Log         *zap.Logger
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if p.HTTPMetrics != nil {
		r.Use(p.HTTPMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	authzSvc    authorization.Service
	contractSvc contractdomain.Service
	graceSvc    gracedomain.Service
	webhookSvc  webhookdomain.Service
	enforcer    EnforcerRunner
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	AuthzSvc    authorization.Service
	ContractSvc contractdomain.Service
	GraceSvc    gracedomain.Service
	WebhookSvc  webhookdomain.Service
	Enforcer    EnforcerRunner `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		authzSvc:    p.AuthzSvc,
		contractSvc: p.ContractSvc,
		graceSvc:    p.GraceSvc,
		webhookSvc:  p.WebhookSvc,
		enforcer:    p.Enforcer,
	}

	s.registerWebhookRoutes()
	s.registerAPIRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payment-gateway", s.HandleGatewayWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorRequired())

	// -------- Contracts --------
	api.GET("/contracts/:id", s.GetContract)
	api.GET("/contracts/:id/fee-preview", s.PreviewContractFees)
	api.POST("/contracts/:id/plan-change", RequireJSON(), s.RequestPlanChange)
	api.DELETE("/contracts/:id/plan-change", s.CancelPlanChange)

	// -------- Grace periods --------
	api.GET("/grace-periods/:id", s.GetGracePeriod)
	api.POST("/grace-periods/:id/exempt", s.ExemptGracePeriod)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", ActorRequired())

	admin.POST("/enforcer/run", s.authorizeSystemAction(authorization.ObjectEnforcer, authorization.ActionEnforcerRun), s.RunEnforcer)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
