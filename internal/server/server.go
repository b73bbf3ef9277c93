package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/registry/internal/authorization"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/config"
	flowsdomain "github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/observability"
	obsmiddleware "github.com/smallbiznis/registry/internal/observability/logger"
	obstracing "github.com/smallbiznis/registry/internal/observability/tracing"
	"github.com/smallbiznis/registry/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	engine  *gin.Engine
	flows   flowsdomain.Service
	authz   authorization.Service
	limiter commandLimiter
	clock   clock.Clock
	log     *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Flows   flowsdomain.Service
	Authz   authorization.Service
	Limiter *ratelimit.CommandLimiter `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		flows:  p.Flows,
		authz:  p.Authz,
		clock:  p.Clock,
		log:    p.Log.Named("http"),
	}
	if p.Limiter.Enabled() {
		svc.limiter = p.Limiter
	}

	svc.registerDomainRoutes()
	return svc
}

func (s *Server) registerDomainRoutes() {
	v1 := s.engine.Group("/v1")
	domains := v1.Group("/domains", s.RegistrarRequired())
	domains.POST("/check", s.RateLimited(ratelimit.ClassCheck), s.CheckDomains)

	mutate := domains.Group("", s.RateLimited(ratelimit.ClassMutate))
	mutate.POST("/create", s.CreateDomain)
	mutate.POST("/renew", s.RenewDomain)
	mutate.POST("/delete", s.DeleteDomain)
	mutate.POST("/restore", s.RestoreDomain)
	mutate.POST("/transfer/:op", s.TransferDomain)
	mutate.POST("/recurrence", s.UpdateRecurrence)
}
