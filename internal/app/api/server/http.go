package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/academy/docs"
	"github.com/fatflowers/academy/internal/app/api/handlers"
	"github.com/fatflowers/academy/internal/app/service/checkout"
	"github.com/fatflowers/academy/internal/app/service/enrollment"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	nh "github.com/fatflowers/academy/internal/app/service/notification_handler"
	"github.com/fatflowers/academy/internal/app/service/statistics"
	cfgpkg "github.com/fatflowers/academy/pkg/config"

	mw "github.com/fatflowers/academy/internal/app/api/middleware"

	metrics "github.com/fatflowers/academy/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Lc          fx.Lifecycle
	Log         *zap.SugaredLogger
	Cfg         *cfgpkg.Config
	Engine      *gin.Engine
	Checkout    *checkout.Service
	Enrollments *enrollment.Service
	Store       ledger.Store
	Webhook     *nh.NotificationHandler
	Stats       *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Cfg
	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		prom.SetListenAddress(cfg.MetricsAddr)
		prom.Use(r)
		p.Lc.Append(fx.Hook{OnStop: func(context.Context) error { return prom.Close() }})

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	// Webhooks authenticate by payload signature, not bearer token.
	handlers.RegisterPaymentWebhookRoutes(apiV1.Group("/webhook"), p.Webhook, log)

	authed := apiV1.Group("")
	authed.Use(mw.AuthMiddleware(cfg.Auth.JWTSecret, log))
	handlers.RegisterCheckoutRoutes(authed, p.Checkout, p.Enrollments, log)
	handlers.RegisterAdminPaymentRoutes(authed.Group("/admin", mw.RequireRole(mw.RoleAdmin)), p.Store, p.Checkout)
	handlers.RegisterEducatorRoutes(authed.Group("/educator", mw.RequireRole(mw.RoleEducator)), p.Stats)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
