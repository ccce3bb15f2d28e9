// Package server exposes the pipeline's in-scope HTTP surface: webhook
// ingress, health, and Prometheus metrics. The operator-facing admin
// surface lives in a separate system and is not served here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	"github.com/smallbiznis/sepa-recovery/internal/observability"
	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	obsmiddleware "github.com/smallbiznis/sepa-recovery/internal/observability/logger"
	obstracing "github.com/smallbiznis/sepa-recovery/internal/observability/tracing"
	"github.com/smallbiznis/sepa-recovery/internal/webhook"
)

// NewEngine assembles the gin engine with the shared observability
// middleware stack, the health probe, and the metrics endpoint.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RegisterWebhookRoutes mounts the gateway notification ingress.
func RegisterWebhookRoutes(r *gin.Engine, handler *webhook.Handler) {
	handler.Register(r)
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

// classifyErrorForLog collapses the error taxonomy into the two label
// values the request log needs.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case apperrors.Is(err, apperrors.KindValidation):
		return "validation_error", string(apperrors.KindValidation)
	case apperrors.Is(err, apperrors.KindNotFound):
		return "not_found", string(apperrors.KindNotFound)
	case apperrors.Is(err, apperrors.KindConflict):
		return "conflict", string(apperrors.KindConflict)
	case apperrors.Is(err, apperrors.KindUnavailable):
		return "unavailable", string(apperrors.KindUnavailable)
	default:
		return "internal", string(apperrors.KindInternal)
	}
}

// Module wires the HTTP surface.
var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterWebhookRoutes),
	fx.Invoke(RunHTTP),
)
