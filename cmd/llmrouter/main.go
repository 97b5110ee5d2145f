// Package main is the entry point for the llmrouter proxy: it loads
// configuration, wires the request pipeline, and serves it over HTTP until
// an interrupt or termination signal asks it to drain and exit. Grounded on
// the teacher's cmd/test/main.go signal-handling idiom.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmrouter/llmrouter/internal/budget"
	"github.com/llmrouter/llmrouter/internal/config"
	"github.com/llmrouter/llmrouter/internal/logger"
	"github.com/llmrouter/llmrouter/internal/metrics"
	"github.com/llmrouter/llmrouter/internal/proxy"
	"github.com/llmrouter/llmrouter/internal/quota"
	"github.com/llmrouter/llmrouter/internal/routerconfig"
	"github.com/llmrouter/llmrouter/internal/tracing"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogJSON); err != nil {
		logger.FatalOnInitError("init logger", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	if cfg.PrometheusEnabled {
		metrics.GlobalRecorder = metrics.NewPrometheusRecorder(reg)
	}

	tracerProvider, err := tracing.Init(ctx, cfg.OTELEnabled, cfg.OTELExporterOTLPEndpoint)
	if err != nil {
		logger.Logger.Error("tracing init failed, continuing without tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	router, err := routerconfig.Load(cfg.RouterConfigPath)
	if err != nil {
		logger.FatalOnInitError("load router config", err)
	}

	budgetMgr := budget.New(budgetConfigFrom(router), nil, reg)

	var quotaTracker *quota.Tracker
	if router != nil {
		quotaTracker = quota.New(router.Budgets.MaxPushWithinMinutes)
	} else {
		quotaTracker = quota.New(quota.DefaultPushWithinMinutes)
	}

	pipeline := proxy.New(cfg, router, budgetMgr, quotaTracker)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(tracing.Middleware())
	engine.Use(func(c *gin.Context) {
		gmw.SetLogger(c, glog.Shared.Named("llmrouter"))
		c.Next()
	})
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"*"},
	}))

	engine.GET("/health", handleHealth(cfg, pipeline))
	engine.GET("/router/status", handleRouterStatus(pipeline, router, budgetMgr, quotaTracker))
	if cfg.PrometheusEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	engine.NoRoute(pipeline.Handle)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Logger.Info("llmrouter listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// budgetConfigFrom maps the router config's budget section into the
// budget manager's own Config shape, so budget stays decoupled from
// routerconfig's YAML types. A nil router (smart routing unconfigured)
// yields an unbounded budget manager: every window check is skipped.
func budgetConfigFrom(router *routerconfig.Config) budget.Config {
	if router == nil {
		return budget.Config{OverBudgetAction: "allow"}
	}
	b := router.Budgets
	return budget.Config{
		Hourly:               windowFrom(b.Hourly),
		Daily:                windowFrom(b.Daily),
		Monthly:              windowFrom(b.Monthly),
		DowngradeSteps:       b.DowngradeSteps,
		OverBudgetAction:     b.OverBudgetAction,
		MaxPushWithinMinutes: b.MaxPushWithinMinutes,
		MaxPushTier:          b.MaxPushTier,
	}
}

func windowFrom(w *routerconfig.BudgetWindow) *budget.Window {
	if w == nil {
		return nil
	}
	return &budget.Window{LimitUSD: w.LimitUSD, WarnAtPct: w.WarnAtPct, DowngradeAtPct: w.DowngradeAtPct}
}

func handleHealth(cfg *config.Config, p *proxy.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":                     "ok",
			"guard_enabled":              cfg.GuardEnabled,
			"guard_strip_hidden_unicode": cfg.GuardStripHiddenUnicode,
			"llm_api_base":               cfg.LLMAPIBase,
			"smart_router_enabled":       cfg.SmartRouterEnabled,
			"smart_router_ready":         p.Ready(),
		})
	}
}

func handleRouterStatus(p *proxy.Pipeline, router *routerconfig.Config, budgetMgr *budget.Manager, quotaTracker *quota.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{
			"enabled": router != nil && router.Enabled,
			"ready":   p.Ready(),
			"budget":  budgetMgr.Status(),
			"quota":   quotaTracker.Status(),
		}
		if router != nil {
			providers := make([]string, 0, len(router.Providers))
			for name := range router.Providers {
				providers = append(providers, name)
			}
			resp["providers"] = providers
			resp["tiers"] = router.TierOrder
			resp["default_tier"] = router.DefaultTier
		}
		c.JSON(http.StatusOK, resp)
	}
}
