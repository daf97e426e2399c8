package api

import (
	"fmt"
	"net/http"
	"time"

	"pairing-engine/internal/api/handlers/health"
	reconcileHandler "pairing-engine/internal/api/handlers/reconcile"
	"pairing-engine/internal/api/middleware"
	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/core/ai/provider"
	aiservice "pairing-engine/internal/core/ai/service"
	"pairing-engine/internal/core/image"
	"pairing-engine/internal/core/pairing"
	"pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/infrastructure/config"
	"pairing-engine/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dependencies 由 main 建立並持有生命週期的元件
type Dependencies struct {
	// Responses 為 nil 時不快取對帳結果
	Responses *cache.ResponseCache[*reconcile.Result]

	// Provider 為 nil 時 /pairing 回 503
	Provider provider.Provider

	Inventory []reconcile.InventoryItem

	// Readiness 額外的就緒檢查，例如 Redis ping
	Readiness map[string]health.Check

	// Stop 關閉時停止背景清理
	Stop <-chan struct{}
}

// PipelineOptions 由設定組出對帳流程參數
func PipelineOptions(cfg config.ReconcileConfig) (reconcile.Options, error) {
	table, err := config.ParseConfusionTable(cfg.ConfusionTable)
	if err != nil {
		return reconcile.Options{}, err
	}
	return reconcile.Options{
		Window: reconcile.Window{Min: cfg.MinPerGroup, Max: cfg.MaxPerGroup},
		Resolver: reconcile.ResolverConfig{
			ContainmentMaxLengthDiff: cfg.ContainmentMaxLengthDiff,
			TokenOverlapRatio:        cfg.TokenOverlapRatio,
			MaxEditDistance:          cfg.MaxEditDistance,
			MinTokenLength:           cfg.MinTokenLength,
			ConfusionTable:           table,
		},
	}, nil
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件；requestid 需在 Logger 之前
	router.Use(requestid.New())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	opts, err := PipelineOptions(cfg.Reconcile)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile settings: %w", err)
	}
	pipeline := reconcile.NewPipeline(opts, deps.Responses)

	var pairingSvc *pairing.Service
	if deps.Provider != nil {
		gateway, err := aiservice.NewService(
			deps.Provider,
			image.NewService(cfg.Image.MaxSizeBytes, image.DefaultMaxDimension),
			aiservice.Options{
				MaxImages: cfg.Image.MaxImages,
				CallRate:  rate.Limit(cfg.OpenRouter.CallsPerSecond),
				CallBurst: cfg.OpenRouter.CallBurst,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize model gateway: %w", err)
		}
		pairingSvc = pairing.NewService(gateway, pipeline)
	}

	common.LogInfo("Initializing services",
		zap.Bool("cache_enabled", deps.Responses != nil),
		zap.Bool("pairing_enabled", pairingSvc != nil),
		zap.Int("inventory_items", len(deps.Inventory)),
		zap.Int("min_per_group", pipeline.Options().Window.Min),
		zap.Int("max_per_group", pipeline.Options().Window.Max),
	)

	var cacheStats func() cache.Stats
	if deps.Responses != nil {
		cacheStats = deps.Responses.Stats
	}
	healthHandler := health.NewHandler(cfg.App.Version, cacheStats, len(deps.Inventory))
	for name, check := range deps.Readiness {
		healthHandler.AddCheck(name, check)
	}

	// 健康檢查與監控路由不受限流
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst)
		if deps.Stop != nil {
			limiter.StartCleanup(time.Minute, deps.Stop)
		}
		api.Use(middleware.RateLimit(limiter, cfg.RateLimit.Window))
	}

	h := reconcileHandler.NewHandler(pipeline, pairingSvc, deps.Inventory)
	api.POST("/reconcile", h.HandleReconcile)
	if pairingSvc != nil {
		api.POST("/pairing", h.HandlePairing)
	} else {
		api.POST("/pairing", func(c *gin.Context) {
			c.JSON(http.StatusServiceUnavailable, common.ErrorResponse{
				Code:    common.ErrCodeServiceUnavailable,
				Message: common.ErrServiceUnavailable.Message,
				Details: "model provider is not configured",
			})
		})
	}

	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, common.ErrorResponse{
			Code:    common.ErrCodeNotFound,
			Message: common.ErrNotFound.Message,
		})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, common.ErrorResponse{
			Code:    common.ErrCodeMethodNotAllowed,
			Message: common.ErrMethodNotAllowed.Message,
		})
	})

	common.LogInfo("Router setup completed successfully",
		zap.String("version", cfg.App.Version),
		zap.Duration("timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
	)

	return router, nil
}
