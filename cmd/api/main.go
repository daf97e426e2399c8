package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairing-engine/internal/api"
	"pairing-engine/internal/api/handlers/health"
	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/core/ai/provider"
	"pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/core/service"
	"pairing-engine/internal/infrastructure/config"
	"pairing-engine/internal/infrastructure/inventory"
	"pairing-engine/internal/pkg/common"

	"go.uber.org/zap"
)

func main() {
	// 載入設定（含 .env）
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("openrouter_model", cfg.OpenRouter.Model),
		zap.Bool("openrouter_enabled", cfg.OpenRouter.Enabled),
		zap.Int("min_per_group", cfg.Reconcile.MinPerGroup),
		zap.Int("max_per_group", cfg.Reconcile.MaxPerGroup),
	)

	stop := make(chan struct{})
	deps := api.Dependencies{
		Readiness: make(map[string]health.Check),
		Stop:      stop,
	}

	// 預設庫存
	if cfg.Inventory.Path != "" {
		items, err := inventory.Load(cfg.Inventory.Path)
		if err != nil {
			common.LogFatal("Failed to load inventory", zap.String("path", cfg.Inventory.Path), zap.Error(err))
		}
		deps.Inventory = items
	} else {
		common.LogWarn("未設定預設庫存，請求需自帶 inventory")
	}

	// 初始化快取
	if cfg.Cache.Enabled {
		opts := cache.OptionsFromConfig(cfg.Cache)
		if cfg.Cache.RedisEnabled {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			backend, err := cache.NewRedisBackend(ctx, cfg.Cache)
			cancel()
			if err != nil {
				// 共享層無法連線時退回純記憶體快取
				common.LogWarn("Redis unavailable, using in-memory cache only", zap.Error(err))
			} else {
				defer backend.Close()
				opts.Backend = backend
				deps.Readiness["redis"] = backend.Ping
			}
		}
		responses := cache.New[*reconcile.Result](opts)
		defer responses.Close()
		deps.Responses = responses
	}

	// 初始化模型提供者
	if cfg.OpenRouter.Enabled {
		if cfg.OpenRouter.APIKey == "" {
			common.LogFatal("OpenRouter is enabled but OPENROUTER_API_KEY is empty")
		}
		var p provider.Provider = service.NewOpenRouterService(service.ProviderConfig(cfg))
		defer p.Close()
		deps.Provider = p
	}

	router, err := api.SetupRouter(cfg, deps)
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Int("port", cfg.Server.Port),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.LogFatal("Failed to start server", zap.Error(err))
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("Shutting down server...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
	}

	common.LogInfo("Server exited")
}
