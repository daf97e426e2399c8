package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Cache     *cache.Stats           `json:"cache,omitempty"`
	Inventory int                    `json:"inventory_items"`
}

// Check 就緒檢查項目，例如 Redis ping
type Check func(ctx context.Context) error

// Handler 健康檢查處理器
type Handler struct {
	version    string
	cacheStats func() cache.Stats
	inventory  int
	checks     map[string]Check
}

// NewHandler cacheStats 為 nil 表示快取未啟用
func NewHandler(version string, cacheStats func() cache.Stats, inventoryItems int) *Handler {
	return &Handler{
		version:    version,
		cacheStats: cacheStats,
		inventory:  inventoryItems,
		checks:     make(map[string]Check),
	}
}

// AddCheck 註冊就緒檢查
func (h *Handler) AddCheck(name string, check Check) {
	h.checks[name] = check
}

// HealthCheck 健康檢查
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
		Inventory: h.inventory,
	}
	if h.cacheStats != nil {
		stats := h.cacheStats()
		response.Cache = &stats
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 任一檢查失敗即回 503
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		common.LogWarn("Readiness check failed", zap.Any("failures", failures))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
