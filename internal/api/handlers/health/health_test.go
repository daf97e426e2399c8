package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pairing-engine/internal/core/ai/cache"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.HealthCheck)
	r.GET("/ready", h.ReadinessCheck)
	r.GET("/live", h.LivenessCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler("1.2.3", func() cache.Stats { return cache.Stats{Size: 4, Capacity: 10, Hits: 3} }, 12)

	w := serve(h, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, 12, body.Inventory)
	require.NotNil(t, body.Cache)
	assert.Equal(t, 4, body.Cache.Size)
	assert.Equal(t, int64(3), body.Cache.Hits)

	w = serve(NewHandler("v", nil, 0), "/health")
	assert.NotContains(t, w.Body.String(), `"cache"`)
}

func TestReadinessCheck(t *testing.T) {
	h := NewHandler("v", nil, 0)
	assert.Equal(t, http.StatusOK, serve(h, "/ready").Code)

	h.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	w := serve(h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	assert.Equal(t, http.StatusOK, serve(h, "/live").Code)
}
