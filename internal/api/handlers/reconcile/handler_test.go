package reconcile

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/core/ai/provider/providertest"
	aiservice "pairing-engine/internal/core/ai/service"
	"pairing-engine/internal/core/image"
	"pairing-engine/internal/core/pairing"
	core "pairing-engine/internal/core/reconcile"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultInventory() []core.InventoryItem {
	return []core.InventoryItem{
		{ID: "w1", Name: "Château Margaux", Kind: core.KindWine, Category: "red"},
		{ID: "w2", Name: "Cloudy Bay Sauvignon Blanc", Kind: core.KindWine, Category: "white"},
	}
}

func newTestRouter(t *testing.T, fake *providertest.Fake, inv []core.InventoryItem) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	responses := cache.New[*core.Result](cache.Options{Name: "handler-test", Capacity: 8, TTL: time.Hour})
	t.Cleanup(func() { _ = responses.Close() })
	pipeline := core.NewPipeline(core.Options{Window: core.Window{Min: 1, Max: 2}}, responses)

	gateway, err := aiservice.NewService(fake, image.NewService(1<<20, 0), aiservice.Options{})
	require.NoError(t, err)

	h := NewHandler(pipeline, pairing.NewService(gateway, pipeline), inv)
	r := gin.New()
	r.Use(requestid.New())
	r.POST("/api/v1/reconcile", h.HandleReconcile)
	r.POST("/api/v1/pairing", h.HandlePairing)
	return r
}

func post(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleReconcile(t *testing.T) {
	r := newTestRouter(t, providertest.NewFake(), defaultInventory())

	t.Run("ok with default inventory", func(t *testing.T) {
		body := `{"raw_output": "[{name: \"Chateau Margaux\", for_dish: \"Lamb\"}]", "shape_hint": "wine-list", "correlation_id": "c-1"}`
		w := post(t, r, "/api/v1/reconcile", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res core.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "c-1", res.CorrelationID)
		require.Len(t, res.Groups, 1)
		assert.Equal(t, "Lamb", res.Groups[0].Parent.Name)
		require.Len(t, res.Groups[0].Entities, 1)
		assert.Equal(t, "Château Margaux", res.Groups[0].Entities[0].Name)
		assert.False(t, res.CacheHit)
	})

	t.Run("request inventory and window override", func(t *testing.T) {
		body := `{
			"raw_output": "{\"wines\": [{\"name\": \"Opus One\"}]}",
			"shape_hint": "wine-list",
			"inventory": [{"name": "Opus One", "category": "red"}],
			"min_per_group": 3,
			"max_per_group": 3
		}`
		w := post(t, r, "/api/v1/reconcile", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res core.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Groups, 1)
		entities := res.Groups[0].Entities
		require.Len(t, entities, 3)
		assert.Equal(t, "Opus One", entities[0].Name)
		assert.Equal(t, "item-1", entities[0].ItemID)
		assert.True(t, entities[1].Sentinel)
		assert.True(t, entities[2].Sentinel)
		assert.NotEmpty(t, res.CorrelationID, "falls back to the request id")
	})

	t.Run("key basis hits cache", func(t *testing.T) {
		body := `{"raw_output": "[{\"name\": \"Cloudy Bay Sauvignon Blanc\"}]", "shape_hint": "wine-list", "key_basis": "photo-1"}`
		w := post(t, r, "/api/v1/reconcile", body)
		require.Equal(t, http.StatusOK, w.Code)
		w = post(t, r, "/api/v1/reconcile", body)
		require.Equal(t, http.StatusOK, w.Code)

		var res core.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.CacheHit)
	})

	t.Run("malformed output", func(t *testing.T) {
		w := post(t, r, "/api/v1/reconcile", `{"raw_output": "sorry, no idea", "shape_hint": "menu"}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body MalformedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "MALFORMED_MODEL_OUTPUT", body.Code)
		assert.NotEmpty(t, body.Reason)
		assert.NotNil(t, body.Groups)
		assert.Empty(t, body.Groups)
		assert.Contains(t, w.Body.String(), `"groups":[]`)
	})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing raw output", `{"shape_hint": "menu"}`, "INVALID_REQUEST"},
		{"not json", `{raw_output`, "INVALID_REQUEST"},
		{"bad shape", `{"raw_output": "[]", "shape_hint": "cocktails"}`, "UNSUPPORTED_SHAPE"},
		{"bad window", `{"raw_output": "[]", "shape_hint": "menu", "min_per_group": 3, "max_per_group": 1}`, "INVALID_REQUEST"},
		{"inventory without names", `{"raw_output": "[]", "shape_hint": "menu", "inventory": [{"id": "x"}]}`, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, r, "/api/v1/reconcile", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestHandleReconcile_NoInventory(t *testing.T) {
	r := newTestRouter(t, providertest.NewFake(), nil)
	w := post(t, r, "/api/v1/reconcile", `{"raw_output": "[]", "shape_hint": "menu"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVENTORY_EMPTY")
}

func TestHandlePairing(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		fake := providertest.NewFake(`{"dishes": [{"name": "Lamb", "recommendations": [{"name": "Chateau Margaux"}]}]}`)
		r := newTestRouter(t, fake, defaultInventory())

		w := post(t, r, "/api/v1/pairing", `{"menu_text": "Lamb shank with rosemary"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res core.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Groups, 1)
		assert.Equal(t, "Château Margaux", res.Groups[0].Entities[0].Name)
		assert.Equal(t, 1, fake.Calls())

		w = post(t, r, "/api/v1/pairing", `{"menu_text": "lamb shank   with rosemary"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, fake.Calls(), "cached result skips the model")
	})

	t.Run("model failure", func(t *testing.T) {
		fake := providertest.NewFake()
		fake.Err = errors.New("upstream down")
		r := newTestRouter(t, fake, defaultInventory())

		w := post(t, r, "/api/v1/pairing", `{"menu_text": "Lamb"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "AI_SERVICE_ERROR")
	})

	t.Run("malformed model answer", func(t *testing.T) {
		r := newTestRouter(t, providertest.NewFake("no wines today"), defaultInventory())
		w := post(t, r, "/api/v1/pairing", `{"menu_text": "Lamb"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("no input", func(t *testing.T) {
		r := newTestRouter(t, providertest.NewFake(), defaultInventory())
		w := post(t, r, "/api/v1/pairing", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad image", func(t *testing.T) {
		r := newTestRouter(t, providertest.NewFake(), defaultInventory())
		w := post(t, r, "/api/v1/pairing", `{"images": ["data:image/png;base64,AAAA"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_IMAGE_FORMAT")
	})
}
