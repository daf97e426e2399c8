package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pairing-engine/internal/core/pairing"
	core "pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/infrastructure/inventory"
	"pairing-engine/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReconcileRequest 對一段已取得的模型輸出做對帳
type ReconcileRequest struct {
	RawOutput     string               `json:"raw_output" binding:"required"`
	ShapeHint     string               `json:"shape_hint" binding:"required"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	KeyBasis      string               `json:"key_basis,omitempty"`
	Inventory     []core.InventoryItem `json:"inventory,omitempty"`
	MinPerGroup   *int                 `json:"min_per_group,omitempty"`
	MaxPerGroup   *int                 `json:"max_per_group,omitempty"`
}

// PairingRequest 由菜單圖片或文字產生配對
type PairingRequest struct {
	Images        []string             `json:"images,omitempty"`
	MenuText      string               `json:"menu_text,omitempty"`
	ShapeHint     string               `json:"shape_hint,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	Inventory     []core.InventoryItem `json:"inventory,omitempty"`
	MinPerGroup   *int                 `json:"min_per_group,omitempty"`
	MaxPerGroup   *int                 `json:"max_per_group,omitempty"`
}

// MalformedResponse 422 回應：空分組加上原因
type MalformedResponse struct {
	common.ErrorResponse
	Reason        string               `json:"reason"`
	Groups        []core.GroupedResult `json:"groups"`
	Tier          core.ExtractionTier  `json:"extraction_tier"`
	Diagnostics   []string             `json:"diagnostics,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
}

// Handler 對帳與配對處理程序
type Handler struct {
	pipeline  *core.Pipeline
	pairing   *pairing.Service
	inventory []core.InventoryItem
}

// NewHandler 創建處理程序；defaultInventory 為請求未附庫存時使用
func NewHandler(pipeline *core.Pipeline, pairingSvc *pairing.Service, defaultInventory []core.InventoryItem) *Handler {
	return &Handler{
		pipeline:  pipeline,
		pairing:   pairingSvc,
		inventory: defaultInventory,
	}
}

// HandleReconcile POST /api/v1/reconcile
func (h *Handler) HandleReconcile(c *gin.Context) {
	requestID := requestid.Get(c)

	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, common.ErrInvalidRequest.Wrap(fmt.Errorf("invalid request format: %w", err)), nil)
		return
	}

	items, err := h.resolveInventory(req.Inventory)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	window, err := h.window(req.MinPerGroup, req.MaxPerGroup)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = requestID
	}
	shape := core.ShapeHint(req.ShapeHint)
	if !shape.Valid() {
		h.writeError(c, common.ErrUnsupportedShape.Wrap(fmt.Errorf("unsupported shape hint %q", req.ShapeHint)), nil)
		return
	}

	common.LogInfo("開始處理對帳請求",
		zap.String("request_id", requestID),
		zap.String("shape", req.ShapeHint),
		zap.Int("raw_length", len(req.RawOutput)),
		zap.Int("inventory", len(items)),
	)

	res, err := h.pipeline.Reconcile(c.Request.Context(), core.Request{
		Output: core.RawModelOutput{
			Text:          req.RawOutput,
			CorrelationID: correlationID,
			ReceivedAt:    time.Now(),
			Group:         shape,
		},
		Inventory: items,
		KeyBasis:  req.KeyBasis,
		Window:    window,
	})
	if err != nil {
		h.writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandlePairing POST /api/v1/pairing
func (h *Handler) HandlePairing(c *gin.Context) {
	requestID := requestid.Get(c)

	var req PairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, common.ErrInvalidRequest.Wrap(fmt.Errorf("invalid request format: %w", err)), nil)
		return
	}

	items, err := h.resolveInventory(req.Inventory)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	window, err := h.window(req.MinPerGroup, req.MaxPerGroup)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = requestID
	}

	common.LogInfo("開始處理配對請求",
		zap.String("request_id", requestID),
		zap.Int("images", len(req.Images)),
		zap.Bool("has_menu_text", req.MenuText != ""),
	)

	res, err := h.pairing.Pair(c.Request.Context(), pairing.Request{
		Images:        req.Images,
		MenuText:      req.MenuText,
		Shape:         core.ShapeHint(req.ShapeHint),
		Inventory:     items,
		CorrelationID: correlationID,
		Window:        window,
	})
	if err != nil {
		h.writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// resolveInventory 請求附帶的庫存優先，否則使用載入的預設庫存
func (h *Handler) resolveInventory(items []core.InventoryItem) ([]core.InventoryItem, error) {
	if len(items) == 0 {
		if len(h.inventory) == 0 {
			return nil, common.ErrInventoryEmpty
		}
		return h.inventory, nil
	}
	normalized, err := inventory.Normalize(items)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrap(err)
	}
	return normalized, nil
}

// window 只覆蓋有提供的上下限
func (h *Handler) window(minPerGroup, maxPerGroup *int) (*core.Window, error) {
	if minPerGroup == nil && maxPerGroup == nil {
		return nil, nil
	}
	w := h.pipeline.Options().Window
	if minPerGroup != nil {
		w.Min = *minPerGroup
	}
	if maxPerGroup != nil {
		w.Max = *maxPerGroup
	}
	if w.Min < 0 || w.Max < w.Min {
		return nil, common.ErrInvalidRequest.Wrap(
			fmt.Errorf("invalid window: min_per_group=%d max_per_group=%d", w.Min, w.Max))
	}
	return &w, nil
}

// writeError 將核心與上游錯誤對應到 HTTP 狀態
func (h *Handler) writeError(c *gin.Context, err error, res *core.Result) {
	requestID := requestid.Get(c)
	_ = c.Error(err)

	var malformed *core.MalformedInputError
	if errors.As(err, &malformed) {
		body := MalformedResponse{
			ErrorResponse: common.ErrorResponse{
				Code:    common.ErrCodeMalformedOutput,
				Message: common.ErrMalformedModelOutput.Message,
			},
			Reason: malformed.Reason,
			Groups: []core.GroupedResult{},
			Tier:   core.TierNone,
		}
		if res != nil {
			body.Tier = res.Tier
			body.Diagnostics = res.Diagnostics
			body.CorrelationID = res.CorrelationID
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	status := http.StatusInternalServerError
	resp := common.ErrorResponse{
		Code:    common.ErrCodeInternalError,
		Message: common.ErrInternalError.Message,
	}

	var ce *common.CustomError
	switch {
	case errors.As(err, &ce):
		status = ce.Status
		resp.Code = ce.Code
		resp.Message = ce.Message
		if ce.Err != nil {
			resp.Details = ce.Err.Error()
		}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp.Code = common.ErrCodeGatewayTimeout
		resp.Message = common.ErrGatewayTimeout.Message
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
		resp.Code = common.ErrCodeRequestTimeout
		resp.Message = common.ErrRequestTimeout.Message
	}

	common.LogWarn("請求處理失敗",
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.String("code", resp.Code),
		zap.Error(err),
	)
	c.JSON(status, resp)
}
