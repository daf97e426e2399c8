package pairing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	aiservice "pairing-engine/internal/core/ai/service"
	"pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/pkg/common"

	"go.uber.org/zap"
)

// Request 配對請求：菜單圖片或文字，加上場館庫存
type Request struct {
	Images        []string
	MenuText      string
	Shape         reconcile.ShapeHint
	Inventory     []reconcile.InventoryItem
	CorrelationID string
	Window        *reconcile.Window
}

// Service 提示詞、模型呼叫與對帳
type Service struct {
	gateway  *aiservice.Service
	pipeline *reconcile.Pipeline
}

// NewService 創建配對服務
func NewService(gateway *aiservice.Service, pipeline *reconcile.Pipeline) *Service {
	return &Service{gateway: gateway, pipeline: pipeline}
}

// Pair 相同圖片、文字與庫存命中快取時不呼叫模型
func (s *Service) Pair(ctx context.Context, req Request) (*reconcile.Result, error) {
	if req.Shape == "" {
		req.Shape = reconcile.ShapeMenu
	}
	if !req.Shape.Valid() {
		return nil, common.ErrUnsupportedShape.Wrap(fmt.Errorf("unsupported shape hint %q", req.Shape))
	}
	if len(req.Images) == 0 && strings.TrimSpace(req.MenuText) == "" {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("images or menu_text is required"))
	}
	if len(req.Inventory) == 0 {
		return nil, common.ErrInventoryEmpty
	}
	if req.CorrelationID == "" {
		req.CorrelationID = common.GenerateUUID()
	}

	images, err := s.gateway.PrepareImages(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	fingerprints := make([]string, 0, len(images))
	dataURLs := make([]string, 0, len(images))
	for _, img := range images {
		fingerprints = append(fingerprints, img.Fingerprint)
		dataURLs = append(dataURLs, img.DataURL)
	}

	window := s.pipeline.Options().Window
	if req.Window != nil {
		window = *req.Window
	}
	prompt := BuildPrompt(req.Shape, req.MenuText, req.Inventory, window)

	common.LogInfo("開始配對",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("shape", string(req.Shape)),
		zap.Int("images", len(images)),
		zap.Int("inventory", len(req.Inventory)),
	)

	return s.pipeline.ReconcileLazy(ctx, reconcile.LazyRequest{
		KeyBasis:      KeyBasis(fingerprints, req.MenuText),
		Shape:         req.Shape,
		Inventory:     req.Inventory,
		CorrelationID: req.CorrelationID,
		Window:        req.Window,
		Fetch: func(ctx context.Context) (reconcile.RawModelOutput, error) {
			resp, err := s.gateway.Generate(ctx, aiservice.GenerateRequest{
				System:    systemPrompt,
				Prompt:    prompt,
				Images:    dataURLs,
				RequestID: req.CorrelationID,
			})
			if err != nil {
				return reconcile.RawModelOutput{}, err
			}
			return reconcile.RawModelOutput{
				Text:          resp.Content,
				CorrelationID: req.CorrelationID,
				ReceivedAt:    time.Now(),
				Group:         req.Shape,
			}, nil
		},
	})
}

// KeyBasis 圖片指紋不分順序，菜單文字只看內容不看排版
func KeyBasis(fingerprints []string, menuText string) string {
	sorted := append([]string(nil), fingerprints...)
	sort.Strings(sorted)
	text := strings.Join(strings.Fields(strings.ToLower(menuText)), " ")
	return common.HashString("pairing|" + strings.Join(sorted, ",") + "|" + text)
}
