package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pairing-engine/internal/core/ai/provider"
	"pairing-engine/internal/core/image"
	"pairing-engine/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options 模型閘道設定
type Options struct {
	// MaxImages 單次請求最多幾張圖片，<= 0 表示不限制
	MaxImages int

	// CallRate 對上游模型的呼叫速率，0 表示不限制
	CallRate  rate.Limit
	CallBurst int
}

// GenerateRequest 單次模型呼叫
type GenerateRequest struct {
	System    string
	Prompt    string
	Images    []string
	RequestID string
}

// Service 模型閘道：圖片前處理與上游呼叫
type Service struct {
	provider provider.Provider
	images   *image.Service
	opts     Options
	limiter  *rate.Limiter
}

// NewService 創建模型閘道
func NewService(p provider.Provider, images *image.Service, opts Options) (*Service, error) {
	if p == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	if images == nil {
		return nil, fmt.Errorf("image service is required")
	}

	s := &Service{provider: p, images: images, opts: opts}
	if opts.CallRate > 0 {
		burst := opts.CallBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.CallRate, burst)
	}
	return s, nil
}

// Model 上游模型名稱
func (s *Service) Model() string {
	return s.provider.GetModel()
}

// PrepareImages 逐張正規化；任何一張失敗即回傳錯誤
func (s *Service) PrepareImages(ctx context.Context, inputs []string) ([]*image.Image, error) {
	if s.opts.MaxImages > 0 && len(inputs) > s.opts.MaxImages {
		return nil, common.ErrInvalidRequest.Wrap(
			fmt.Errorf("too many images: %d (max %d)", len(inputs), s.opts.MaxImages))
	}

	out := make([]*image.Image, 0, len(inputs))
	for i, in := range inputs {
		img, err := s.images.Process(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// Generate 送出一次模型呼叫並回傳文字內容
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*provider.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("prompt is empty"))
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, common.ErrTooManyRequests.Wrap(fmt.Errorf("model call throttled: %w", err))
		}
	}

	timeout := s.provider.GetTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	messages := make([]provider.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, provider.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Prompt, Images: req.Images})

	resp, err := s.provider.Generate(ctx, &provider.Request{
		Messages:  messages,
		RequestID: req.RequestID,
	})
	if err != nil {
		var ce *common.CustomError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, common.ErrAIServiceError.Wrap(err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		common.LogWarn("模型回傳空內容",
			zap.String("model", s.provider.GetModel()),
			zap.String("request_id", req.RequestID),
		)
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("empty model response"))
	}
	return resp, nil
}

// Close 關閉上游連線
func (s *Service) Close() error {
	return s.provider.Close()
}
