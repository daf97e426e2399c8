package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pairing-engine/internal/core/ai/provider"
	"pairing-engine/internal/infrastructure/config"
	"pairing-engine/internal/pkg/common"
	"pairing-engine/internal/pkg/metrics"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterService OpenRouter 服務，實作 provider.Provider
type OpenRouterService struct {
	config provider.Config
	client *resty.Client
}

// ProviderConfig 由應用設定組出 OpenRouter 的提供者設定
func ProviderConfig(cfg *config.Config) provider.Config {
	return provider.Config{
		APIKey:      cfg.OpenRouter.APIKey,
		Model:       cfg.OpenRouter.Model,
		BaseURL:     cfg.OpenRouter.BaseURL,
		Timeout:     cfg.OpenRouter.Timeout,
		MaxRetries:  2,
		MaxTokens:   cfg.OpenRouter.MaxTokens,
		Temperature: cfg.OpenRouter.Temperature,
		Title:       cfg.App.Name,
	}
}

// NewOpenRouterService 創建 OpenRouter 服務
func NewOpenRouterService(cfg provider.Config) *OpenRouterService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Title == "" {
		cfg.Title = "Pairing Engine"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", cfg.Title).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Referer != "" {
		client.SetHeader("HTTP-Referer", cfg.Referer)
	}

	return &OpenRouterService{
		config: cfg,
		client: client,
	}
}

// Generate 呼叫 chat/completions
func (s *OpenRouterService) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	resp, err := s.generate(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	duration := time.Since(start)
	metrics.ModelCallDuration.WithLabelValues(s.config.Model, outcome).Observe(duration.Seconds())
	requestID := ""
	if req != nil {
		requestID = req.RequestID
	}
	common.LogAICall(s.config.Model, duration, err, requestID)

	return resp, err
}

func (s *OpenRouterService) generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("request has no messages"))
	}

	body := s.buildChatRequest(req)

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("failed to send request to OpenRouter: %w", err))
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, common.ErrAIServiceError.Wrap(
			fmt.Errorf("OpenRouter API returned status %d: %s", resp.StatusCode(), resp.String()))
	}

	var result common.ChatResponse
	if err := common.ParseJSONBytes(resp.Body(), &result); err != nil {
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("failed to parse OpenRouter response: %w", err))
	}

	if len(result.Choices) == 0 {
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("no choices in OpenRouter response"))
	}

	return &provider.Response{
		Content: result.Choices[0].Message.Content,
		Model:   body.Model,
		Usage: provider.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}

// buildChatRequest 將提供者請求轉成 OpenRouter 的多模態訊息
func (s *OpenRouterService) buildChatRequest(req *provider.Request) common.ChatRequest {
	messages := make([]common.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := []common.ChatContent{{Type: "text", Text: strings.TrimSpace(m.Content)}}
		for _, img := range m.Images {
			url := img
			if !strings.HasPrefix(img, "data:image/") && !strings.HasPrefix(img, "http") {
				url = fmt.Sprintf("data:image/jpeg;base64,%s", img)
			}
			content = append(content, common.ChatContent{
				Type:     "image_url",
				ImageURL: &common.ImageURL{URL: url},
			})
		}
		messages = append(messages, common.ChatMessage{Role: m.Role, Content: content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.config.Temperature
	}

	common.LogDebug("OpenRouter request built",
		zap.String("model", s.config.Model),
		zap.Int("messages", len(messages)),
		zap.Int("max_tokens", maxTokens),
	)

	return common.ChatRequest{
		Model:       s.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// GetModel 當前模型
func (s *OpenRouterService) GetModel() string {
	return s.config.Model
}

// GetTimeout 請求超時
func (s *OpenRouterService) GetTimeout() time.Duration {
	return s.config.Timeout
}

// Close resty 客戶端無需釋放資源
func (s *OpenRouterService) Close() error {
	return nil
}

var _ provider.Provider = (*OpenRouterService)(nil)
