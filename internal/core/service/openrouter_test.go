package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pairing-engine/internal/core/ai/provider"
	"pairing-engine/internal/infrastructure/config"
	"pairing-engine/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{
  "choices": [{"message": {"role": "assistant", "content": "{\"dishes\": []}"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newTestService(url string) *OpenRouterService {
	return NewOpenRouterService(provider.Config{
		APIKey:    "sk-test",
		Model:     "test/model",
		BaseURL:   url,
		Timeout:   2 * time.Second,
		MaxTokens: 256,
	})
}

func TestOpenRouterService_Generate(t *testing.T) {
	var captured common.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL)
	resp, err := svc.Generate(context.Background(), &provider.Request{
		Messages: []provider.Message{{
			Role:    "user",
			Content: "  pair these  ",
			Images:  []string{"data:image/jpeg;base64,AAAA", "BBBB"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"dishes": []}`, resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, "test/model", resp.Model)

	assert.Equal(t, "test/model", captured.Model)
	assert.Equal(t, 256, captured.MaxTokens)
	require.Len(t, captured.Messages, 1)
	parts := captured.Messages[0].Content
	require.Len(t, parts, 3)
	assert.Equal(t, "pair these", parts[0].Text)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", parts[1].ImageURL.URL)
	assert.Equal(t, "data:image/jpeg;base64,BBBB", parts[2].ImageURL.URL)
}

func TestOpenRouterService_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"upstream error", http.StatusBadRequest, `{"error": "bad model"}`},
		{"no choices", http.StatusOK, `{"choices": []}`},
		{"invalid body", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestService(srv.URL).Generate(context.Background(), &provider.Request{
				Messages: []provider.Message{{Role: "user", Content: "hi"}},
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrAIServiceError))
		})
	}

	t.Run("empty request", func(t *testing.T) {
		_, err := newTestService("http://127.0.0.1:1").Generate(context.Background(), &provider.Request{})
		assert.True(t, errors.Is(err, common.ErrInvalidRequest))
	})
}

func TestOpenRouterService_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	svc := NewOpenRouterService(provider.Config{Model: "m", BaseURL: srv.URL, MaxRetries: 1})
	resp, err := svc.Generate(context.Background(), &provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProviderConfig(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{Name: "pairing"},
		OpenRouter: config.OpenRouterConfig{
			APIKey:    "k",
			Model:     "m",
			BaseURL:   "http://x",
			MaxTokens: 10,
			Timeout:   time.Second,
		},
	}
	pc := ProviderConfig(cfg)
	assert.Equal(t, "m", pc.Model)
	assert.Equal(t, "http://x", pc.BaseURL)
	assert.Equal(t, "pairing", pc.Title)

	svc := NewOpenRouterService(pc)
	assert.Equal(t, "m", svc.GetModel())
	assert.Equal(t, time.Second, svc.GetTimeout())
	assert.NoError(t, svc.Close())
}
