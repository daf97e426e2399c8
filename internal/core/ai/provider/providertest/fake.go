// Package providertest 提供測試用的模型提供者
package providertest

import (
	"context"
	"sync"
	"time"

	"pairing-engine/internal/core/ai/provider"
)

// Fake 依序回傳預設內容並記錄收到的請求
type Fake struct {
	mu        sync.Mutex
	Model     string
	Timeout   time.Duration
	Responses []string
	Err       error
	requests  []*provider.Request
}

// NewFake 以固定內容建立 Fake，內容用完後重複最後一個
func NewFake(responses ...string) *Fake {
	return &Fake{Model: "fake/model", Responses: responses}
}

// Generate 實作 provider.Provider
func (f *Fake) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}

	content := ""
	if n := len(f.Responses); n > 0 {
		idx := len(f.requests) - 1
		if idx >= n {
			idx = n - 1
		}
		content = f.Responses[idx]
	}
	return &provider.Response{Content: content, Model: f.Model}, nil
}

// Calls 已收到的請求數
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// LastRequest 最後一次請求
func (f *Fake) LastRequest() *provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// GetModel 實作 provider.Provider
func (f *Fake) GetModel() string { return f.Model }

// GetTimeout 實作 provider.Provider
func (f *Fake) GetTimeout() time.Duration { return f.Timeout }

// Close 實作 provider.Provider
func (f *Fake) Close() error { return nil }

var _ provider.Provider = (*Fake)(nil)
