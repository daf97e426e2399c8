package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pairing-engine/internal/infrastructure/config"
	"pairing-engine/internal/pkg/common"
	"pairing-engine/internal/pkg/metrics"

	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 快取中沒有該鍵
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheUnavailable 共享快取層無法使用，視同未命中
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Backend 跨實例共享的第二層快取
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options 快取設定
type Options struct {
	Name            string
	Capacity        int
	TTL             time.Duration
	CleanupInterval time.Duration
	Backend         Backend
	Clock           func() time.Time
}

// OptionsFromConfig 由應用設定建立快取設定
func OptionsFromConfig(cfg config.CacheConfig) Options {
	return Options{
		Name:            "reconcile",
		Capacity:        cfg.MaxSize,
		TTL:             cfg.TTL,
		CleanupInterval: cfg.CleanupInterval,
	}
}

// entry 快取條目
type entry[V any] struct {
	value      V
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time
	hitCount   int64
}

// entryInfo 條目的中繼資料，不含值
type entryInfo struct {
	Key        string    `json:"key"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	ExpiresAt  time.Time `json:"expires_at"`
	HitCount   int64     `json:"hit_count"`
}

// Stats 快取統計
type Stats struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Expirations   int64   `json:"expirations"`
	Evictions     int64   `json:"evictions"`
	BackendErrors int64   `json:"backend_errors"`
	HitRatio      float64 `json:"hit_ratio"`
}

// ResponseCache 以 TTL 與價值分數淘汰的記憶化快取
// 分數 = (hitCount+1) / (距上次存取秒數+1)，容量滿時淘汰分數最低者
type ResponseCache[V any] struct {
	opts  Options
	mu    sync.Mutex
	store map[string]*entry[V]
	stats Stats

	stop     chan struct{}
	stopOnce sync.Once
}

// New 創建快取；由宿主程式持有生命週期
func New[V any](opts Options) *ResponseCache[V] {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Name == "" {
		opts.Name = "response"
	}

	c := &ResponseCache[V]{
		opts:  opts,
		store: make(map[string]*entry[V]),
		stop:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.startCleanup(opts.CleanupInterval)
	}

	common.LogInfo("快取管理員已初始化",
		zap.String("name", opts.Name),
		zap.Int("最大容量", opts.Capacity),
		zap.Duration("存活時間", opts.TTL),
		zap.Duration("清理間隔", opts.CleanupInterval),
		zap.Bool("shared_backend", opts.Backend != nil),
	)
	return c
}

// Get 取得快取值；過期條目在讀取時刪除並視為未命中
func (c *ResponseCache[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := c.getLocal(key); ok {
		return v, true
	}

	if c.opts.Backend == nil {
		var zero V
		return zero, false
	}
	return c.getShared(ctx, key)
}

func (c *ResponseCache[V]) getLocal(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	now := c.opts.Clock()
	e, ok := c.store[key]
	if ok && !now.Before(e.expiresAt) {
		delete(c.store, key)
		c.stats.Expirations++
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		metrics.CacheEntries.Set(float64(len(c.store)))
		ok = false
	}
	if !ok {
		if c.opts.Backend == nil {
			c.stats.Misses++
			metrics.CacheRequests.WithLabelValues("miss").Inc()
			common.LogCacheMiss(c.opts.Name, key)
		}
		return zero, false
	}

	e.hitCount++
	e.lastAccess = now
	c.stats.Hits++
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	common.LogCacheHit(c.opts.Name, key)
	return e.value, true
}

// getShared 第二層快取；任何錯誤都視同未命中
func (c *ResponseCache[V]) getShared(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := c.opts.Backend.Get(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.stats.Misses++
		if !errors.Is(err, ErrCacheMiss) {
			c.stats.BackendErrors++
		}
		c.mu.Unlock()

		if !errors.Is(err, ErrCacheMiss) {
			metrics.CacheBackendErrors.WithLabelValues("get").Inc()
			common.LogWarn("共享快取讀取失敗，視為未命中", zap.String("name", c.opts.Name), zap.Error(err))
		}
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		common.LogCacheMiss(c.opts.Name, key)
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.mu.Lock()
		c.stats.Misses++
		c.stats.BackendErrors++
		c.mu.Unlock()
		metrics.CacheBackendErrors.WithLabelValues("decode").Inc()
		common.LogWarn("共享快取資料無法解析", zap.String("name", c.opts.Name), zap.Error(err))
		return zero, false
	}

	c.setLocal(key, v)
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	metrics.CacheRequests.WithLabelValues("shared_hit").Inc()
	common.LogCacheHit(c.opts.Name+":shared", key)
	return v, true
}

// Set 寫入快取，重設存取時間與命中次數
func (c *ResponseCache[V]) Set(ctx context.Context, key string, value V) {
	c.setLocal(key, value)

	if c.opts.Backend == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		common.LogWarn("快取值無法序列化", zap.String("name", c.opts.Name), zap.Error(err))
		return
	}
	if err := c.opts.Backend.Set(ctx, key, data, c.opts.TTL); err != nil {
		c.mu.Lock()
		c.stats.BackendErrors++
		c.mu.Unlock()
		metrics.CacheBackendErrors.WithLabelValues("set").Inc()
		common.LogWarn("共享快取寫入失敗", zap.String("name", c.opts.Name), zap.Error(err))
	}
}

func (c *ResponseCache[V]) setLocal(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock()
	if _, exists := c.store[key]; !exists && len(c.store) >= c.opts.Capacity {
		if purged := c.purgeExpired(now); purged > 0 {
			common.LogDebug("快取清理執行", zap.Int("清理數量", purged))
		}
		for len(c.store) >= c.opts.Capacity {
			c.evictLowest(now)
		}
	}

	c.store[key] = &entry[V]{
		value:      value,
		createdAt:  now,
		lastAccess: now,
		expiresAt:  now.Add(c.opts.TTL),
	}
	metrics.CacheEntries.Set(float64(len(c.store)))
}

// GetOrCompute 命中時直接回傳；未命中時呼叫 producer 並寫入，producer 的錯誤不快取
func (c *ResponseCache[V]) GetOrCompute(ctx context.Context, key string, producer func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}

	v, err := producer(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.Set(ctx, key, v)
	return v, false, nil
}

// Delete 刪除單一條目
func (c *ResponseCache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.store, key)
	metrics.CacheEntries.Set(float64(len(c.store)))
	c.mu.Unlock()

	if c.opts.Backend != nil {
		if err := c.opts.Backend.Delete(ctx, key); err != nil {
			metrics.CacheBackendErrors.WithLabelValues("delete").Inc()
			common.LogWarn("共享快取刪除失敗", zap.String("name", c.opts.Name), zap.Error(err))
		}
	}
}

// Clear 清空本機快取
func (c *ResponseCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*entry[V])
	metrics.CacheEntries.Set(0)
}

// Len 目前條目數（含尚未清除的過期條目）
func (c *ResponseCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// inspect 查看條目中繼資料，不影響命中統計
func (c *ResponseCache[V]) inspect(key string) (entryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store[key]
	if !ok {
		return entryInfo{}, false
	}
	return entryInfo{
		Key:        key,
		CreatedAt:  e.createdAt,
		LastAccess: e.lastAccess,
		ExpiresAt:  e.expiresAt,
		HitCount:   e.hitCount,
	}, true
}

// Stats 取得快取統計
func (c *ResponseCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.store)
	s.Capacity = c.opts.Capacity
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// startCleanup 定期清理過期條目，Close 後結束
func (c *ResponseCache[V]) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			count := c.purgeExpired(c.opts.Clock())
			size := len(c.store)
			c.mu.Unlock()
			if count > 0 {
				common.LogDebug("Cleaned up expired cache entries",
					zap.String("name", c.opts.Name),
					zap.Int("count", count),
					zap.Int("remaining_size", size),
				)
			}
		}
	}
}

// purgeExpired 呼叫端須持有鎖
func (c *ResponseCache[V]) purgeExpired(now time.Time) int {
	count := 0
	for key, e := range c.store {
		if !now.Before(e.expiresAt) {
			delete(c.store, key)
			count++
		}
	}
	if count > 0 {
		c.stats.Expirations += int64(count)
		metrics.CacheEvictions.WithLabelValues("expired").Add(float64(count))
		metrics.CacheEntries.Set(float64(len(c.store)))
	}
	return count
}

// evictLowest 淘汰分數最低者；同分時淘汰較久未存取、再依鍵排序，呼叫端須持有鎖
func (c *ResponseCache[V]) evictLowest(now time.Time) {
	var victim string
	var victimEntry *entry[V]
	lowest := 0.0

	for key, e := range c.store {
		s := score(e, now)
		if victimEntry == nil ||
			s < lowest ||
			(s == lowest && e.lastAccess.Before(victimEntry.lastAccess)) ||
			(s == lowest && e.lastAccess.Equal(victimEntry.lastAccess) && key < victim) {
			victim, victimEntry, lowest = key, e, s
		}
	}

	if victimEntry == nil {
		return
	}
	delete(c.store, victim)
	c.stats.Evictions++
	metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	common.LogDebug("快取已淘汰",
		zap.String("name", c.opts.Name),
		zap.Float64("score", lowest),
		zap.Int64("hits", victimEntry.hitCount),
	)
}

func score[V any](e *entry[V], now time.Time) float64 {
	age := now.Sub(e.lastAccess).Seconds()
	if age < 0 {
		age = 0
	}
	return float64(e.hitCount+1) / (age + 1)
}

// Close 停止背景清理並清空快取
func (c *ResponseCache[V]) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*entry[V])
	common.LogInfo("快取管理員已關閉",
		zap.String("name", c.opts.Name),
		zap.Int64("命中次數", c.stats.Hits),
		zap.Int64("未命中次數", c.stats.Misses),
		zap.Int64("淘汰次數", c.stats.Evictions),
	)
	return nil
}
