package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairing-engine/internal/infrastructure/config"

	"github.com/go-redis/redis/v8"
)

// RedisBackend 以 Redis 作為共享快取層
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend 連線並確認 Redis 可用
func NewRedisBackend(ctx context.Context, cfg config.CacheConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 測試連接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.RedisPrefix), nil
}

// NewRedisBackendWithClient 使用既有的 client
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "pairing:reconcile:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Get 取得快取；不存在回傳 ErrCacheMiss，其他錯誤包成 ErrCacheUnavailable
func (s *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: get: %v", ErrCacheUnavailable, err)
	}
	return data, nil
}

// Set 設置快取
func (s *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Delete 刪除快取
func (s *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping 健康檢查用
func (s *RedisBackend) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 關閉連線
func (s *RedisBackend) Close() error {
	return s.client.Close()
}
