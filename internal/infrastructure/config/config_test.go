package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Cache:  CacheConfig{Enabled: true, MaxSize: 100, TTL: time.Hour},
		Reconcile: ReconcileConfig{
			MinPerGroup:              3,
			MaxPerGroup:              3,
			ContainmentMaxLengthDiff: 10,
			TokenOverlapRatio:        0.75,
			MaxEditDistance:          1,
			MinTokenLength:           3,
		},
		RateLimit: RateLimitConfig{Enabled: true, Requests: 10, Window: time.Minute},
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 3, cfg.Reconcile.MinPerGroup)
		assert.Equal(t, 3, cfg.Reconcile.MaxPerGroup)
		assert.Equal(t, 0.75, cfg.Reconcile.TokenOverlapRatio)
		assert.Equal(t, 10, cfg.Reconcile.ContainmentMaxLengthDiff)
		assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
		assert.Equal(t, "pairing:reconcile:", cfg.Cache.RedisPrefix)
		assert.False(t, cfg.Cache.RedisEnabled)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("MIN_PER_GROUP", "2")
		t.Setenv("MAX_PER_GROUP", "4")
		t.Setenv("APP_RECONCILE_CONFUSION_TABLE", "0=o,1=l")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("APP_SERVER_PORT", "9090")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Reconcile.MinPerGroup)
		assert.Equal(t, 4, cfg.Reconcile.MaxPerGroup)
		assert.Equal(t, "0=o,1=l", cfg.Reconcile.ConfusionTable)
		assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("invalid window rejected", func(t *testing.T) {
		t.Setenv("MIN_PER_GROUP", "5")
		t.Setenv("MAX_PER_GROUP", "2")

		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = 0 }, true},
		{"min below one", func(c *Config) { c.Reconcile.MinPerGroup = 0 }, true},
		{"max below min", func(c *Config) { c.Reconcile.MaxPerGroup = 2 }, true},
		{"ratio zero", func(c *Config) { c.Reconcile.TokenOverlapRatio = 0 }, true},
		{"ratio above one", func(c *Config) { c.Reconcile.TokenOverlapRatio = 1.5 }, true},
		{"ratio exactly one", func(c *Config) { c.Reconcile.TokenOverlapRatio = 1 }, false},
		{"negative edit distance", func(c *Config) { c.Reconcile.MaxEditDistance = -1 }, true},
		{"cache capacity zero", func(c *Config) { c.Cache.MaxSize = 0 }, true},
		{"disabled cache ignores capacity", func(c *Config) { c.Cache.Enabled = false; c.Cache.MaxSize = 0 }, false},
		{"redis without address", func(c *Config) { c.Cache.RedisEnabled = true }, true},
		{"bad confusion table", func(c *Config) { c.Reconcile.ConfusionTable = "0o" }, true},
		{"rate limit without window", func(c *Config) { c.RateLimit.Window = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseConfusionTable(t *testing.T) {
	table, err := ParseConfusionTable(" 0=o, 1 = l ,rn=m,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "o", "1": "l", "rn": "m"}, table)

	table, err = ParseConfusionTable("")
	require.NoError(t, err)
	assert.Nil(t, table)

	_, err = ParseConfusionTable("=o")
	assert.Error(t, err)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "sk-o...cdef", maskAPIKey("sk-or-v1-abcdef"))
}
