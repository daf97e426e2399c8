package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Image      ImageConfig      `mapstructure:"image"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	LogLevel   string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// OpenRouterConfig OpenRouter 配置
type OpenRouterConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// CallsPerSecond 對上游的呼叫速率，0 表示不限制
	CallsPerSecond float64 `mapstructure:"calls_per_second"`
	CallBurst      int     `mapstructure:"call_burst"`
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisEnabled    bool          `mapstructure:"redis_enabled"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
}

// ReconcileConfig 對帳流程的數量上下限與比對門檻
type ReconcileConfig struct {
	MinPerGroup              int     `mapstructure:"min_per_group"`
	MaxPerGroup              int     `mapstructure:"max_per_group"`
	ContainmentMaxLengthDiff int     `mapstructure:"containment_max_length_diff"`
	TokenOverlapRatio        float64 `mapstructure:"token_overlap_ratio"`
	MaxEditDistance          int     `mapstructure:"max_edit_distance"`
	MinTokenLength           int     `mapstructure:"min_token_length"`

	// ConfusionTable 格式 "0=o,1=l,rn=m"，空字串代表使用預設表
	ConfusionTable string `mapstructure:"confusion_table"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Burst    int           `mapstructure:"burst"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	MaxImages    int   `mapstructure:"max_images"`
}

// InventoryConfig 預設庫存檔
type InventoryConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfig 載入設定；.env 不存在時只使用環境變數與預設值
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定慣用的環境變量名稱
	bindings := map[string]string{
		"openrouter.api_key":      "OPENROUTER_API_KEY",
		"openrouter.model":        "OPENROUTER_MODEL",
		"openrouter.max_tokens":   "MODEL_MAX_TOKENS",
		"cache.enabled":           "CACHE_ENABLED",
		"cache.redis_enabled":     "REDIS_ENABLED",
		"cache.redis_addr":        "REDIS_ADDR",
		"cache.redis_password":    "REDIS_PASSWORD",
		"rate_limit.enabled":      "RATE_LIMIT_ENABLED",
		"rate_limit.requests":     "RATE_LIMIT_REQUESTS",
		"rate_limit.window":       "RATE_LIMIT_WINDOW",
		"reconcile.min_per_group": "MIN_PER_GROUP",
		"reconcile.max_per_group": "MAX_PER_GROUP",
		"inventory.path":          "INVENTORY_PATH",
		"log_level":               "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// 設定設定檔名稱和路徑
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// logger 尚未初始化，改用 fmt.Println
	fmt.Println("Loading configuration", "openrouter_api_key:", maskAPIKey(v.GetString("openrouter.api_key")), "openrouter_model:", v.GetString("openrouter.model"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// maskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "pairing-engine")
	v.SetDefault("log_level", "info")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 10<<20)

	// OpenRouter 設定
	v.SetDefault("openrouter.enabled", false)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "qwen/qwen2.5-vl-72b-instruct:free")
	v.SetDefault("openrouter.max_tokens", 2000)
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.timeout", "60s")
	v.SetDefault("openrouter.calls_per_second", 2)
	v.SetDefault("openrouter.call_burst", 4)

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.redis_enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "pairing:reconcile:")

	// 對帳設定
	v.SetDefault("reconcile.min_per_group", 3)
	v.SetDefault("reconcile.max_per_group", 3)
	v.SetDefault("reconcile.containment_max_length_diff", 10)
	v.SetDefault("reconcile.token_overlap_ratio", 0.75)
	v.SetDefault("reconcile.max_edit_distance", 1)
	v.SetDefault("reconcile.min_token_length", 3)
	v.SetDefault("reconcile.confusion_table", "")

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.burst", 20)

	// 圖片設定
	v.SetDefault("image.max_size_bytes", 10*1024*1024) // 10MB
	v.SetDefault("image.max_images", 4)

	v.SetDefault("inventory.path", "")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.RedisEnabled && config.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required when redis is enabled")
		}
	}

	r := config.Reconcile
	if r.MinPerGroup < 1 {
		return fmt.Errorf("reconcile min_per_group must be at least 1")
	}
	if r.MaxPerGroup < r.MinPerGroup {
		return fmt.Errorf("reconcile max_per_group (%d) must be >= min_per_group (%d)", r.MaxPerGroup, r.MinPerGroup)
	}
	if r.TokenOverlapRatio <= 0 || r.TokenOverlapRatio > 1 {
		return fmt.Errorf("reconcile token_overlap_ratio must be in (0, 1]")
	}
	if r.MaxEditDistance < 0 || r.ContainmentMaxLengthDiff < 0 || r.MinTokenLength < 0 {
		return fmt.Errorf("reconcile thresholds must not be negative")
	}
	if _, err := ParseConfusionTable(r.ConfusionTable); err != nil {
		return err
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit settings")
	}

	return nil
}

// ParseConfusionTable 解析 "0=o,1=l" 形式的混淆表；空字串回傳 nil
func ParseConfusionTable(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	table := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(from) == "" {
			return nil, fmt.Errorf("invalid confusion table entry %q", pair)
		}
		table[strings.TrimSpace(from)] = strings.TrimSpace(to)
	}
	return table, nil
}
