package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap/zapcore"
)

// Market data sources.
const (
	SourceBinance = "binance"
	SourceMock    = "mock"
)

type Config struct {
	Env      string `mapstructure:"TB_ENV"`
	LogLevel string `mapstructure:"TB_LOG_LEVEL"` // empty uses the env default
	HTTPAddr string `mapstructure:"TB_HTTP_ADDR"`

	Market   MarketConfig   `mapstructure:",squash"`
	Board    BoardConfig    `mapstructure:",squash"`
	Stream   StreamConfig   `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Assets   AssetConfig    `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type MarketConfig struct {
	Source         string        `mapstructure:"TB_MARKET_SOURCE"` // "binance" or "mock"
	RestURL        string        `mapstructure:"TB_BINANCE_REST_URL"`
	WSURL          string        `mapstructure:"TB_BINANCE_WS_URL"`
	QuoteAsset     string        `mapstructure:"TB_QUOTE_ASSET"`
	CatalogTTL     time.Duration `mapstructure:"TB_CATALOG_TTL"`
	CatalogRefresh time.Duration `mapstructure:"TB_CATALOG_REFRESH"`
	HistoryTTL     time.Duration `mapstructure:"TB_HISTORY_TTL"`
}

type BoardConfig struct {
	PageSize        int           `mapstructure:"TB_PAGE_SIZE"`
	ScrollThreshold float64       `mapstructure:"TB_SCROLL_THRESHOLD"`
	PublishInterval time.Duration `mapstructure:"TB_PUBLISH_INTERVAL"`
}

type StreamConfig struct {
	Reconnect  bool          `mapstructure:"TB_STREAM_RECONNECT"`
	MaxBackoff time.Duration `mapstructure:"TB_STREAM_MAX_BACKOFF"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"TB_REDIS_ADDR"`
}

type AssetConfig struct {
	IconDir string `mapstructure:"TB_ICON_DIR"` // empty serves the embedded icons
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"TB_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"TB_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set win
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("TB_ENV", "dev")
	v.SetDefault("TB_LOG_LEVEL", "")
	v.SetDefault("TB_HTTP_ADDR", ":8080")
	v.SetDefault("TB_MARKET_SOURCE", SourceBinance)
	v.SetDefault("TB_BINANCE_REST_URL", "https://api.binance.com")
	v.SetDefault("TB_BINANCE_WS_URL", "wss://stream.binance.com:9443/ws")
	v.SetDefault("TB_QUOTE_ASSET", "USDT")
	v.SetDefault("TB_CATALOG_TTL", "5m")
	v.SetDefault("TB_CATALOG_REFRESH", "10m")
	v.SetDefault("TB_HISTORY_TTL", "1m")
	v.SetDefault("TB_PAGE_SIZE", 10)
	v.SetDefault("TB_SCROLL_THRESHOLD", 2.0)
	v.SetDefault("TB_PUBLISH_INTERVAL", "500ms")
	v.SetDefault("TB_STREAM_RECONNECT", false)
	v.SetDefault("TB_STREAM_MAX_BACKOFF", "30s")
	v.SetDefault("TB_ICON_DIR", "")
	v.SetDefault("TB_REDIS_ADDR", "")
	v.SetDefault("TB_RATE_LIMIT_RPM", 600)
	v.SetDefault("TB_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// comma-separated lists
	if origins := v.GetString("TB_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("TB_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Market.Source = strings.ToLower(strings.TrimSpace(c.Market.Source))
	c.Market.QuoteAsset = strings.ToUpper(strings.TrimSpace(c.Market.QuoteAsset))
	c.Market.RestURL = strings.TrimRight(c.Market.RestURL, "/")
}

func (c *Config) validate() error {
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid TB_LOG_LEVEL %q: %w", c.LogLevel, err)
		}
	}
	switch c.Market.Source {
	case SourceBinance:
		if c.Market.RestURL == "" {
			return fmt.Errorf("TB_BINANCE_REST_URL is required")
		}
		if c.Market.WSURL == "" {
			return fmt.Errorf("TB_BINANCE_WS_URL is required")
		}
	case SourceMock:
	default:
		return fmt.Errorf("invalid TB_MARKET_SOURCE %q (must be binance or mock)", c.Market.Source)
	}
	if c.Market.QuoteAsset == "" {
		return fmt.Errorf("TB_QUOTE_ASSET is required")
	}
	if c.Board.PageSize <= 0 {
		return fmt.Errorf("TB_PAGE_SIZE must be positive, got %d", c.Board.PageSize)
	}
	if c.Board.ScrollThreshold < 0 {
		return fmt.Errorf("TB_SCROLL_THRESHOLD must not be negative")
	}
	if c.Board.PublishInterval <= 0 {
		return fmt.Errorf("TB_PUBLISH_INTERVAL must be positive")
	}
	if c.Security.RateLimitRPM <= 0 {
		return fmt.Errorf("TB_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
