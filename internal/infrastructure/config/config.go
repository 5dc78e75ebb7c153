package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kerim-dauren/attribution-core/internal/infrastructure/updater"
)

const envPrefix = "ATTRIBUTION"

// DefaultBlacklistPatterns covers URLs that commonly carry credentials.
var DefaultBlacklistPatterns = []string{
	"*/login*",
	"*/signin*",
	"*oauth*",
	"*password*",
	"*access_token*",
	"*id_token*",
	"*/auth/*",
}

// Config holds all SDK configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Device    DeviceConfig    `mapstructure:"device"`
}

// APIConfig holds attribution API settings
type APIConfig struct {
	ServiceRoot      string        `mapstructure:"service_root"`
	AppKey           string        `mapstructure:"app_key"`
	OpenService      string        `mapstructure:"open_service"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

// RetryConfig holds the retry policy applied above the API service
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BlacklistConfig holds the bundled blacklist and refresh settings
type BlacklistConfig struct {
	Service      string         `mapstructure:"service"`
	Version      int64          `mapstructure:"version"`
	Patterns     []string       `mapstructure:"patterns"`
	AutoRefresh  bool           `mapstructure:"auto_refresh"`
	UpdateConfig updater.Config `mapstructure:"update"`
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	AppGroup  string `mapstructure:"app_group"`
	Directory string `mapstructure:"directory"`
	Backend   string `mapstructure:"backend"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeviceConfig is reported with every request
type DeviceConfig struct {
	HardwareID string `mapstructure:"hardware_id"`
	OS         string `mapstructure:"os"`
	OSVersion  string `mapstructure:"os_version"`
	Model      string `mapstructure:"model"`
	Brand      string `mapstructure:"brand"`
	Locale     string `mapstructure:"locale"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	update := updater.DefaultConfig()

	return &Config{
		API: APIConfig{
			ServiceRoot:      "https://api.attribution.example.com",
			OpenService:      "v1/open",
			UserAgent:        "attribution-core/1.0",
			Timeout:          30 * time.Second,
			MaxConcurrent:    4,
			MaxResponseBytes: 10 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			Jitter:      0.2,
			MaxDelay:    30 * time.Second,
		},
		Blacklist: BlacklistConfig{
			Service:      "v1/uriskiplist",
			Version:      0,
			Patterns:     append([]string(nil), DefaultBlacklistPatterns...),
			AutoRefresh:  true,
			UpdateConfig: update,
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads defaults, then the optional config file at path, then
// ATTRIBUTION_* environment variables (ATTRIBUTION_API_APP_KEY for api.app_key).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.service_root", d.API.ServiceRoot)
	v.SetDefault("api.app_key", d.API.AppKey)
	v.SetDefault("api.open_service", d.API.OpenService)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_concurrent", d.API.MaxConcurrent)
	v.SetDefault("api.max_response_bytes", d.API.MaxResponseBytes)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)

	v.SetDefault("blacklist.service", d.Blacklist.Service)
	v.SetDefault("blacklist.version", d.Blacklist.Version)
	v.SetDefault("blacklist.patterns", d.Blacklist.Patterns)
	v.SetDefault("blacklist.auto_refresh", d.Blacklist.AutoRefresh)
	v.SetDefault("blacklist.update.interval", d.Blacklist.UpdateConfig.Interval)
	v.SetDefault("blacklist.update.max_retries", d.Blacklist.UpdateConfig.MaxRetries)
	v.SetDefault("blacklist.update.retry_delay", d.Blacklist.UpdateConfig.RetryDelay)
	v.SetDefault("blacklist.update.update_timeout", d.Blacklist.UpdateConfig.UpdateTimeout)

	v.SetDefault("storage.app_group", d.Storage.AppGroup)
	v.SetDefault("storage.directory", d.Storage.Directory)
	v.SetDefault("storage.backend", d.Storage.Backend)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("device.hardware_id", d.Device.HardwareID)
	v.SetDefault("device.os", d.Device.OS)
	v.SetDefault("device.os_version", d.Device.OSVersion)
	v.SetDefault("device.model", d.Device.Model)
	v.SetDefault("device.brand", d.Device.Brand)
	v.SetDefault("device.locale", d.Device.Locale)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate API configuration
	root, err := url.Parse(c.API.ServiceRoot)
	if err != nil || root.Host == "" || (root.Scheme != "https" && root.Scheme != "http") {
		return fmt.Errorf("invalid API service root: %q", c.API.ServiceRoot)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.API.MaxConcurrent <= 0 {
		return fmt.Errorf("API max concurrent requests must be positive")
	}

	if c.API.MaxResponseBytes <= 0 {
		return fmt.Errorf("API max response size must be positive")
	}

	// Validate retry configuration
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}

	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("invalid retry delays: base %v, max %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}

	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}

	// Validate blacklist configuration
	if c.Blacklist.Service == "" {
		return fmt.Errorf("blacklist service name must be set")
	}

	if c.Blacklist.Version < 0 {
		return fmt.Errorf("blacklist version must not be negative")
	}

	if c.Blacklist.AutoRefresh {
		if c.Blacklist.UpdateConfig.Interval <= 0 {
			return fmt.Errorf("blacklist refresh interval must be positive")
		}
		if c.Blacklist.UpdateConfig.UpdateTimeout <= 0 {
			return fmt.Errorf("blacklist refresh timeout must be positive")
		}
	}

	// Validate storage configuration
	validBackends := map[string]bool{
		"file": true, "sqlite": true,
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// NewLogger builds a logger writing to w at the configured level and format.
// Unknown levels fall back to info.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler).With("component", "attribution")
}
