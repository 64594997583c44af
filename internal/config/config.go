// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"decalpress/internal/roblox"
)

// Config captures all service configuration knobs loaded via Viper.
//
// The account credential is deliberately absent: it is accepted per run via
// flag or environment and never written to or read from a config file.
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Scraper  ScraperConfig    `mapstructure:"scraper"`
	Ledger   LedgerConfig     `mapstructure:"ledger"`
	Renderer RendererConfig   `mapstructure:"renderer"`
	Download DownloadConfig   `mapstructure:"download"`
	Upload   UploadConfig     `mapstructure:"upload"`
	Roblox   roblox.Endpoints `mapstructure:"roblox"`
	Logging  LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the source pool and per-run upload target.
type ScraperConfig struct {
	SourceURLs  []string `mapstructure:"source_urls"`
	TargetCount int      `mapstructure:"target_count"`
	UserAgent   string   `mapstructure:"user_agent"`
}

// LedgerConfig sets the dedupe ledger location.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// RendererConfig configures the headless rendering subsystem.
type RendererConfig struct {
	NavTimeoutSec     int     `mapstructure:"nav_timeout_seconds"`
	ConsentTimeoutSec int     `mapstructure:"consent_timeout_seconds"`
	ScrollIterations  int     `mapstructure:"scroll_iterations"`
	ScrollDelayMs     int     `mapstructure:"scroll_delay_ms"`
	MinDimension      int     `mapstructure:"min_dimension"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
}

// DownloadConfig configures image download behavior.
type DownloadConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// UploadConfig configures the upload retry state machine.
type UploadConfig struct {
	MaxAttempts          int `mapstructure:"max_attempts"`
	RetryWaitSeconds     int `mapstructure:"retry_wait_seconds"`
	RateLimitWaitSeconds int `mapstructure:"rate_limit_wait_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

const (
	minTargetCount = 1
	maxTargetCount = 100
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DECALPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Out-of-range targets are clamped rather than rejected: a fat-fingered
	// target_count should degrade the run, not kill it.
	if cfg.Scraper.TargetCount < minTargetCount {
		cfg.Scraper.TargetCount = minTargetCount
	}
	if cfg.Scraper.TargetCount > maxTargetCount {
		cfg.Scraper.TargetCount = maxTargetCount
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.target_count", 5)
	v.SetDefault("scraper.user_agent", "decalpress/0.1")
	v.SetDefault("ledger.path", "seen.json")
	v.SetDefault("renderer.nav_timeout_seconds", 30)
	v.SetDefault("renderer.consent_timeout_seconds", 5)
	v.SetDefault("renderer.scroll_iterations", 10)
	v.SetDefault("renderer.scroll_delay_ms", 800)
	v.SetDefault("renderer.min_dimension", 20)
	v.SetDefault("renderer.domain_qps", 1.0)
	v.SetDefault("download.timeout_seconds", 10)
	v.SetDefault("upload.max_attempts", 15)
	v.SetDefault("upload.retry_wait_seconds", 10)
	v.SetDefault("upload.rate_limit_wait_seconds", 10)
	v.SetDefault("roblox.users_base_url", roblox.DefaultEndpoints().UsersBaseURL)
	v.SetDefault("roblox.auth_base_url", roblox.DefaultEndpoints().AuthBaseURL)
	v.SetDefault("roblox.upload_url", roblox.DefaultEndpoints().UploadURL)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path must be set")
	}
	if c.Renderer.NavTimeoutSec <= 0 {
		return fmt.Errorf("renderer.nav_timeout_seconds must be > 0")
	}
	if c.Renderer.MinDimension < 0 {
		return fmt.Errorf("renderer.min_dimension must be >= 0")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Upload.MaxAttempts <= 0 {
		return fmt.Errorf("upload.max_attempts must be > 0")
	}
	return nil
}

// DownloadTimeout converts the download timeout config into a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// RetryWait converts the fixed retry wait config into a duration.
func (c Config) RetryWait() time.Duration {
	return time.Duration(c.Upload.RetryWaitSeconds) * time.Second
}

// RateLimitWait converts the rate limit fallback wait into a duration.
func (c Config) RateLimitWait() time.Duration {
	return time.Duration(c.Upload.RateLimitWaitSeconds) * time.Second
}
