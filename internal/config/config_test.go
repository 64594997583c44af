package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scraper.TargetCount != 5 {
		t.Fatalf("expected default target 5, got %d", cfg.Scraper.TargetCount)
	}
	if cfg.Ledger.Path != "seen.json" {
		t.Fatalf("expected default ledger path, got %q", cfg.Ledger.Path)
	}
	if cfg.Upload.MaxAttempts != 15 {
		t.Fatalf("expected 15 upload attempts, got %d", cfg.Upload.MaxAttempts)
	}
	if cfg.Roblox.UploadURL == "" {
		t.Fatalf("expected default upload endpoint")
	}
	if got := cfg.DownloadTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s download timeout, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
scraper:
  source_urls:
    - https://photos.example/gallery
    - https://photos.example/popular
  target_count: 12
  user_agent: custom-agent
ledger:
  path: /var/lib/decalpress/seen.json
renderer:
  nav_timeout_seconds: 45
  scroll_iterations: 4
  min_dimension: 32
download:
  timeout_seconds: 20
upload:
  max_attempts: 3
  retry_wait_seconds: 2
  rate_limit_wait_seconds: 4
roblox:
  upload_url: http://127.0.0.1:9999/assets
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Scraper.SourceURLs) != 2 {
		t.Fatalf("expected 2 source urls, got %d", len(cfg.Scraper.SourceURLs))
	}
	if cfg.Scraper.TargetCount != 12 {
		t.Fatalf("expected target 12, got %d", cfg.Scraper.TargetCount)
	}
	if cfg.Renderer.NavTimeoutSec != 45 || cfg.Renderer.MinDimension != 32 {
		t.Fatalf("expected renderer overrides to apply: %+v", cfg.Renderer)
	}
	if cfg.Roblox.UploadURL != "http://127.0.0.1:9999/assets" {
		t.Fatalf("expected upload endpoint override, got %q", cfg.Roblox.UploadURL)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if got := cfg.RetryWait(); got != 2*time.Second {
		t.Fatalf("expected 2s retry wait, got %v", got)
	}
}

func TestLoadClampsTargetCount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	low := filepath.Join(dir, "low.yaml")
	if err := os.WriteFile(low, []byte("scraper:\n  target_count: 0\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(low)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraper.TargetCount != 1 {
		t.Fatalf("expected target clamped to 1, got %d", cfg.Scraper.TargetCount)
	}

	high := filepath.Join(dir, "high.yaml")
	if err := os.WriteFile(high, []byte("scraper:\n  target_count: 500\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err = Load(high)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraper.TargetCount != 100 {
		t.Fatalf("expected target clamped to 100, got %d", cfg.Scraper.TargetCount)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bad := cfg
	bad.Server.Port = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero port")
	}

	bad = cfg
	bad.Ledger.Path = "  "
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for blank ledger path")
	}

	bad = cfg
	bad.Upload.MaxAttempts = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero upload attempts")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
