package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scrape"

[polling]
games = ["a8db", "9a92"]
base_interval = "45s"

[dmarket]
public_key = "pub"
secret_key = "sec"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "scrape" {
		t.Errorf("mode = %q, want scrape", cfg.Mode)
	}
	if len(cfg.Polling.Games) != 2 || cfg.Polling.Games[1] != "9a92" {
		t.Errorf("games = %v", cfg.Polling.Games)
	}
	if cfg.Polling.BaseInterval.Duration != 45*time.Second {
		t.Errorf("base_interval = %v, want 45s", cfg.Polling.BaseInterval.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.HTTP.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", cfg.HTTP.MaxRetries)
	}
	if cfg.DMarket.BaseURL != "https://api.dmarket.com" {
		t.Errorf("base_url = %q, want default", cfg.DMarket.BaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[dmarket]
public_key = "from-file"
secret_key = "from-file"
`)

	t.Setenv("DMBOT_DMARKET_PUBLIC_KEY", "from-env")
	t.Setenv("DMBOT_POLLING_GAMES", "a8db, tf2w")
	t.Setenv("DMBOT_HTTP_TIMEOUT", "5s")
	t.Setenv("DMBOT_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DMarket.PublicKey != "from-env" {
		t.Errorf("public key = %q, want env override", cfg.DMarket.PublicKey)
	}
	if len(cfg.Polling.Games) != 2 || cfg.Polling.Games[1] != "tf2w" {
		t.Errorf("games = %v, want env override split on commas", cfg.Polling.Games)
	}
	if cfg.HTTP.Timeout.Duration != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.HTTP.Timeout.Duration)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis.enabled should be overridden to true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing config file should error")
	}
}
