package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.DMarket.BaseURL = ""
	cfg.Polling.Games = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"unknown mode", "unknown log_level", "base_url", "at least one game"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateCredentialPairing(t *testing.T) {
	cfg := Defaults()
	cfg.DMarket.PublicKey = "pub"
	if err := cfg.Validate(); err == nil {
		t.Error("public key without secret should fail")
	}

	cfg.DMarket.SecretKey = "sec"
	if err := cfg.Validate(); err != nil {
		t.Errorf("paired credentials should validate: %v", err)
	}
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.DMarket.PublicKey = "pub"
	cfg.DMarket.EncryptedKeyPath = "secret.enc.json"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Errorf("missing key_password should be reported, got %v", err)
	}
}

func TestValidateIntervalOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Polling.MinInterval = duration{time.Minute}
	cfg.Polling.MaxInterval = duration{30 * time.Second}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "max_interval") {
		t.Errorf("inverted interval bounds should be reported, got %v", err)
	}
}

func TestValidateDistributedNeedsRedis(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.Distributed = true
	cfg.Redis.Enabled = false
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "requires redis") {
		t.Errorf("distributed without redis should be reported, got %v", err)
	}
}

func TestValidateArbitrageNeedsDefaultFee(t *testing.T) {
	cfg := Defaults()
	cfg.Arbitrage.Enabled = true
	cfg.Arbitrage.FeePercent = map[string]float64{"a8db": 5.0}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "default") {
		t.Errorf("missing default fee should be reported, got %v", err)
	}
}

func TestValidatePostgresOnlyForPersistentModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Postgres.Host = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("monitor mode should not require postgres: %v", err)
	}

	cfg.Mode = "scrape"
	if err := cfg.Validate(); err == nil {
		t.Error("scrape mode without postgres host should fail")
	}
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("parsed %v, want 90s", d.Duration)
	}
	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "1m30s" {
		t.Errorf("marshaled %q, want 1m30s", out)
	}
}
