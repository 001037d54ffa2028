package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestDefaultFields(t *testing.T) {
	cfg := Default()
	if cfg.Exchange.DataAPIBase == "" {
		t.Fatal("expected non-empty data api base")
	}
	if cfg.Jobs.MarketScoring <= 0 {
		t.Fatal("expected positive market scoring interval")
	}
	if cfg.WalletDiscoveryMode != "scheduled" {
		t.Fatalf("expected scheduled default, got %q", cfg.WalletDiscoveryMode)
	}
	if len(cfg.Features.WindowsDays) != 3 {
		t.Fatalf("expected 3 default feature windows, got %d", len(cfg.Features.WindowsDays))
	}
}

func TestLoadFileOverridesPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := []byte(`
store_path = "custom.db"

[exchange]
data_api_base = "https://example.test"
gamma_api_base = "https://gamma.example.test"

[risk]
portfolio_exposure_cap_usdc = 12345
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.StorePath != "custom.db" {
		t.Fatalf("expected overridden store_path, got %q", cfg.StorePath)
	}
	if cfg.Exchange.DataAPIBase != "https://example.test" {
		t.Fatalf("expected overridden data_api_base, got %q", cfg.Exchange.DataAPIBase)
	}
	if cfg.Risk.PortfolioExposureCapUSDC != 12345 {
		t.Fatalf("expected overridden exposure cap, got %f", cfg.Risk.PortfolioExposureCapUSDC)
	}
	// Untouched fields keep their defaults.
	if cfg.Jobs.MarketScoring != Default().Jobs.MarketScoring {
		t.Fatal("expected market_scoring interval to keep default")
	}
}

func TestValidateRejectsBadDropPolicy(t *testing.T) {
	cfg := Default()
	cfg.EventBus.DropPolicy = "drop_everything"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad drop policy")
	}
}

func TestValidateRejectsBadDiscoveryMode(t *testing.T) {
	cfg := Default()
	cfg.WalletDiscoveryMode = "always"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad wallet_discovery_mode")
	}
}

func TestApplyEnvOverridesStorePath(t *testing.T) {
	t.Setenv("COPYTRADER_STORE_PATH", "/tmp/env-override.db")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.StorePath != "/tmp/env-override.db" {
		t.Fatalf("expected env override, got %q", cfg.StorePath)
	}
}

func TestApplyEnvLoadsLiveTradingSecrets(t *testing.T) {
	t.Setenv("POLYMARKET_PK", "0xabc")
	t.Setenv("POLYMARKET_API_KEY", "key")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Trader.LiveTrading.PrivateKey != "0xabc" || cfg.Trader.LiveTrading.APIKey != "key" {
		t.Fatalf("expected live trading secrets from env, got %+v", cfg.Trader.LiveTrading)
	}
}

func TestValidateRejectsLiveTradingWithoutPrivateKey(t *testing.T) {
	cfg := Default()
	cfg.Trader.LiveTrading.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when live trading is enabled without a private key")
	}
}
