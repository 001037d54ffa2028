package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.WalletDiscoveryMode))
	if mode != "" && mode != "scheduled" && mode != "continuous" {
		return fmt.Errorf("wallet_discovery_mode must be 'scheduled' or 'continuous', got %q", c.WalletDiscoveryMode)
	}
	if c.Exchange.DataAPIBase == "" {
		return fmt.Errorf("exchange.data_api_base must be set")
	}
	if c.Exchange.GammaAPIBase == "" {
		return fmt.Errorf("exchange.gamma_api_base must be set")
	}
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("exchange.max_retries must be >= 0, got %d", c.Exchange.MaxRetries)
	}

	if c.EventBus.Capacity <= 0 {
		return fmt.Errorf("event_bus.capacity must be > 0, got %d", c.EventBus.Capacity)
	}
	if c.EventBus.WarnThresholdPct <= 0 || c.EventBus.WarnThresholdPct > 100 {
		return fmt.Errorf("event_bus.warn_threshold_pct must be in (0,100], got %d", c.EventBus.WarnThresholdPct)
	}
	policy := strings.ToLower(strings.TrimSpace(c.EventBus.DropPolicy))
	if policy != "drop_oldest" && policy != "drop_newest" {
		return fmt.Errorf("event_bus.drop_policy must be 'drop_oldest' or 'drop_newest', got %q", c.EventBus.DropPolicy)
	}

	if c.Paper.BankrollUSDC <= 0 {
		return fmt.Errorf("paper.bankroll_usdc must be > 0, got %f", c.Paper.BankrollUSDC)
	}
	if c.Paper.SlippagePct < 0 {
		return fmt.Errorf("paper.slippage_pct must be >= 0, got %f", c.Paper.SlippagePct)
	}

	if c.Risk.PortfolioMaxConcurrentPositions < 0 {
		return fmt.Errorf("risk.portfolio_max_concurrent_positions must be >= 0, got %d", c.Risk.PortfolioMaxConcurrentPositions)
	}
	if c.Risk.MaxConsecutiveLosses < 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be >= 0, got %d", c.Risk.MaxConsecutiveLosses)
	}

	if c.Trader.PollInterval <= 0 {
		return fmt.Errorf("trader.poll_interval must be > 0, got %s", c.Trader.PollInterval)
	}
	if c.Trader.LiveTrading.Enabled && c.Trader.LiveTrading.PrivateKey == "" {
		return fmt.Errorf("trader.live_trading.enabled is set but POLYMARKET_PK is empty")
	}

	if len(c.Features.WindowsDays) == 0 {
		return fmt.Errorf("wallet_features.windows_days must list at least one window")
	}

	return nil
}
