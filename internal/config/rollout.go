package config

import (
	"fmt"
	"strings"
)

// ApplyRolloutPhase applies a staged rollout preset to the wallet-rules
// live breakers (internal/rules.LiveConfig, which decide whether an
// Approved wallet stays Approved or is Stopped) and, for live-small, to the
// sizing and risk caps. It does not change Trader.LiveTrading.Enabled.
// Supported phases:
//   - paper:       live breakers disabled, so no Approved wallet is stopped
//     by them (Default() leaves them enabled).
//   - shadow:      live breakers enabled with the inactivity, 90-day
//     drawdown and drift limits set to 0, so any inactivity, drawdown or
//     drift stops an Approved wallet; Paper→Approved promotion is unchanged.
//   - live-small:  live breakers enabled with conservative caps.
//   - live:        live breakers enabled using the configured values as-is.
func ApplyRolloutPhase(cfg *Config, phase string) error {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return nil
	}

	switch p {
	case "paper":
		cfg.WalletRules.LiveBreakersEnabled = false
	case "shadow":
		cfg.WalletRules.LiveBreakersEnabled = true
		cfg.WalletRules.LiveInactivityDays = 0
		cfg.WalletRules.LiveMaxDrawdown90d = 0
		cfg.WalletRules.LiveMaxDriftScore = 0
	case "live-small":
		cfg.WalletRules.LiveBreakersEnabled = true
		clampMaxFloat(&cfg.Trader.PerTradeSizeUSDC, 10)
		clampMaxFloat(&cfg.Risk.WalletExposureCapUSDC, 50)
		clampMaxFloat(&cfg.Risk.PortfolioExposureCapUSDC, 500)
		clampMaxInt(&cfg.Risk.PortfolioMaxConcurrentPositions, 5)
	case "live":
		cfg.WalletRules.LiveBreakersEnabled = true
	default:
		return fmt.Errorf("unknown rollout phase %q", phase)
	}
	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMaxInt(v *int, max int) {
	if *v <= 0 || *v > max {
		*v = max
	}
}
