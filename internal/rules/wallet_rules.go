// Package rules implements the wallet-rules state machine:
// Candidate → PaperTrading → Approved → Stopped, gated by discovery/paper/
// live evaluation functions and a style-drift detector.
package rules

import (
	"math"

	"github.com/polysignal/copytrader/internal/model"
)

// Decision is the {allow, reason} result of any gate function.
type Decision struct {
	Allow  bool
	Reason string
}

func allow() Decision { return Decision{Allow: true} }
func reject(reason string) Decision { return Decision{Allow: false, Reason: reason} }

// DiscoveryConfig gates Candidate admission.
type DiscoveryConfig struct {
	MinTradeCount    int
	MaxTradesPerDay  float64
	MaxUniqueMarkets int
	MinHoldMinutes   float64
	MaxSizeCV        float64
	MaxBurstiness    float64
}

// EvaluateDiscovery rejects wallets whose trading style doesn't fit the
// system's copyable-trader profile.
func EvaluateDiscovery(f model.WalletFeatures, cfg DiscoveryConfig) Decision {
	switch {
	case f.TradeCount < cfg.MinTradeCount:
		return reject("trade_count_below_minimum")
	case f.TradesPerDay > cfg.MaxTradesPerDay:
		return reject("trades_per_day_above_maximum")
	case f.UniqueMarkets > cfg.MaxUniqueMarkets:
		return reject("unique_markets_above_maximum")
	case f.AvgHoldTimeHours > 0 && f.AvgHoldTimeHours*60 < cfg.MinHoldMinutes:
		return reject("hold_time_below_minimum")
	case f.SizeCV > cfg.MaxSizeCV:
		return reject("size_cv_above_maximum")
	case f.BurstinessTop1hRatio > cfg.MaxBurstiness:
		return reject("burstiness_above_maximum")
	}
	return allow()
}

// PaperConfig gates PaperTrading → Approved. MaxDrawdown is a fraction of
// peak equity (0.25 == 25%).
type PaperConfig struct {
	PaperWindowDays     int
	RequiredPaperTrades int
	MinAvgPairedPnl     float64
	MaxDrawdown         float64
}

// PaperWindowStats summarizes closed paper trades over the paper window,
// computed by the caller from the store.
type PaperWindowStats struct {
	ClosedTradeCount int
	AvgPairedPnl     float64
	DrawdownPct      float64
}

// EvaluatePaper requires a minimum number of closed paper trades with
// acceptable average PnL and drawdown before promoting to Approved.
func EvaluatePaper(stats PaperWindowStats, cfg PaperConfig) Decision {
	switch {
	case stats.ClosedTradeCount < cfg.RequiredPaperTrades:
		return reject("insufficient_paper_trades")
	case stats.AvgPairedPnl < cfg.MinAvgPairedPnl:
		return reject("average_pnl_below_minimum")
	case stats.DrawdownPct/100 > cfg.MaxDrawdown:
		return reject("drawdown_above_maximum")
	}
	return allow()
}

// LiveConfig gates Approved's continued eligibility for live-mode mirroring.
// MaxDrawdown90d is a fraction of peak equity, like PaperConfig.MaxDrawdown.
type LiveConfig struct {
	BreakersEnabled       bool
	MaxInactivityDays     float64
	MaxDrawdown90d        float64
	MaxDriftScore         float64
	MaxThemeConcentration float64
}

// StyleSnapshot is the subset of features used for drift comparison.
type StyleSnapshot struct {
	TradesPerDay   float64
	UniqueMarkets  int
	Burstiness     float64
	BuySellBalance float64
	TopDomainRatio float64
}

// StyleSnapshotFromFeatures projects a feature row into a StyleSnapshot.
func StyleSnapshotFromFeatures(f model.WalletFeatures) StyleSnapshot {
	return StyleSnapshot{
		TradesPerDay:   f.TradesPerDay,
		UniqueMarkets:  f.UniqueMarkets,
		Burstiness:     f.BurstinessTop1hRatio,
		BuySellBalance: f.BuySellBalance,
		TopDomainRatio: f.TopDomainRatio,
	}
}

func minClamp1(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}

// DriftScore is the weighted sum over normalized absolute deltas, each
// clamped at 1.
func DriftScore(baseline, current StyleSnapshot) float64 {
	dTradesPerDay := minClamp1(math.Abs(current.TradesPerDay-baseline.TradesPerDay) / 80)
	dUniqueMarkets := minClamp1(math.Abs(float64(current.UniqueMarkets-baseline.UniqueMarkets)) / 50)
	dBurstiness := minClamp1(math.Abs(current.Burstiness-baseline.Burstiness) / 0.50)
	dBuySellBalance := minClamp1(math.Abs(current.BuySellBalance - baseline.BuySellBalance))
	dTopDomainRatio := minClamp1(math.Abs(current.TopDomainRatio - baseline.TopDomainRatio))

	return 0.30*dTradesPerDay + 0.20*dUniqueMarkets + 0.25*dBurstiness + 0.15*dBuySellBalance + 0.10*dTopDomainRatio
}

// LiveContext is what EvaluateLive needs beyond the config: the current
// style, the baseline it's compared against, recent activity, and drawdown.
type LiveContext struct {
	DaysSinceLastTrade float64
	Drawdown90dPct     float64
	Current            StyleSnapshot
	Baseline           StyleSnapshot
}

// EvaluateLive keeps a wallet in Approved/live mode, or recommends Stopped.
// When breakers are disabled it always allows.
func EvaluateLive(ctx LiveContext, cfg LiveConfig) Decision {
	if !cfg.BreakersEnabled {
		return allow()
	}
	switch {
	case ctx.DaysSinceLastTrade > cfg.MaxInactivityDays:
		return reject("inactive_since_last_trade")
	case ctx.Drawdown90dPct/100 > cfg.MaxDrawdown90d:
		return reject("drawdown_90d_above_maximum")
	case DriftScore(ctx.Baseline, ctx.Current) > cfg.MaxDriftScore:
		return reject("style_drift_above_maximum")
	case ctx.Current.TopDomainRatio > cfg.MaxThemeConcentration:
		return reject("theme_concentration_above_maximum")
	}
	return allow()
}
