package rules

import (
	"testing"

	"github.com/polysignal/copytrader/internal/model"
)

func modelFeaturesWithTradesPerDay(v float64) model.WalletFeatures {
	return model.WalletFeatures{TradeCount: 100, TradesPerDay: v}
}

func TestDriftScoreZeroWhenUnchanged(t *testing.T) {
	s := StyleSnapshot{TradesPerDay: 5, UniqueMarkets: 10, Burstiness: 0.2, BuySellBalance: 0.8, TopDomainRatio: 0.3}
	if DriftScore(s, s) != 0 {
		t.Fatalf("expected zero drift for identical snapshots")
	}
}

func TestDriftScoreClampsLargeDeltas(t *testing.T) {
	baseline := StyleSnapshot{TradesPerDay: 0, UniqueMarkets: 0, Burstiness: 0, BuySellBalance: 0, TopDomainRatio: 0}
	current := StyleSnapshot{TradesPerDay: 1000, UniqueMarkets: 1000, Burstiness: 10, BuySellBalance: 10, TopDomainRatio: 10}
	// Every delta term clamps to 1, so the score equals the sum of weights = 1.
	got := DriftScore(baseline, current)
	if got < 0.999 || got > 1.001 {
		t.Fatalf("expected clamped drift score of 1.0, got %v", got)
	}
}

func TestEvaluateDiscoveryRejectsHighFrequency(t *testing.T) {
	cfg := DiscoveryConfig{MinTradeCount: 10, MaxTradesPerDay: 5, MaxUniqueMarkets: 50, MaxSizeCV: 2, MaxBurstiness: 0.8}
	d := EvaluateDiscovery(modelFeaturesWithTradesPerDay(20), cfg)
	if d.Allow {
		t.Fatalf("expected rejection for trades_per_day above maximum")
	}
	if d.Reason != "trades_per_day_above_maximum" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestEvaluatePaperDrawdownGate(t *testing.T) {
	cfg := PaperConfig{RequiredPaperTrades: 5, MinAvgPairedPnl: -1, MaxDrawdown: 0.25}
	ok := EvaluatePaper(PaperWindowStats{ClosedTradeCount: 10, AvgPairedPnl: 1, DrawdownPct: 20}, cfg)
	if !ok.Allow {
		t.Fatalf("expected allow at 20%% drawdown vs 0.25 max, got %+v", ok)
	}
	bad := EvaluatePaper(PaperWindowStats{ClosedTradeCount: 10, AvgPairedPnl: 1, DrawdownPct: 30}, cfg)
	if bad.Allow || bad.Reason != "drawdown_above_maximum" {
		t.Fatalf("expected drawdown rejection at 30%%, got %+v", bad)
	}
}

func TestEvaluateLiveAllowsWhenBreakersDisabled(t *testing.T) {
	cfg := LiveConfig{BreakersEnabled: false}
	d := EvaluateLive(LiveContext{DaysSinceLastTrade: 9999}, cfg)
	if !d.Allow {
		t.Fatalf("expected always-allow when breakers disabled")
	}
}
