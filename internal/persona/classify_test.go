package persona

import (
	"testing"

	"github.com/polysignal/copytrader/internal/model"
)

func baseConfig() Config {
	return Config{
		MinWalletAgeDays: 30,
		MinTotalTrades:   10,
		MaxInactiveDays:  30,

		SniperMaxAgeDays: 14,
		SniperMinWinRate: 0.8,
		SniperMaxTrades:  5,

		NoiseMinTradesPerWeek: 50,
		NoiseMaxAbsROI:        0.02,

		TailRiskMinWinRate:  0.9,
		TailRiskMaxLossMult: 10,

		SpecialistMaxActivePositions: 3,
		SpecialistMinConcentration:   0.6,
		SpecialistMinWinRate:         0.55,

		GeneralistMinUniqueMarkets: 10,
		GeneralistMinWinRate:       0.45,
		GeneralistMaxWinRate:       0.65,
		GeneralistMaxDrawdownPct:   30,
		GeneralistMinSharpe:        0.5,

		AccumulatorMinHoldHours:     48,
		AccumulatorMaxTradesPerWeek: 5,
	}
}

func TestStage1TooYoung(t *testing.T) {
	cfg := baseConfig()
	f := Features{WalletFeatures: model.WalletFeatures{WalletAgeDays: 5, TradeCount: 20}}
	res := Classify(f, cfg)
	if res.Kind != Excluded || res.Exclusion != model.ExclusionStage1TooYoung {
		t.Fatalf("expected STAGE1_TOO_YOUNG, got %+v", res)
	}
}

func TestInformedSpecialistFollowable(t *testing.T) {
	cfg := baseConfig()
	f := Features{WalletFeatures: model.WalletFeatures{
		WalletAgeDays: 100, TradeCount: 50, DaysSinceLastTrade: 1,
		ActivePositions: 2, ConcentrationRatio: 0.7, WinCount: 60, LossCount: 40,
	}}
	res := Classify(f, cfg)
	if res.Kind != Followable || res.Persona != model.PersonaInformedSpecialist {
		t.Fatalf("expected InformedSpecialist, got %+v", res)
	}
	if res.Confidence != 0.6 {
		t.Fatalf("expected confidence = win rate 0.6, got %v", res.Confidence)
	}
}

func TestStage1RecordsMetricAndThreshold(t *testing.T) {
	cfg := baseConfig()
	f := Features{WalletFeatures: model.WalletFeatures{WalletAgeDays: 5, TradeCount: 20}}
	res := Classify(f, cfg)
	if res.MetricValue != 5 || res.Threshold != 30 {
		t.Fatalf("expected metric=5 threshold=30, got %+v", res)
	}
}

func TestUnclassifiedWritesNothing(t *testing.T) {
	cfg := baseConfig()
	f := Features{WalletFeatures: model.WalletFeatures{
		WalletAgeDays: 100, TradeCount: 50, DaysSinceLastTrade: 1,
		ActivePositions: 5, ConcentrationRatio: 0.1, WinCount: 10, LossCount: 10,
		UniqueMarkets: 2, AvgHoldTimeHours: 1, TradesPerWeek: 20,
	}}
	res := Classify(f, cfg)
	if res.Kind != Unclassified {
		t.Fatalf("expected Unclassified, got %+v", res)
	}
}
