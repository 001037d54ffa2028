package walletscore

import "testing"

func TestHitRatePenaltyBelowPointFour5(t *testing.T) {
	w := DefaultWeights()
	m := Multipliers{Trust30to90: 1, ObscurityBonus: 1}
	in := Input{ROIPct: 40, HitRate: 0.40, WalletAgeDays: 200, LeaderboardTop500: true, ProfitableMarkets: 5, TotalMarkets: 10}
	scored := Compute(in, w, m)

	inHigh := in
	inHigh.HitRate = 0.60
	scoredHigh := Compute(inHigh, w, m)

	if !(scored.WScore < scoredHigh.WScore) {
		t.Fatalf("expected hit-rate penalty to lower score: %v vs %v", scored.WScore, scoredHigh.WScore)
	}
}

func TestObscurityAndTrustMultipliersApply(t *testing.T) {
	w := DefaultWeights()
	m := Multipliers{Trust30to90: 0.5, ObscurityBonus: 0.7}
	in := Input{ROIPct: 40, HitRate: 0.6, WalletAgeDays: 30, LeaderboardTop500: false, ProfitableMarkets: 5, TotalMarkets: 10}
	scored := Compute(in, w, m)

	baseline := Compute(Input{ROIPct: 40, HitRate: 0.6, WalletAgeDays: 200, LeaderboardTop500: true, ProfitableMarkets: 5, TotalMarkets: 10}, w, Multipliers{Trust30to90: 1, ObscurityBonus: 1})

	if !(scored.WScore < baseline.WScore) {
		t.Fatalf("expected multipliers to reduce score below baseline: %v vs %v", scored.WScore, baseline.WScore)
	}
}

func TestWScoreClampedToUnit(t *testing.T) {
	w := DefaultWeights()
	m := Multipliers{Trust30to90: 1, ObscurityBonus: 1}
	in := Input{ROIPct: 1000, HitRate: 0.9, WalletAgeDays: 500, LeaderboardTop500: true, ProfitableMarkets: 10, TotalMarkets: 10}
	scored := Compute(in, w, m)
	if scored.WScore > 1 {
		t.Fatalf("expected clamp to 1, got %v", scored.WScore)
	}
}
