// Package walletscore computes the composite WScore from wallet features
// plus trust/obscurity multipliers.
package walletscore

import "github.com/polysignal/copytrader/internal/model"

// Weights are the WScore sub-score weights.
type Weights struct {
	Edge            float64
	Consistency     float64
	MarketSkill     float64
	Timing          float64
	BehaviorQuality float64
}

// DefaultWeights returns the standard production weighting.
func DefaultWeights() Weights {
	return Weights{Edge: 0.30, Consistency: 0.25, MarketSkill: 0.20, Timing: 0.15, BehaviorQuality: 0.10}
}

func (w Weights) total() float64 {
	return w.Edge + w.Consistency + w.MarketSkill + w.Timing + w.BehaviorQuality
}

// Multipliers configures the post-weighting penalties/multipliers.
type Multipliers struct {
	Trust30to90      float64 // applied when wallet age < 90 days
	ObscurityBonus   float64 // applied when wallet is not leaderboard top-500
}

// Input is the score input for one (wallet, window) pair.
type Input struct {
	ROIPct               float64
	DailyReturnStdevPct  float64
	HitRate              float64
	ProfitableMarkets    int
	TotalMarkets         int
	AvgPostEntryDriftCents float64
	NoiseTradeRatio      float64
	WalletAgeDays        float64
	LeaderboardTop500    bool
}

// FromFeatures builds a walletscore Input from a feature row: a bankroll
// proxy of avg_trade_size * trade_count, daily-return stdev approximated
// as half the max drawdown, and noise ratio as an even blend of
// extreme-price and burstiness ratios. Drift stays 0 until a post-entry
// price series exists to derive it from.
func FromFeatures(f model.WalletFeatures, leaderboardTop500 bool) Input {
	bankrollProxy := f.AvgTradeSizeUSDC * float64(f.TradeCount)
	roiPct := 0.0
	if bankrollProxy > 0 {
		roiPct = 100 * f.TotalPnl / bankrollProxy
	}
	return Input{
		ROIPct:              roiPct,
		DailyReturnStdevPct: f.MaxDrawdownPct * 0.5,
		HitRate:             f.WinRate(),
		ProfitableMarkets:   f.ProfitableMarkets,
		TotalMarkets:        f.UniqueMarkets,
		AvgPostEntryDriftCents: 0,
		NoiseTradeRatio:     f.ExtremePriceRatio*0.5 + f.BurstinessTop1hRatio*0.5,
		WalletAgeDays:       f.WalletAgeDays,
		LeaderboardTop500:   leaderboardTop500,
	}
}

func floor0(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func edgeScore(roiPct float64) float64        { return floor0(roiPct / 20) }
func consistencyScore(stdevPct float64) float64 { return floor0(1 - stdevPct/10) }
func marketSkillScore(in Input) float64 {
	if in.TotalMarkets == 0 {
		return 0
	}
	return float64(in.ProfitableMarkets) / float64(in.TotalMarkets)
}
func timingSkillScore(driftCents float64) float64     { return (driftCents + 10) / 20 }
func behaviorQualityScore(noiseRatio float64) float64 { return 1 - noiseRatio }

// Scored is the computed breakdown for one wallet/window.
type Scored struct {
	EdgeScore            float64
	ConsistencyScore     float64
	MarketSkillScore     float64
	TimingSkillScore     float64
	BehaviorQualityScore float64
	WScore               float64
	FollowMode           string
}

// Compute applies the weighted sum, the hit-rate penalties, and the
// trust/obscurity multipliers, in that order, then clamps to [0,1].
func Compute(in Input, w Weights, m Multipliers) Scored {
	edge := edgeScore(in.ROIPct)
	consistency := consistencyScore(in.DailyReturnStdevPct)
	marketSkill := marketSkillScore(in)
	timing := timingSkillScore(in.AvgPostEntryDriftCents)
	behavior := behaviorQualityScore(in.NoiseTradeRatio)

	total := w.total()
	weighted := w.Edge*edge + w.Consistency*consistency + w.MarketSkill*marketSkill + w.Timing*timing + w.BehaviorQuality*behavior
	score := 0.0
	if total > 0 {
		score = weighted / total
	}

	switch {
	case in.HitRate < 0.45:
		score *= 0.5
	case in.HitRate < 0.52:
		score *= 0.8
	}

	if in.WalletAgeDays < 90 {
		score *= m.Trust30to90
	}
	if !in.LeaderboardTop500 {
		score *= m.ObscurityBonus
	}

	return Scored{
		EdgeScore:            edge,
		ConsistencyScore:     consistency,
		MarketSkillScore:     marketSkill,
		TimingSkillScore:     timing,
		BehaviorQualityScore: behavior,
		WScore:               clamp01(score),
		FollowMode:           "mirror",
	}
}
