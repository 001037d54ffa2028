// Package persona implements the two-stage persona classification: a cheap
// Stage-1 gate, ordered Stage-2 exclusions, and priority-ordered
// followable-persona detection.
package persona

import "github.com/polysignal/copytrader/internal/model"

// Config holds every persona-classification threshold.
type Config struct {
	// Stage 1
	MinWalletAgeDays  float64
	MinTotalTrades    int
	MaxInactiveDays   float64

	// Sniper/Insider
	SniperMaxAgeDays   float64
	SniperMinWinRate   float64
	SniperMaxTrades    int

	// Noise trader
	NoiseMinTradesPerWeek float64
	NoiseMaxAbsROI        float64

	// Tail-risk seller
	TailRiskMinWinRate  float64
	TailRiskMaxLossMult float64

	// Informed Specialist
	SpecialistMaxActivePositions int
	SpecialistMinConcentration   float64
	SpecialistMinWinRate         float64

	// Consistent Generalist
	GeneralistMinUniqueMarkets int
	GeneralistMinWinRate       float64
	GeneralistMaxWinRate       float64
	GeneralistMaxDrawdownPct   float64
	GeneralistMinSharpe        float64

	// Patient Accumulator
	AccumulatorMinHoldHours    float64
	AccumulatorMaxTradesPerWeek float64
}

// Result is the outcome of classifying one wallet. Confidence is the
// wallet's win rate at classification time and is only meaningful for
// Followable results.
type Result struct {
	Kind        ResultKind
	Persona     model.Persona
	Confidence  float64
	Exclusion   model.ExclusionReason
	MetricValue float64
	Threshold   float64
}

// ResultKind distinguishes the three possible classification outcomes.
type ResultKind int

const (
	Unclassified ResultKind = iota
	Excluded
	Followable
)

// Features is the subset of model.WalletFeatures the classifier consumes,
// plus the ROI it needs (ROI isn't a raw feature; callers compute it from
// total_pnl / bankroll_proxy the same way wallet scoring does).
type Features struct {
	model.WalletFeatures
	ROI       float64 // fraction, e.g. 0.2 == 20%
	MaxLoss   float64 // magnitude of the largest single paired loss
	AvgWin    float64 // average paired win size
}

// Stage1 rejects wallets too young, too thin, or too stale to be worth the
// cost of further evaluation.
func Stage1(f Features, cfg Config) (ok bool, reason model.ExclusionReason) {
	switch {
	case f.WalletAgeDays < cfg.MinWalletAgeDays:
		return false, model.ExclusionStage1TooYoung
	case f.TradeCount < cfg.MinTotalTrades:
		return false, model.ExclusionStage1TooFewTrades
	case f.DaysSinceLastTrade > cfg.MaxInactiveDays:
		return false, model.ExclusionStage1Inactive
	}
	return true, ""
}

func detectSniperInsider(f Features, cfg Config) bool {
	return f.WalletAgeDays < cfg.SniperMaxAgeDays &&
		f.WinRate() > cfg.SniperMinWinRate &&
		f.TradeCount < cfg.SniperMaxTrades
}

func detectNoiseTrader(f Features, cfg Config) bool {
	absROI := f.ROI
	if absROI < 0 {
		absROI = -absROI
	}
	return f.TradesPerWeek > cfg.NoiseMinTradesPerWeek && absROI < cfg.NoiseMaxAbsROI
}

func detectTailRiskSeller(f Features, cfg Config) bool {
	if f.AvgWin <= 0 {
		return false
	}
	mult := f.MaxLoss / f.AvgWin
	return f.WinRate() > cfg.TailRiskMinWinRate && mult > cfg.TailRiskMaxLossMult
}

// DetectExecutionMaster is part of the exclusion taxonomy but is never
// invoked from Classify: execution_pnl_ratio has no data source here yet.
// It stays dormant pending a PnL-decomposition feed.
func DetectExecutionMaster(executionPnlRatio, threshold float64) bool {
	return executionPnlRatio > threshold
}

func detectInformedSpecialist(f Features, cfg Config) bool {
	return f.ActivePositions <= cfg.SpecialistMaxActivePositions &&
		f.ConcentrationRatio >= cfg.SpecialistMinConcentration &&
		f.WinRate() >= cfg.SpecialistMinWinRate
}

func detectConsistentGeneralist(f Features, cfg Config) bool {
	wr := f.WinRate()
	return f.UniqueMarkets >= cfg.GeneralistMinUniqueMarkets &&
		wr >= cfg.GeneralistMinWinRate && wr <= cfg.GeneralistMaxWinRate &&
		f.MaxDrawdownPct <= cfg.GeneralistMaxDrawdownPct &&
		f.SharpeRatio >= cfg.GeneralistMinSharpe
}

func detectPatientAccumulator(f Features, cfg Config) bool {
	return f.AvgHoldTimeHours >= cfg.AccumulatorMinHoldHours &&
		f.TradesPerWeek <= cfg.AccumulatorMaxTradesPerWeek
}

// Classify runs the full Stage-1/Stage-2/followable pipeline for one
// wallet's feature row. Callers are responsible for persisting the result
// (exclusion row, persona row, or nothing for Unclassified).
func Classify(f Features, cfg Config) Result {
	if ok, reason := Stage1(f, cfg); !ok {
		r := Result{Kind: Excluded, Exclusion: reason}
		switch reason {
		case model.ExclusionStage1TooYoung:
			r.MetricValue, r.Threshold = f.WalletAgeDays, cfg.MinWalletAgeDays
		case model.ExclusionStage1TooFewTrades:
			r.MetricValue, r.Threshold = float64(f.TradeCount), float64(cfg.MinTotalTrades)
		case model.ExclusionStage1Inactive:
			r.MetricValue, r.Threshold = f.DaysSinceLastTrade, cfg.MaxInactiveDays
		}
		return r
	}

	switch {
	case detectSniperInsider(f, cfg):
		return Result{Kind: Excluded, Exclusion: model.ExclusionSniperInsider, MetricValue: f.WinRate(), Threshold: cfg.SniperMinWinRate}
	case detectNoiseTrader(f, cfg):
		return Result{Kind: Excluded, Exclusion: model.ExclusionNoiseTrader, MetricValue: f.TradesPerWeek, Threshold: cfg.NoiseMinTradesPerWeek}
	case detectTailRiskSeller(f, cfg):
		mult := 0.0
		if f.AvgWin > 0 {
			mult = f.MaxLoss / f.AvgWin
		}
		return Result{Kind: Excluded, Exclusion: model.ExclusionTailRiskSeller, MetricValue: mult, Threshold: cfg.TailRiskMaxLossMult}
	}

	switch {
	case detectInformedSpecialist(f, cfg):
		return Result{Kind: Followable, Persona: model.PersonaInformedSpecialist, Confidence: f.WinRate()}
	case detectConsistentGeneralist(f, cfg):
		return Result{Kind: Followable, Persona: model.PersonaConsistentGeneralist, Confidence: f.WinRate()}
	case detectPatientAccumulator(f, cfg):
		return Result{Kind: Followable, Persona: model.PersonaPatientAccumulator, Confidence: f.WinRate()}
	}

	return Result{Kind: Unclassified}
}
