// Package scoring computes market scores (MScore/EScore): a liquidity/
// volume/density/whale/time composite gated by an activity factor so dead
// markets can't score highly on secondary factors alone.
package scoring

import (
	"math"
	"sort"
	"time"
)

// Weights are the MScore sub-score weights.
type Weights struct {
	Liquidity float64
	Volume    float64
	Density   float64
	Whale     float64
	Time      float64
}

// DefaultWeights returns the standard production weighting.
func DefaultWeights() Weights {
	return Weights{Liquidity: .25, Volume: .25, Density: .20, Whale: .15, Time: .15}
}

func (w Weights) total() float64 {
	return w.Liquidity + w.Volume + w.Density + w.Whale + w.Time
}

// Thresholds gate markets before scoring.
type Thresholds struct {
	MinLiquidity       float64
	MinVolume24h       float64
	MinTimeToExpiryDays float64 // 0 disables the floor; markets past 90d expiry pass with a time score of 0
}

// Candidate is one market plus its locally-derived enrichment fields.
type Candidate struct {
	ConditionID          string
	EventSlug            string
	Liquidity            float64
	Volume24h            float64
	Trades24h            int
	UniqueTraders24h     int
	TopHolderConcentration float64 // default 0.5 when no holder data
	DaysToExpiry         float64
}

// EventKey returns the market's logical event grouping key.
func (c Candidate) EventKey() string {
	if c.EventSlug != "" {
		return c.EventSlug
	}
	return c.ConditionID
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

// timeToExpiryScore is a piecewise-linear ramp: 0→1 over [0,7] days, flat 1
// over [7,30], 1→0 over [30,90], 0 outside [0,90].
func timeToExpiryScore(daysToExpiry float64) float64 {
	switch {
	case daysToExpiry < 0 || daysToExpiry > 90:
		return 0
	case daysToExpiry <= 7:
		return daysToExpiry / 7
	case daysToExpiry <= 30:
		return 1
	default:
		return 1 - (daysToExpiry-30)/60
	}
}

// Scored is one market's computed score breakdown.
type Scored struct {
	ConditionID    string
	EventKey       string
	LiquidityScore float64
	VolumeScore    float64
	DensityScore   float64
	WhaleScore     float64
	TimeScore      float64
	ActivityGate   float64
	MScore         float64
}

// ComputeMScore scores one candidate against the gates and weights.
func ComputeMScore(c Candidate, gates Thresholds, w Weights) (Scored, bool) {
	if c.Liquidity < gates.MinLiquidity || c.Volume24h < gates.MinVolume24h {
		return Scored{}, false
	}
	if gates.MinTimeToExpiryDays > 0 && c.DaysToExpiry < gates.MinTimeToExpiryDays {
		return Scored{}, false
	}

	liquidityScore := clamp01(math.Log10(c.Liquidity+1) / math.Log10(1e6))
	volumeScore := clamp01(math.Log10(c.Volume24h+1) / math.Log10(5e5))
	densityScore := clamp01(float64(c.Trades24h) / 500)
	whaleScore := clamp01(1 - c.TopHolderConcentration)
	timeScore := timeToExpiryScore(c.DaysToExpiry)

	activityGate := (liquidityScore + volumeScore + densityScore) / 3

	total := w.total()
	weighted := w.Liquidity*liquidityScore + w.Volume*volumeScore + w.Density*densityScore + w.Whale*whaleScore + w.Time*timeScore
	var raw float64
	if total > 0 {
		raw = weighted / total
	}
	mscore := clamp01(raw * activityGate)

	return Scored{
		ConditionID:    c.ConditionID,
		EventKey:       c.EventKey(),
		LiquidityScore: liquidityScore,
		VolumeScore:    volumeScore,
		DensityScore:   densityScore,
		WhaleScore:     whaleScore,
		TimeScore:      timeScore,
		ActivityGate:   activityGate,
		MScore:         mscore,
	}, true
}

// RankMarkets scores every candidate, dropping gate failures, and returns
// results sorted by MScore descending.
func RankMarkets(candidates []Candidate, gates Thresholds, w Weights) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if s, ok := ComputeMScore(c, gates, w); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MScore > out[j].MScore })
	return out
}

// RankedEvent is one event's EScore result.
type RankedEvent struct {
	EventKey string
	EScore   float64
	Rank     int
	Markets  []Scored
}

// RankEvents groups scored markets by event, takes the max MScore as the
// event's EScore, sorts descending, and truncates to the top N. It returns
// the total number of distinct events evaluated alongside the ranked slice.
func RankEvents(scored []Scored, topN int) (totalEvents int, ranked []RankedEvent) {
	byEvent := make(map[string][]Scored)
	for _, s := range scored {
		byEvent[s.EventKey] = append(byEvent[s.EventKey], s)
	}
	totalEvents = len(byEvent)

	events := make([]RankedEvent, 0, len(byEvent))
	for key, markets := range byEvent {
		max := markets[0].MScore
		for _, m := range markets[1:] {
			if m.MScore > max {
				max = m.MScore
			}
		}
		events = append(events, RankedEvent{EventKey: key, EScore: max, Markets: markets})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].EScore != events[j].EScore {
			return events[i].EScore > events[j].EScore
		}
		return events[i].EventKey < events[j].EventKey
	})

	if topN > 0 && len(events) > topN {
		events = events[:topN]
	}
	for i := range events {
		events[i].Rank = i + 1
	}
	return totalEvents, events
}

// DaysToExpiry is a small helper so callers can compute Candidate.DaysToExpiry
// from an end-date timestamp against now.
func DaysToExpiry(endDate, now time.Time) float64 {
	return endDate.Sub(now).Hours() / 24
}
