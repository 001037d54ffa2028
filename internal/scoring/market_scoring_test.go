package scoring

import "testing"

func TestMScoreTrumpsSecondaryFactors(t *testing.T) {
	w := DefaultWeights()
	gates := Thresholds{}

	a := Candidate{ConditionID: "A", Liquidity: 5000, Volume24h: 8000, DaysToExpiry: 30, Trades24h: 200, TopHolderConcentration: 0.1}
	b := Candidate{ConditionID: "B", Liquidity: 5000, Volume24h: 8000, DaysToExpiry: 30, Trades24h: 0, TopHolderConcentration: 0.9}

	sa, ok := ComputeMScore(a, gates, w)
	if !ok {
		t.Fatal("expected market A to pass gates")
	}
	sb, ok := ComputeMScore(b, gates, w)
	if !ok {
		t.Fatal("expected market B to pass gates")
	}
	if !(sa.MScore > sb.MScore) {
		t.Fatalf("expected mscore(A) > mscore(B), got A=%v B=%v", sa.MScore, sb.MScore)
	}
}

func TestDeadMarketScoresBelowPointOne(t *testing.T) {
	w := DefaultWeights()
	gates := Thresholds{}
	dead := Candidate{ConditionID: "dead", Liquidity: 0, Volume24h: 0, Trades24h: 0, TopHolderConcentration: 0.5, DaysToExpiry: 10}

	s, ok := ComputeMScore(dead, gates, w)
	if !ok {
		t.Fatal("expected dead market to pass (no) gates at zero thresholds")
	}
	if s.MScore >= 0.1 {
		t.Fatalf("expected mscore < 0.1 for a zero liquidity/volume/trades market, got %v", s.MScore)
	}
}

func TestRankEventsTakesMaxPerEvent(t *testing.T) {
	scored := []Scored{
		{ConditionID: "m1", EventKey: "evt-1", MScore: 0.3},
		{ConditionID: "m2", EventKey: "evt-1", MScore: 0.8},
		{ConditionID: "m3", EventKey: "evt-2", MScore: 0.5},
	}
	total, ranked := RankEvents(scored, 10)
	if total != 2 {
		t.Fatalf("expected 2 distinct events, got %d", total)
	}
	if ranked[0].EventKey != "evt-1" || ranked[0].EScore != 0.8 {
		t.Fatalf("expected evt-1 ranked first with EScore 0.8, got %+v", ranked[0])
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("expected ranks assigned 1,2 got %d,%d", ranked[0].Rank, ranked[1].Rank)
	}
}

func TestRankEventsTruncatesToTopN(t *testing.T) {
	scored := []Scored{
		{ConditionID: "m1", EventKey: "e1", MScore: 0.9},
		{ConditionID: "m2", EventKey: "e2", MScore: 0.8},
		{ConditionID: "m3", EventKey: "e3", MScore: 0.7},
	}
	_, ranked := RankEvents(scored, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(ranked))
	}
}
