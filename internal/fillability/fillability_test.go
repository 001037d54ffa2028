package fillability

import (
	"testing"

	"github.com/polysignal/copytrader/internal/model"
)

func TestCheckFillableBuyWalksAsksUpToTargetPrice(t *testing.T) {
	asks := []Level{{Price: 0.50, Size: 100}, {Price: 0.52, Size: 100}, {Price: 0.60, Size: 100}}
	got := checkFillable(nil, asks, model.SideBuy, 40, 0.55)
	if !got.Fillable {
		t.Fatalf("expected fillable, got %+v", got)
	}
	if got.AvailableDepthUSD <= 0 {
		t.Fatalf("expected positive depth, got %v", got.AvailableDepthUSD)
	}
}

func TestCheckFillableBuyIgnoresAsksAboveTargetPrice(t *testing.T) {
	asks := []Level{{Price: 0.60, Size: 1000}}
	got := checkFillable(nil, asks, model.SideBuy, 10, 0.55)
	if got.Fillable {
		t.Fatalf("expected not fillable when every ask is above target price")
	}
	if got.AvailableDepthUSD != 0 {
		t.Fatalf("expected zero depth, got %v", got.AvailableDepthUSD)
	}
}

func TestCheckFillableSellWalksBidsDownToTargetPrice(t *testing.T) {
	bids := []Level{{Price: 0.45, Size: 100}, {Price: 0.40, Size: 100}}
	got := checkFillable(bids, nil, model.SideSell, 40, 0.42)
	if !got.Fillable {
		t.Fatalf("expected fillable, got %+v", got)
	}
}

func TestCheckFillableInsufficientDepth(t *testing.T) {
	asks := []Level{{Price: 0.50, Size: 1}}
	got := checkFillable(nil, asks, model.SideBuy, 1000, 0.55)
	if got.Fillable {
		t.Fatalf("expected not fillable with insufficient depth")
	}
}

func TestAggregateSnapshotsEmpty(t *testing.T) {
	got := aggregateSnapshots(nil, 1)
	if got.SnapshotCount != 0 || got.FillProbability != 0 {
		t.Fatalf("expected zero-value aggregate for empty input, got %+v", got)
	}
}

func TestAggregateSnapshotsFillProbabilityAndWindow(t *testing.T) {
	snaps := []FillCheck{
		{Fillable: true, VWAP: 0.5, AvailableDepthUSD: 100},
		{Fillable: true, VWAP: 0.51, AvailableDepthUSD: 100},
		{Fillable: false, AvailableDepthUSD: 10},
	}
	got := aggregateSnapshots(snaps, 2)
	if got.SnapshotCount != 3 {
		t.Fatalf("expected 3 snapshots, got %d", got.SnapshotCount)
	}
	if got.FillableCount != 2 {
		t.Fatalf("expected 2 fillable, got %d", got.FillableCount)
	}
	wantProb := 2.0 / 3.0
	if diff := got.FillProbability - wantProb; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected fill probability %v, got %v", wantProb, got.FillProbability)
	}
	if got.OpportunityWindowSecs != 4 {
		t.Fatalf("expected opportunity window of 4s (2 leading fillable * 2s interval), got %v", got.OpportunityWindowSecs)
	}
}

func TestAggregateSnapshotsLeadingRunStopsAtFirstUnfillable(t *testing.T) {
	snaps := []FillCheck{
		{Fillable: true},
		{Fillable: false},
		{Fillable: true},
	}
	got := aggregateSnapshots(snaps, 1)
	if got.OpportunityWindowSecs != 1 {
		t.Fatalf("expected leading run of 1, got window %v", got.OpportunityWindowSecs)
	}
	if got.FillableCount != 2 {
		t.Fatalf("expected 2 total fillable snapshots counted, got %d", got.FillableCount)
	}
}
