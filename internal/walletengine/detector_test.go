package walletengine

import (
	"testing"
	"time"

	"github.com/polysignal/copytrader/internal/model"
)

func trade(id int64, ts time.Time) model.Trade {
	return model.Trade{ID: id, ProxyWallet: "0xabc", ConditionID: "c1", Timestamp: ts}
}

func TestColdStartIsWarmupAndReturnsNothing(t *testing.T) {
	d := NewTradeDetector(nil)
	base := time.Now()
	got := d.DetectNew([]model.Trade{trade(1, base), trade(2, base.Add(time.Minute))})
	if len(got) != 0 {
		t.Fatalf("expected empty slice on cold-start warm-up, got %d", len(got))
	}
	if d.Watermark().Before(base.Add(time.Minute)) {
		t.Fatalf("expected watermark advanced to latest trade")
	}
}

func TestStoredWatermarkSkipsWarmup(t *testing.T) {
	wm := time.Now().Add(-time.Hour)
	d := NewTradeDetector(&wm)
	got := d.DetectNew([]model.Trade{trade(1, time.Now())})
	if len(got) != 1 {
		t.Fatalf("expected immediate detection when resuming with a watermark, got %d", len(got))
	}
}

func TestDetectNewSortsChronologicallyAndDedupes(t *testing.T) {
	wm := time.Now().Add(-time.Hour)
	d := NewTradeDetector(&wm)
	base := time.Now()
	got := d.DetectNew([]model.Trade{trade(2, base.Add(time.Minute)), trade(1, base)})
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("expected chronological order [1,2], got %+v", got)
	}
	got2 := d.DetectNew([]model.Trade{trade(1, base), trade(2, base.Add(time.Minute))})
	if len(got2) != 0 {
		t.Fatalf("expected no re-detection on second pass, got %d", len(got2))
	}
}

func TestPruneClearsSeenAboveThreshold(t *testing.T) {
	wm := time.Time{}
	d := NewTradeDetector(&wm)
	for i := int64(1); i <= 10; i++ {
		d.DetectNew([]model.Trade{trade(i, time.Now().Add(time.Duration(i) * time.Second))})
	}
	d.Prune(4) // threshold 2*4=8, seen has 10 entries
	if len(d.seen) != 0 {
		t.Fatalf("expected seen set cleared, got %d entries", len(d.seen))
	}
}
