package walletengine

import (
	"sort"
	"time"

	"github.com/polysignal/copytrader/internal/model"
)

// TradeDetector tracks which trades have already been seen for one wallet
// and filters a freshly fetched page down to the genuinely new ones.
//
// The first poll after a cold start is warm-up: every trade in that first
// page is recorded as seen but none are reported as new, so stale history
// already reflected in other tables is never mirrored. Constructing the
// detector with a stored watermark skips warm-up, since the watermark
// already proves prior trades were processed.
type TradeDetector struct {
	seen      map[string]struct{}
	watermark time.Time
	warmedUp  bool
}

// NewTradeDetector constructs a detector. Pass a non-nil storedWatermark to
// resume after a restart without repeating warm-up.
func NewTradeDetector(storedWatermark *time.Time) *TradeDetector {
	d := &TradeDetector{seen: make(map[string]struct{})}
	if storedWatermark != nil {
		d.watermark = *storedWatermark
		d.warmedUp = true
	}
	return d
}

// Watermark returns the latest timestamp the detector has processed.
func (d *TradeDetector) Watermark() time.Time { return d.watermark }

// DetectNew filters trades down to ones not yet seen, sorted by timestamp
// ascending for chronological delivery, and advances the watermark. During
// warm-up every trade is recorded as seen and an empty slice is returned.
func (d *TradeDetector) DetectNew(trades []model.Trade) []model.Trade {
	if !d.warmedUp {
		for _, t := range trades {
			d.seen[t.Identity()] = struct{}{}
			if t.Timestamp.After(d.watermark) {
				d.watermark = t.Timestamp
			}
		}
		d.warmedUp = true
		return nil
	}

	fresh := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp.Before(d.watermark) {
			continue
		}
		if _, ok := d.seen[t.Identity()]; ok {
			continue
		}
		fresh = append(fresh, t)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	for _, t := range fresh {
		d.seen[t.Identity()] = struct{}{}
		if t.Timestamp.After(d.watermark) {
			d.watermark = t.Timestamp
		}
	}
	return fresh
}

// Prune drops the entire seen set once it exceeds 2*n entries. The
// timestamp watermark (not set membership) is what prevents re-detection
// of history older than the watermark, so this is safe.
func (d *TradeDetector) Prune(n int) {
	if len(d.seen) > 2*n {
		d.seen = make(map[string]struct{})
	}
}
