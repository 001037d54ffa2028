package features

import (
	"testing"
	"time"

	"github.com/polysignal/copytrader/internal/model"
)

func trade(side model.Side, size, price float64, ts time.Time) model.Trade {
	return model.Trade{ConditionID: "m1", Side: side, Size: size, Price: price, Timestamp: ts}
}

func TestFIFOPairingWinLossCounts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		trade(model.SideBuy, 10, 0.99, base),
		trade(model.SideSell, 10, 0.98, base.Add(time.Hour)),
		trade(model.SideBuy, 10, 0.98, base.Add(2*time.Hour)),
		trade(model.SideSell, 10, 0.97, base.Add(3*time.Hour)),
	}

	f := Compute(Input{ProxyWallet: "0xw", WindowDays: 7, Trades: trades})

	if f.WinCount != 0 {
		t.Fatalf("expected win_count=0, got %d", f.WinCount)
	}
	if f.LossCount != 2 {
		t.Fatalf("expected loss_count=2, got %d", f.LossCount)
	}
}

func TestBurstinessFullWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []int64{
		base.Unix(), base.Add(10 * time.Minute).Unix(), base.Add(20 * time.Minute).Unix(),
		base.Add(10 * time.Hour).Unix(),
	}
	ratio := burstinessTop1hRatio(ts)
	if ratio != 0.75 {
		t.Fatalf("expected 3/4=0.75, got %v", ratio)
	}
}

func TestDrawdownFromDailyPnl(t *testing.T) {
	daily := map[int64]float64{
		0: 100,
		1: -150,
		2: 20,
	}
	maxDD, _ := drawdownAndSharpe(daily)
	// equity: 100, -50, -30. peak starts at 100; trough at -50 -> dd = (100-(-50))/100*100=150%
	if maxDD < 149 || maxDD > 151 {
		t.Fatalf("expected ~150%% drawdown, got %v", maxDD)
	}
}
