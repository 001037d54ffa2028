package risk

import (
	"testing"
	"time"
)

func TestAllowWithinAllCaps(t *testing.T) {
	m := New(Config{
		Portfolio: PortfolioConfig{ExposureCapUSDC: 1000, MaxConcurrentPositions: 5},
		Wallet:    WalletConfig{ExposureCapUSDC: 200},
	})
	d := m.CheckTrade("0xabc", 50)
	if !d.Allow {
		t.Fatalf("expected allow, got reason %q", d.Reason)
	}
}

func TestGlobalHaltRejectsRegardlessOfCaps(t *testing.T) {
	m := New(Config{Portfolio: PortfolioConfig{ExposureCapUSDC: 1000}})
	m.Halt()
	d := m.CheckTrade("0xabc", 1)
	if d.Allow || d.Reason != ReasonGlobalHalt {
		t.Fatalf("expected global_halt rejection, got %+v", d)
	}
	m.Resume()
	if d := m.CheckTrade("0xabc", 1); !d.Allow {
		t.Fatalf("expected allow after resume, got %+v", d)
	}
}

func TestPortfolioExposureCapRejects(t *testing.T) {
	m := New(Config{Portfolio: PortfolioConfig{ExposureCapUSDC: 100}})
	m.RecordFill("0xabc", 80)
	d := m.CheckTrade("0xdef", 30)
	if d.Allow || d.Reason != ReasonPortfolioExposureCap {
		t.Fatalf("expected portfolio_exposure_cap rejection, got %+v", d)
	}
}

func TestWalletDrawdownCapUsesPeakPnL(t *testing.T) {
	m := New(Config{Wallet: WalletConfig{MaxDrawdownPct: 20}})
	m.RecordSettlement("0xabc", 100, 0) // peak 100
	m.RecordSettlement("0xabc", -30, 0) // current 70, drawdown 30%
	d := m.CheckTrade("0xabc", 10)
	if d.Allow || d.Reason != ReasonWalletDrawdownCap {
		t.Fatalf("expected wallet_drawdown_cap rejection, got %+v", d)
	}
}

func TestRecordSettlementReleasesExposureAndPosition(t *testing.T) {
	m := New(Config{})
	m.RecordFill("0xabc", 50)
	if snap := m.Snapshot(); snap.OpenPositions != 1 || snap.PortfolioExposure != 50 {
		t.Fatalf("unexpected snapshot after fill: %+v", snap)
	}
	m.RecordSettlement("0xabc", 10, 50)
	snap := m.Snapshot()
	if snap.OpenPositions != 0 || snap.PortfolioExposure != 0 || snap.PortfolioDailyPnL != 10 {
		t.Fatalf("unexpected snapshot after settlement: %+v", snap)
	}
}

func TestConsecutiveLossCooldownBenchesWallet(t *testing.T) {
	m := New(Config{Wallet: WalletConfig{MaxConsecutiveLosses: 2, CooldownDuration: time.Hour}})
	m.RecordSettlement("0xabc", -5, 0)
	if d := m.CheckTrade("0xabc", 1); !d.Allow {
		t.Fatalf("expected allow after one loss, got %+v", d)
	}
	m.RecordSettlement("0xabc", -5, 0)
	d := m.CheckTrade("0xabc", 1)
	if d.Allow || d.Reason != ReasonWalletCooldown {
		t.Fatalf("expected wallet_cooldown rejection after second loss, got %+v", d)
	}
	if d := m.CheckTrade("0xdef", 1); !d.Allow {
		t.Fatalf("expected other wallets unaffected by cooldown, got %+v", d)
	}
}

func TestWinResetsConsecutiveLossCount(t *testing.T) {
	m := New(Config{Wallet: WalletConfig{MaxConsecutiveLosses: 2, CooldownDuration: time.Hour}})
	m.RecordSettlement("0xabc", -5, 0)
	m.RecordSettlement("0xabc", 10, 0)
	m.RecordSettlement("0xabc", -5, 0)
	if d := m.CheckTrade("0xabc", 1); !d.Allow {
		t.Fatalf("expected allow when a win broke the loss streak, got %+v", d)
	}
}

func TestResetDailyClearsOnlyDaily(t *testing.T) {
	m := New(Config{})
	m.RecordSettlement("0xabc", -10, 0)
	m.ResetDaily()
	snap := m.Snapshot()
	if snap.PortfolioDailyPnL != 0 {
		t.Fatalf("expected daily pnl reset, got %v", snap.PortfolioDailyPnL)
	}
	if snap.PortfolioWeeklyPnL != -10 {
		t.Fatalf("expected weekly pnl kept at -10, got %v", snap.PortfolioWeeklyPnL)
	}
}
