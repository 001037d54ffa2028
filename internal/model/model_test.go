package model

import (
	"testing"
	"time"
)

func TestTradeIdentityPrefersID(t *testing.T) {
	tr := Trade{ID: 42, TxHash: "0xhash", ProxyWallet: "0xw", ConditionID: "c1"}
	if got := tr.Identity(); got != "42" {
		t.Fatalf("expected id-based identity, got %q", got)
	}
}

func TestTradeIdentityFallsBackToTxHash(t *testing.T) {
	tr := Trade{TxHash: "0xhash", ProxyWallet: "0xw", ConditionID: "c1"}
	if got := tr.Identity(); got != "0xhash" {
		t.Fatalf("expected tx-hash identity, got %q", got)
	}
}

func TestTradeIdentityCompositeWhenNothingElse(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := Trade{ProxyWallet: "0xw", ConditionID: "c1", Side: SideBuy, Timestamp: ts}
	want := "0xw-c1-" + ts.Format(time.RFC3339Nano) + "-BUY"
	if got := tr.Identity(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMarketEventKeySingletonFallback(t *testing.T) {
	m := Market{ConditionID: "c1"}
	if m.EventKey() != "c1" {
		t.Fatalf("expected condition id as singleton event key, got %q", m.EventKey())
	}
	m.EventSlug = "election-2026"
	if m.EventKey() != "election-2026" {
		t.Fatalf("expected event slug key, got %q", m.EventKey())
	}
}

func TestWinRateZeroWithoutClosedPairs(t *testing.T) {
	var f WalletFeatures
	if f.WinRate() != 0 {
		t.Fatalf("expected zero win rate with no pairs")
	}
	f.WinCount, f.LossCount = 3, 1
	if f.WinRate() != 0.75 {
		t.Fatalf("expected 0.75, got %v", f.WinRate())
	}
}
