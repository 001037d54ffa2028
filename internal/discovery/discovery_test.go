package discovery

import (
	"testing"

	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/model"
)

func TestUnionCandidatesDedupsHolderPriority(t *testing.T) {
	holders := []exchange.RawHolder{
		{ProxyWallet: "0xA", Amount: "100"},
		{ProxyWallet: "0xB", Amount: "50"},
	}
	trades := []exchange.RawTrade{
		{ProxyWallet: "0xA"}, // already a holder, should stay HOLDER
		{ProxyWallet: "0xC"}, // new, should be TRADER_RECENT
		{ProxyWallet: ""},    // ignored
	}

	got := unionCandidates(holders, trades)

	if len(got) != 3 {
		t.Fatalf("expected 3 unioned candidates, got %d", len(got))
	}
	if got["0xA"].source != model.DiscoveryHolder {
		t.Errorf("expected 0xA to keep HOLDER source, got %s", got["0xA"].source)
	}
	if got["0xB"].source != model.DiscoveryHolder {
		t.Errorf("expected 0xB to be HOLDER source, got %s", got["0xB"].source)
	}
	if got["0xC"].source != model.DiscoveryTraderRecent {
		t.Errorf("expected 0xC to be TRADER_RECENT source, got %s", got["0xC"].source)
	}
	if _, ok := got[""]; ok {
		t.Error("expected empty wallet address to be ignored")
	}
}

func TestUnionCandidatesEmptyInputs(t *testing.T) {
	got := unionCandidates(nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
