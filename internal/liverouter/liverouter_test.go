package liverouter

import (
	"context"
	"testing"
)

func TestDisabledRejectsEveryOrder(t *testing.T) {
	var r Router = Disabled{}
	if _, err := r.PlaceMarketOrder(context.Background(), "tok", "BUY", 25); err == nil {
		t.Fatal("expected Disabled to reject PlaceMarketOrder")
	}
}

func TestNewSDKRouterRejectsEmptyPrivateKey(t *testing.T) {
	if _, err := NewSDKRouter(Credentials{}); err == nil {
		t.Fatal("expected signer construction to fail on an empty private key")
	}
}
