// Package liverouter is the hand-off boundary to the optional live-trading
// path. It does not implement exchange-side matching, settlement, or fill
// tracking; it only builds and submits a signed market order for a wallet
// the rules engine has kept in the Approved state. Everything upstream of
// order submission (risk gates, sizing, persona gating) is unchanged; this
// is strictly an additional side effect alongside the paper-trade ledger,
// never a replacement for it.
package liverouter

import (
	"context"
	"fmt"
	"strings"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
)

// PolygonChainID is the EVM chain the exchange's CLOB contracts are
// deployed on.
const PolygonChainID = 137

// Router is what the wallet engine needs to hand a mirrored trade off to
// live execution. Implementations must be safe for concurrent use by
// multiple watchers.
type Router interface {
	// PlaceMarketOrder submits a fill-and-kill market order sized in USDC
	// notional for the given token/side. Returns the exchange order ID on
	// acceptance.
	PlaceMarketOrder(ctx context.Context, tokenID string, side string, amountUSDC float64) (orderID string, err error)
}

// Disabled is the default Router: every call is rejected without
// attempting network I/O. Used whenever live trading is off, so callers
// can unconditionally hold a non-nil Router.
type Disabled struct{}

func (Disabled) PlaceMarketOrder(context.Context, string, string, float64) (string, error) {
	return "", fmt.Errorf("liverouter: live trading disabled")
}

// Credentials are the operator-supplied signing and API keys. All fields
// are required for SDKRouter except the builder attribution ones.
type Credentials struct {
	PrivateKey        string
	APIKey            string
	APISecret         string
	APIPassphrase     string
	BuilderKey        string
	BuilderSecret     string
	BuilderPassphrase string
}

// SDKRouter places real orders against the exchange CLOB via
// polymarket-go-sdk.
type SDKRouter struct {
	clobClient clob.Client
	signer     auth.Signer
}

// NewSDKRouter authenticates a CLOB client from the given credentials.
// Builder attribution is attached only when both builder fields are set.
func NewSDKRouter(creds Credentials) (*SDKRouter, error) {
	signer, err := auth.NewPrivateKeySigner(strings.TrimSpace(creds.PrivateKey), PolygonChainID)
	if err != nil {
		return nil, fmt.Errorf("liverouter: signer: %w", err)
	}

	apiKey := &auth.APIKey{
		Key:        strings.TrimSpace(creds.APIKey),
		Secret:     strings.TrimSpace(creds.APISecret),
		Passphrase: strings.TrimSpace(creds.APIPassphrase),
	}

	sdkClient := polymarket.NewClient()
	clobClient := sdkClient.CLOB.WithAuth(signer, apiKey)

	if creds.BuilderKey != "" && creds.BuilderSecret != "" {
		clobClient = clobClient.WithBuilderConfig(&auth.BuilderConfig{
			Local: &auth.BuilderCredentials{
				Key:        strings.TrimSpace(creds.BuilderKey),
				Secret:     strings.TrimSpace(creds.BuilderSecret),
				Passphrase: strings.TrimSpace(creds.BuilderPassphrase),
			},
		})
	}

	return &SDKRouter{clobClient: clobClient, signer: signer}, nil
}

// PlaceMarketOrder builds a fill-and-kill market order and submits it
// signed. A non-2xx or rejected response surfaces as an error; the
// caller (the wallet engine) logs and continues rather than treating it
// as fatal, exactly like a risk rejection.
func (r *SDKRouter) PlaceMarketOrder(ctx context.Context, tokenID string, side string, amountUSDC float64) (string, error) {
	builder := clob.NewOrderBuilder(r.clobClient, r.signer).
		TokenID(tokenID).
		Side(side).
		AmountUSDC(amountUSDC).
		OrderType(clobtypes.OrderTypeFAK)

	signable, err := builder.BuildMarketWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("liverouter: build market order: %w", err)
	}
	resp, err := r.clobClient.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return "", fmt.Errorf("liverouter: submit market order: %w", err)
	}
	return resp.ID, nil
}
