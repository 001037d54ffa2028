package papermirror

import (
	"testing"

	"github.com/polysignal/copytrader/internal/model"
)

func TestApplySlippageBuyMovesUp(t *testing.T) {
	got := applySlippage(0.50, model.SideBuy, 2)
	want := 0.51
	if diff := got - want; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplySlippageSellMovesDown(t *testing.T) {
	got := applySlippage(0.50, model.SideSell, 2)
	want := 0.49
	if diff := got - want; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplySlippageClampsToValidPrice(t *testing.T) {
	if got := applySlippage(0.99, model.SideBuy, 50); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := applySlippage(0.01, model.SideSell, 150); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}

func TestCryptoTakerFeeZeroAtExtremes(t *testing.T) {
	if got := cryptoTakerFee(0); got != 0 {
		t.Fatalf("expected zero fee at price 0, got %v", got)
	}
	if got := cryptoTakerFee(1); got != 0 {
		t.Fatalf("expected zero fee at price 1, got %v", got)
	}
}

func TestCryptoTakerFeePositiveMidRange(t *testing.T) {
	got := cryptoTakerFee(0.5)
	if got <= 0 {
		t.Fatalf("expected positive fee at price 0.5, got %v", got)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.5, 0.5},
		{1.5, 1},
	}
	for _, c := range cases {
		if got := clamp01(c.in); got != c.want {
			t.Errorf("clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
