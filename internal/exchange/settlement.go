package exchange

import "strconv"

// SettlementOutcome is the resolved side of a settled market.
type SettlementOutcome int

const (
	NotResolved SettlementOutcome = iota
	ResolvedYes
	ResolvedNo
)

// Resolved reports whether m is settled: closed and the Yes-outcome price
// (outcomePrices[0]) at or above 0.99, or at or below 0.01 for No.
// Multi-outcome markets (outcomeIndex > 0) are not handled here;
// settlement is evaluated on the Yes price only.
func (m RawMarket) Resolved() SettlementOutcome {
	if !m.Closed || len(m.OutcomePrices) == 0 {
		return NotResolved
	}
	p, err := strconv.ParseFloat(string(m.OutcomePrices[0]), 64)
	if err != nil {
		return NotResolved
	}
	switch {
	case p >= 0.99:
		return ResolvedYes
	case p <= 0.01:
		return ResolvedNo
	default:
		return NotResolved
	}
}
