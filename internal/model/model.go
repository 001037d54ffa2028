// Package model holds the entity shapes shared across the pipeline and the
// wallet engine. These mirror the store's table layout (see internal/store)
// without pulling SQL concerns into every consumer.
package model

import "time"

// DiscoverySource records how a wallet entered the watchlist.
type DiscoverySource string

const (
	DiscoveryHolder      DiscoverySource = "HOLDER"
	DiscoveryTraderRecent DiscoverySource = "TRADER_RECENT"
	DiscoveryLeaderboard DiscoverySource = "LEADERBOARD"
)

// Market is a single outcome condition at the exchange.
type Market struct {
	ConditionID string
	EventSlug   string
	Title       string
	Category    string
	Liquidity   float64
	Volume24h   float64
	EndDate     time.Time
	Closed      bool
	OutcomePrices []float64
	IsCrypto15m bool
}

// EventKey returns the logical grouping key for a market: its event slug,
// or the condition id when the market has no slug (a singleton event).
func (m Market) EventKey() string {
	if m.EventSlug != "" {
		return m.EventSlug
	}
	return m.ConditionID
}

// Wallet is a discovered proxy address.
type Wallet struct {
	ProxyWallet   string
	DiscoveredFrom DiscoverySource
	DiscoveredAt  time.Time
	DiscoveryMarket string
	Active        bool
	LastUpdated   time.Time
}

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a single raw fill reported by the exchange.
type Trade struct {
	ID            int64
	TxHash        string
	ProxyWallet   string
	ConditionID   string
	Outcome       string
	OutcomeIndex  int
	Side          Side
	Size          float64
	Price         float64
	Timestamp     time.Time
}

// Identity derives the trade's dedup key: prefer its own
// id, fall back to the transaction hash, then a composite key.
func (t Trade) Identity() string {
	if t.ID != 0 {
		return itoa(t.ID)
	}
	if t.TxHash != "" {
		return t.TxHash
	}
	return t.ProxyWallet + "-" + t.ConditionID + "-" + t.Timestamp.Format(time.RFC3339Nano) + "-" + string(t.Side)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// HolderSnapshot is one row of a market's holder distribution.
type HolderSnapshot struct {
	ConditionID string
	ProxyWallet string
	Amount      float64
	TakenAt     time.Time
}

// PositionSnapshot is a point-in-time view of a wallet's open position.
type PositionSnapshot struct {
	ProxyWallet string
	ConditionID string
	Size        float64
	TakenAt     time.Time
}

// MarketScore is the persisted daily score row.
type MarketScore struct {
	ConditionID    string
	ScoreDate      string
	MScore         float64
	LiquidityScore float64
	VolumeScore    float64
	DensityScore   float64
	WhaleScore     float64
	TimeScore      float64
	ActivityGate   float64
	EventRank      int
}

// WalletFeatures is the persisted per-window feature row.
type WalletFeatures struct {
	ProxyWallet   string
	FeatureDate   string
	WindowDays    int

	TradeCount          int
	UniqueMarkets        int
	TradesPerDay         float64
	TradesPerWeek        float64
	WinCount             int
	LossCount            int
	TotalPnl             float64
	AvgHoldTimeHours     float64
	MaxDrawdownPct       float64
	SharpeRatio          float64
	ActivePositions      int
	ConcentrationRatio   float64
	AvgTradeSizeUSDC     float64
	SizeCV               float64
	BuySellBalance       float64
	MidFillRatio         float64
	ExtremePriceRatio    float64
	BurstinessTop1hRatio float64
	TopDomain            string
	TopDomainRatio       float64
	ProfitableMarkets    int

	WalletAgeDays      float64
	DaysSinceLastTrade float64
}

// WinRate is wins / (wins+losses), 0 when there are no closed pairs.
func (f WalletFeatures) WinRate() float64 {
	total := f.WinCount + f.LossCount
	if total == 0 {
		return 0
	}
	return float64(f.WinCount) / float64(total)
}

// Persona is a followable classification.
type Persona string

const (
	PersonaInformedSpecialist   Persona = "INFORMED_SPECIALIST"
	PersonaConsistentGeneralist Persona = "CONSISTENT_GENERALIST"
	PersonaPatientAccumulator   Persona = "PATIENT_ACCUMULATOR"
)

// FollowMode maps a persona to its recommended mirroring cadence.
func (p Persona) FollowMode() string {
	switch p {
	case PersonaInformedSpecialist:
		return "mirror_with_delay"
	case PersonaPatientAccumulator:
		return "mirror_slow"
	default:
		return "mirror"
	}
}

// ExclusionReason is a Stage-2 exclusion category.
type ExclusionReason string

const (
	ExclusionSniperInsider  ExclusionReason = "SNIPER_INSIDER"
	ExclusionNoiseTrader    ExclusionReason = "NOISE_TRADER"
	ExclusionTailRiskSeller ExclusionReason = "TAIL_RISK_SELLER"
	ExclusionExecutionMaster ExclusionReason = "EXECUTION_MASTER"
	ExclusionStage1TooYoung ExclusionReason = "STAGE1_TOO_YOUNG"
	ExclusionStage1TooFewTrades ExclusionReason = "STAGE1_TOO_FEW_TRADES"
	ExclusionStage1Inactive ExclusionReason = "STAGE1_INACTIVE"
)

// WalletRuleState is a node in the wallet-rules state machine.
type WalletRuleState string

const (
	StateCandidate    WalletRuleState = "CANDIDATE"
	StatePaperTrading WalletRuleState = "PAPER_TRADING"
	StateApproved     WalletRuleState = "APPROVED"
	StateStopped      WalletRuleState = "STOPPED"
)

// WalletEngineStatus is the wallet engine's lifecycle state for a followed
// wallet, independent of the wallet-rules state machine.
type WalletEngineStatus string

const (
	EngineActive  WalletEngineStatus = "active"
	EnginePaused  WalletEngineStatus = "paused"
	EngineKilled  WalletEngineStatus = "killed"
	EngineRemoved WalletEngineStatus = "removed"
)

// PaperTradeStatus tracks a mirrored trade's lifecycle.
type PaperTradeStatus string

const (
	PaperOpen        PaperTradeStatus = "open"
	PaperSettledWin  PaperTradeStatus = "settled_win"
	PaperSettledLoss PaperTradeStatus = "settled_loss"
)
