// Package risk implements the shared risk manager: portfolio- and
// wallet-level exposure/loss/drawdown gates plus a global halt flag,
// consulted by every wallet-engine watcher before a live or paper mirror.
package risk

import (
	"sync"
	"time"
)

// Reason tags a rejection with the gate that fired.
type Reason string

const (
	ReasonGlobalHalt              Reason = "global_halt"
	ReasonPortfolioExposureCap    Reason = "portfolio_exposure_cap"
	ReasonPortfolioDailyLossCap   Reason = "portfolio_daily_loss_cap"
	ReasonPortfolioWeeklyLossCap  Reason = "portfolio_weekly_loss_cap"
	ReasonPortfolioMaxPositions   Reason = "portfolio_max_positions"
	ReasonWalletExposureCap       Reason = "wallet_exposure_cap"
	ReasonWalletDailyLossCap      Reason = "wallet_daily_loss_cap"
	ReasonWalletWeeklyLossCap     Reason = "wallet_weekly_loss_cap"
	ReasonWalletDrawdownCap       Reason = "wallet_drawdown_cap"
	ReasonWalletCooldown          Reason = "wallet_cooldown"
)

// Decision is the {allow, reason, current vs. limit} result of CheckTrade.
type Decision struct {
	Allow   bool
	Reason  Reason
	Current float64
	Limit   float64
}

func allow() Decision { return Decision{Allow: true} }

func reject(reason Reason, current, limit float64) Decision {
	return Decision{Allow: false, Reason: reason, Current: current, Limit: limit}
}

// PortfolioConfig bounds aggregate exposure across all followed wallets.
type PortfolioConfig struct {
	ExposureCapUSDC        float64
	DailyLossCapUSDC       float64
	WeeklyLossCapUSDC      float64
	MaxConcurrentPositions int
}

// WalletConfig bounds a single followed wallet's mirrored exposure.
type WalletConfig struct {
	ExposureCapUSDC   float64
	DailyLossCapUSDC  float64
	WeeklyLossCapUSDC float64
	MaxDrawdownPct    float64

	// After MaxConsecutiveLosses losing settlements in a row the wallet is
	// benched for CooldownDuration. 0 disables the gate.
	MaxConsecutiveLosses int
	CooldownDuration     time.Duration
}

// Config is the full runtime-updatable risk configuration.
type Config struct {
	Portfolio PortfolioConfig
	Wallet    WalletConfig
}

type walletState struct {
	exposure  float64
	dailyPnL  float64
	weeklyPnL float64
	peakPnL   float64
	currentPnL float64

	consecutiveLosses int
	cooldownUntil     time.Time
}

// Manager holds shared, runtime-updatable risk state: one instance serves
// every wallet-engine watcher task.
type Manager struct {
	mu                sync.RWMutex
	cfg               Config
	halted            bool
	openPositions     int
	portfolioExposure float64
	portfolioDailyPnL float64
	portfolioWeeklyPnL float64
	wallets           map[string]*walletState
}

// New constructs a Manager with the given initial config.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, wallets: make(map[string]*walletState)}
}

// UpdateConfig swaps the runtime config under the write lock.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Halt sets the global halt flag, causing every subsequent CheckTrade to
// reject regardless of exposure state.
func (m *Manager) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
}

// Resume clears the global halt flag.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
}

func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

func (m *Manager) walletLocked(wallet string) *walletState {
	w, ok := m.wallets[wallet]
	if !ok {
		w = &walletState{}
		m.wallets[wallet] = w
	}
	return w
}

// CheckTrade runs the global halt check, then portfolio gates, then
// per-wallet gates, in that order, returning the first rejection.
func (m *Manager) CheckTrade(wallet string, tradeSizeUSD float64) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.halted {
		return reject(ReasonGlobalHalt, 1, 0)
	}

	pc := m.cfg.Portfolio
	if pc.ExposureCapUSDC > 0 && m.portfolioExposure+tradeSizeUSD > pc.ExposureCapUSDC {
		return reject(ReasonPortfolioExposureCap, m.portfolioExposure+tradeSizeUSD, pc.ExposureCapUSDC)
	}
	if pc.DailyLossCapUSDC > 0 && m.portfolioDailyPnL < 0 && -m.portfolioDailyPnL > pc.DailyLossCapUSDC {
		return reject(ReasonPortfolioDailyLossCap, -m.portfolioDailyPnL, pc.DailyLossCapUSDC)
	}
	if pc.WeeklyLossCapUSDC > 0 && m.portfolioWeeklyPnL < 0 && -m.portfolioWeeklyPnL > pc.WeeklyLossCapUSDC {
		return reject(ReasonPortfolioWeeklyLossCap, -m.portfolioWeeklyPnL, pc.WeeklyLossCapUSDC)
	}
	if pc.MaxConcurrentPositions > 0 && m.openPositions >= pc.MaxConcurrentPositions {
		return reject(ReasonPortfolioMaxPositions, float64(m.openPositions), float64(pc.MaxConcurrentPositions))
	}

	wc := m.cfg.Wallet
	w := m.wallets[wallet]
	if w == nil {
		w = &walletState{}
	}
	if wc.ExposureCapUSDC > 0 && w.exposure+tradeSizeUSD > wc.ExposureCapUSDC {
		return reject(ReasonWalletExposureCap, w.exposure+tradeSizeUSD, wc.ExposureCapUSDC)
	}
	if wc.DailyLossCapUSDC > 0 && w.dailyPnL < 0 && -w.dailyPnL > wc.DailyLossCapUSDC {
		return reject(ReasonWalletDailyLossCap, -w.dailyPnL, wc.DailyLossCapUSDC)
	}
	if wc.WeeklyLossCapUSDC > 0 && w.weeklyPnL < 0 && -w.weeklyPnL > wc.WeeklyLossCapUSDC {
		return reject(ReasonWalletWeeklyLossCap, -w.weeklyPnL, wc.WeeklyLossCapUSDC)
	}
	if wc.MaxDrawdownPct > 0 && w.peakPnL > 0 {
		drawdownPct := (w.peakPnL - w.currentPnL) / w.peakPnL * 100
		if drawdownPct > wc.MaxDrawdownPct {
			return reject(ReasonWalletDrawdownCap, drawdownPct, wc.MaxDrawdownPct)
		}
	}
	if wc.MaxConsecutiveLosses > 0 && time.Now().Before(w.cooldownUntil) {
		return reject(ReasonWalletCooldown, float64(w.consecutiveLosses), float64(wc.MaxConsecutiveLosses))
	}

	return allow()
}

// RecordFill updates wallet and portfolio exposure after a trade passes
// CheckTrade and is executed.
func (m *Manager) RecordFill(wallet string, sizeUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.walletLocked(wallet)
	w.exposure += sizeUSD
	m.portfolioExposure += sizeUSD
	m.openPositions++
}

// RecordSettlement applies a realized PnL delta to wallet and portfolio
// state, updates the wallet's peak PnL for drawdown tracking, and
// releases the matching exposure.
func (m *Manager) RecordSettlement(wallet string, pnlDelta, exposureReleaseUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.walletLocked(wallet)
	w.currentPnL += pnlDelta
	w.dailyPnL += pnlDelta
	w.weeklyPnL += pnlDelta
	if w.currentPnL > w.peakPnL {
		w.peakPnL = w.currentPnL
	}

	wc := m.cfg.Wallet
	switch {
	case pnlDelta < 0:
		w.consecutiveLosses++
		if wc.MaxConsecutiveLosses > 0 && w.consecutiveLosses >= wc.MaxConsecutiveLosses {
			w.cooldownUntil = time.Now().Add(wc.CooldownDuration)
			w.consecutiveLosses = 0
		}
	case pnlDelta > 0:
		w.consecutiveLosses = 0
	}
	w.exposure -= exposureReleaseUSD
	if w.exposure < 0 {
		w.exposure = 0
	}

	m.portfolioDailyPnL += pnlDelta
	m.portfolioWeeklyPnL += pnlDelta
	m.portfolioExposure -= exposureReleaseUSD
	if m.portfolioExposure < 0 {
		m.portfolioExposure = 0
	}
	if m.openPositions > 0 {
		m.openPositions--
	}
}

// ResetDaily clears daily PnL counters for all wallets and the portfolio;
// called by the trader process (TraderApp.Run) at UTC day rollover.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioDailyPnL = 0
	for _, w := range m.wallets {
		w.dailyPnL = 0
	}
}

// ResetWeekly clears weekly PnL counters.
func (m *Manager) ResetWeekly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioWeeklyPnL = 0
	for _, w := range m.wallets {
		w.weeklyPnL = 0
	}
}

// Snapshot is a read-only view of the manager's state for status reporting.
type Snapshot struct {
	Halted            bool
	OpenPositions     int
	PortfolioExposure float64
	PortfolioDailyPnL float64
	PortfolioWeeklyPnL float64
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Halted:             m.halted,
		OpenPositions:      m.openPositions,
		PortfolioExposure:  m.portfolioExposure,
		PortfolioDailyPnL:  m.portfolioDailyPnL,
		PortfolioWeeklyPnL: m.portfolioWeeklyPnL,
	}
}
