// Package papermirror is the trade-triggered paper position engine:
// slippage, the crypto-15m taker fee, and the portfolio/daily/exposure risk
// gates that decide whether a followed wallet's trade gets mirrored.
package papermirror

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
)

// Config holds the bankroll and risk-gate parameters for one strategy.
type Config struct {
	Strategy                 string
	BankrollUSDC             float64
	SlippagePct              float64
	MaxExposurePerMarketPct  float64
	MaxExposurePerWalletPct  float64
	MaxDailyTrades           int
	PortfolioStopDrawdownPct float64
}

// Decision is the outcome of one mirror attempt.
type Decision struct {
	Inserted bool
	Reason   string // empty when Inserted
}

// Engine mirrors triggering trades into the paper_trades/paper_positions
// tables, enforcing the portfolio/daily/exposure gate sequence.
type Engine struct {
	gw  *store.Gateway
	cfg Config
}

// New constructs an Engine bound to a store gateway.
func New(gw *store.Gateway, cfg Config) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = "mirror"
	}
	return &Engine{gw: gw, cfg: cfg}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// applySlippage generalizes the simulator's slippage helper to BUY-up/
// SELL-down and clamps to a valid price.
func applySlippage(price float64, side model.Side, slippagePct float64) float64 {
	factor := slippagePct / 100
	var adjusted float64
	if side == model.SideBuy {
		adjusted = price * (1 + factor)
	} else {
		adjusted = price * (1 - factor)
	}
	return clamp01(adjusted)
}

// cryptoTakerFee is the quartic taker-fee model applied only to crypto-15m
// markets: fee = p * 0.25 * (p*(1-p))^2.
func cryptoTakerFee(price float64) float64 {
	pq := price * (1 - price)
	return price * 0.25 * pq * pq
}

func (e *Engine) realizedPnlUSDC(ctx context.Context, db *sql.DB) (float64, error) {
	var v sql.NullFloat64
	row := db.QueryRowContext(ctx, `SELECT SUM(pnl) FROM paper_trades WHERE strategy = ? AND status != 'open'`, e.cfg.Strategy)
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v.Float64, nil
}

func (e *Engine) todayTradeCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paper_trades WHERE strategy = ? AND date(created_at) = date('now')`, e.cfg.Strategy)
	return n, row.Scan(&n)
}

func (e *Engine) marketExposureUSDC(ctx context.Context, db *sql.DB, conditionID string) (float64, error) {
	var v sql.NullFloat64
	row := db.QueryRowContext(ctx, `SELECT SUM(total_size_usdc) FROM paper_positions WHERE condition_id = ?`, conditionID)
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v.Float64, nil
}

func (e *Engine) walletExposureUSDC(ctx context.Context, db *sql.DB, wallet string) (float64, error) {
	var v sql.NullFloat64
	row := db.QueryRowContext(ctx, `SELECT SUM(total_size_usdc) FROM paper_positions WHERE proxy_wallet = ? AND strategy = ?`, wallet, e.cfg.Strategy)
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v.Float64, nil
}

func (e *Engine) upsertPosition(ctx context.Context, db *sql.DB, wallet, conditionID string, side model.Side, addSize, entryPrice float64) error {
	var id int64
	var totalSize, avgEntry float64
	row := db.QueryRowContext(ctx, `
		SELECT id, total_size_usdc, avg_entry_price FROM paper_positions
		WHERE proxy_wallet = ? AND strategy = ? AND condition_id = ? AND side = ?
	`, wallet, e.cfg.Strategy, conditionID, string(side))
	err := row.Scan(&id, &totalSize, &avgEntry)
	now := time.Now().UTC().Format(time.RFC3339)

	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, `
			INSERT INTO paper_positions (proxy_wallet, strategy, condition_id, side, total_size_usdc, avg_entry_price, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, wallet, e.cfg.Strategy, conditionID, string(side), addSize, entryPrice, now)
		return err
	case err != nil:
		return err
	default:
		newTotal := totalSize + addSize
		newAvg := entryPrice
		if newTotal > 0 {
			newAvg = (totalSize*avgEntry + addSize*entryPrice) / newTotal
		}
		_, err = db.ExecContext(ctx, `
			UPDATE paper_positions SET total_size_usdc = ?, avg_entry_price = ?, last_updated_at = ? WHERE id = ?
		`, newTotal, newAvg, now, id)
		return err
	}
}

// MirrorTrade runs the full gate sequence for one triggering trade and, on
// success, inserts a paper_trades row and upserts the paper_positions
// aggregate. triggeredByTradeID must be unique per raw trade (idempotency).
func (e *Engine) MirrorTrade(ctx context.Context, wallet, conditionID string, side model.Side, outcome string, outcomeIndex int, observedPrice float64, triggeredByTradeID int64, positionSizeUSDC float64, isCrypto15m bool) (Decision, error) {
	if positionSizeUSDC <= 0 {
		return Decision{}, fmt.Errorf("papermirror: position size must be positive")
	}

	var decision Decision
	err := e.gw.Call(ctx, func(db *sql.DB) error {
		realized, err := e.realizedPnlUSDC(ctx, db)
		if err != nil {
			return err
		}
		stopUSDC := e.cfg.BankrollUSDC * (e.cfg.PortfolioStopDrawdownPct / 100)
		if realized < 0 && math.Abs(realized) > stopUSDC {
			decision = Decision{Inserted: false, Reason: "portfolio_stop"}
			return nil
		}

		todayCount, err := e.todayTradeCount(ctx, db)
		if err != nil {
			return err
		}
		if todayCount >= e.cfg.MaxDailyTrades {
			decision = Decision{Inserted: false, Reason: "max_daily_trades"}
			return nil
		}

		marketCap := e.cfg.BankrollUSDC * (e.cfg.MaxExposurePerMarketPct / 100)
		marketExposure, err := e.marketExposureUSDC(ctx, db, conditionID)
		if err != nil {
			return err
		}
		if marketExposure+positionSizeUSDC > marketCap {
			decision = Decision{Inserted: false, Reason: "market_exposure_cap"}
			return nil
		}

		walletCap := e.cfg.BankrollUSDC * (e.cfg.MaxExposurePerWalletPct / 100)
		walletExposure, err := e.walletExposureUSDC(ctx, db, wallet)
		if err != nil {
			return err
		}
		if walletExposure+positionSizeUSDC > walletCap {
			decision = Decision{Inserted: false, Reason: "wallet_exposure_cap"}
			return nil
		}

		entryPrice := applySlippage(observedPrice, side, e.cfg.SlippagePct)
		fee := 0.0
		if isCrypto15m {
			fee = cryptoTakerFee(entryPrice)
		}

		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO paper_trades
				(proxy_wallet, strategy, condition_id, side, outcome, outcome_index, size_usdc, entry_price, slippage_applied, fee_applied, triggered_by_trade_id, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?)
		`, wallet, e.cfg.Strategy, conditionID, string(side), outcome, outcomeIndex, positionSizeUSDC, entryPrice, e.cfg.SlippagePct, fee, triggeredByTradeID, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// This raw trade was already mirrored; re-running is a no-op.
			decision = Decision{Inserted: false, Reason: "already_mirrored"}
			return nil
		}

		if err := e.upsertPosition(ctx, db, wallet, conditionID, side, positionSizeUSDC, entryPrice); err != nil {
			return err
		}
		decision = Decision{Inserted: true}
		return nil
	})
	return decision, err
}

// LogCopyFidelity records one mirror attempt's outcome to the copy-fidelity
// stream: COPIED on success, SKIPPED_<reason>
// otherwise.
func (e *Engine) LogCopyFidelity(ctx context.Context, wallet, conditionID string, d Decision) error {
	outcome := "COPIED"
	reason := ""
	if !d.Inserted {
		outcome = "SKIPPED_" + d.Reason
		reason = d.Reason
	}
	return e.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO copy_fidelity_log (proxy_wallet, condition_id, outcome, reason, logged_at)
			VALUES (?, ?, ?, ?, ?)
		`, wallet, conditionID, outcome, reason, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}
