package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/features"
	"github.com/polysignal/copytrader/internal/model"
)

// runFeatureComputation is the feature job runner: for every active wallet and
// every configured observation window, gather local trades/positions and
// call features.Compute, then persist wallet_features_daily.
func (a *App) runFeatureComputation(ctx context.Context) error {
	wallets, err := a.activeWallets(ctx)
	if err != nil {
		return err
	}

	windows := a.cfg.Features.WindowsDays
	if len(windows) == 0 {
		windows = []int{30}
	}

	now := time.Now().UTC()
	featureDate := now.Format("2006-01-02")
	processed, inserted := 0, 0

	for _, wallet := range wallets {
		ageDays, sinceLastDays, hasTrades, err := a.walletAgeAndRecency(ctx, wallet, now)
		if err != nil {
			a.log.Warn().Str("wallet", wallet).Err(err).Msg("wallet age lookup failed, continuing batch")
			continue
		}
		if !hasTrades {
			continue
		}
		processed++

		for _, window := range windows {
			trades, err := a.tradesInWindow(ctx, wallet, window, now)
			if err != nil {
				a.log.Warn().Str("wallet", wallet).Int("window_days", window).Err(err).Msg("window trade fetch failed, continuing batch")
				continue
			}
			positions, err := a.latestPositions(ctx, wallet)
			if err != nil {
				a.log.Warn().Str("wallet", wallet).Err(err).Msg("latest positions fetch failed, continuing batch")
				continue
			}
			categories, err := a.categoriesFor(ctx, trades)
			if err != nil {
				a.log.Warn().Str("wallet", wallet).Err(err).Msg("category lookup failed, continuing batch")
				continue
			}

			f := features.Compute(features.Input{
				ProxyWallet:         wallet,
				WindowDays:          window,
				Trades:              trades,
				LatestPositions:     positions,
				CategoryByCondition: categories,
				WalletAgeDays:       ageDays,
				DaysSinceLastTrade:  sinceLastDays,
			})
			f.FeatureDate = featureDate

			if err := a.persistWalletFeatures(ctx, f); err != nil {
				a.log.Warn().Str("wallet", wallet).Int("window_days", window).Err(err).Msg("feature persist failed, continuing batch")
				continue
			}
			inserted++
		}
	}

	if err := recordRunStats(ctx, a.gw, "feature_computation", processed, inserted, true); err != nil {
		a.log.Warn().Err(err).Msg("record run stats failed")
	}
	return nil
}

func (a *App) activeWallets(ctx context.Context) ([]string, error) {
	var wallets []string
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT proxy_wallet FROM wallets WHERE active = 1`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var w string
			if err := rows.Scan(&w); err != nil {
				return err
			}
			wallets = append(wallets, w)
		}
		return rows.Err()
	})
	return wallets, err
}

// walletAgeAndRecency derives wallet age and inactivity from the wallet's
// full raw_trades history: no registration date is tracked anywhere, so the
// first observed trade stands in for it.
func (a *App) walletAgeAndRecency(ctx context.Context, wallet string, now time.Time) (ageDays, sinceLastDays float64, hasTrades bool, err error) {
	var first, last sql.NullInt64
	err = a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT MIN(ts), MAX(ts) FROM raw_trades WHERE proxy_wallet = ?`, wallet)
		return row.Scan(&first, &last)
	})
	if err != nil || !first.Valid {
		return 0, 0, false, err
	}
	ageDays = now.Sub(time.Unix(first.Int64, 0).UTC()).Hours() / 24
	sinceLastDays = now.Sub(time.Unix(last.Int64, 0).UTC()).Hours() / 24
	return ageDays, sinceLastDays, true, nil
}

func (a *App) tradesInWindow(ctx context.Context, wallet string, windowDays int, now time.Time) ([]model.Trade, error) {
	cutoff := now.AddDate(0, 0, -windowDays).Unix()
	var trades []model.Trade
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, tx_hash, proxy_wallet, condition_id, outcome, outcome_index, side, size, price, ts
			FROM raw_trades WHERE proxy_wallet = ? AND ts >= ?
		`, wallet, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t model.Trade
			var ts int64
			var side string
			if err := rows.Scan(&t.ID, &t.TxHash, &t.ProxyWallet, &t.ConditionID, &t.Outcome, &t.OutcomeIndex, &side, &t.Size, &t.Price, &ts); err != nil {
				return err
			}
			t.Side = model.Side(side)
			t.Timestamp = time.Unix(ts, 0).UTC()
			trades = append(trades, t)
		}
		return rows.Err()
	})
	return trades, err
}

func (a *App) latestPositions(ctx context.Context, wallet string) ([]model.PositionSnapshot, error) {
	var positions []model.PositionSnapshot
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT condition_id, size, taken_at FROM position_snapshots
			WHERE proxy_wallet = ? AND taken_at = (SELECT MAX(taken_at) FROM position_snapshots WHERE proxy_wallet = ?)
		`, wallet, wallet)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p model.PositionSnapshot
			var takenAt string
			p.ProxyWallet = wallet
			if err := rows.Scan(&p.ConditionID, &p.Size, &takenAt); err != nil {
				return err
			}
			p.TakenAt, _ = time.Parse(time.RFC3339, takenAt)
			positions = append(positions, p)
		}
		return rows.Err()
	})
	return positions, err
}

func (a *App) categoriesFor(ctx context.Context, trades []model.Trade) (map[string]string, error) {
	seen := make(map[string]struct{})
	for _, t := range trades {
		seen[t.ConditionID] = struct{}{}
	}
	categories := make(map[string]string, len(seen))
	for cid := range seen {
		var cat sql.NullString
		err := a.gw.Call(ctx, func(db *sql.DB) error {
			row := db.QueryRowContext(ctx, `SELECT category FROM markets WHERE condition_id = ?`, cid)
			err := row.Scan(&cat)
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		})
		if err != nil {
			return categories, err
		}
		if cat.Valid {
			categories[cid] = cat.String
		}
	}
	return categories, nil
}

func (a *App) persistWalletFeatures(ctx context.Context, f model.WalletFeatures) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_features_daily (
				proxy_wallet, feature_date, window_days, trade_count, unique_markets, trades_per_day,
				trades_per_week, win_count, loss_count, total_pnl, avg_hold_time_hours, max_drawdown_pct,
				sharpe_ratio, active_positions, concentration_ratio, avg_trade_size_usdc, size_cv,
				buy_sell_balance, mid_fill_ratio, extreme_price_ratio, burstiness_top_1h_ratio, top_domain,
				top_domain_ratio, profitable_markets, wallet_age_days, days_since_last_trade
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(proxy_wallet, feature_date, window_days) DO UPDATE SET
				trade_count = excluded.trade_count,
				unique_markets = excluded.unique_markets,
				trades_per_day = excluded.trades_per_day,
				trades_per_week = excluded.trades_per_week,
				win_count = excluded.win_count,
				loss_count = excluded.loss_count,
				total_pnl = excluded.total_pnl,
				avg_hold_time_hours = excluded.avg_hold_time_hours,
				max_drawdown_pct = excluded.max_drawdown_pct,
				sharpe_ratio = excluded.sharpe_ratio,
				active_positions = excluded.active_positions,
				concentration_ratio = excluded.concentration_ratio,
				avg_trade_size_usdc = excluded.avg_trade_size_usdc,
				size_cv = excluded.size_cv,
				buy_sell_balance = excluded.buy_sell_balance,
				mid_fill_ratio = excluded.mid_fill_ratio,
				extreme_price_ratio = excluded.extreme_price_ratio,
				burstiness_top_1h_ratio = excluded.burstiness_top_1h_ratio,
				top_domain = excluded.top_domain,
				top_domain_ratio = excluded.top_domain_ratio,
				profitable_markets = excluded.profitable_markets,
				wallet_age_days = excluded.wallet_age_days,
				days_since_last_trade = excluded.days_since_last_trade
		`, f.ProxyWallet, f.FeatureDate, f.WindowDays, f.TradeCount, f.UniqueMarkets, f.TradesPerDay,
			f.TradesPerWeek, f.WinCount, f.LossCount, f.TotalPnl, f.AvgHoldTimeHours, f.MaxDrawdownPct,
			f.SharpeRatio, f.ActivePositions, f.ConcentrationRatio, f.AvgTradeSizeUSDC, f.SizeCV,
			f.BuySellBalance, f.MidFillRatio, f.ExtremePriceRatio, f.BurstinessTop1hRatio, f.TopDomain,
			f.TopDomainRatio, f.ProfitableMarkets, f.WalletAgeDays, f.DaysSinceLastTrade)
		return err
	})
}
