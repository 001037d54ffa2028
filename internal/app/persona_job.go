package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/persona"
)

// runPersonaClassification is the classification job runner: classify every wallet's
// latest primary-window feature row and persist the exclusion or persona
// outcome.
func (a *App) runPersonaClassification(ctx context.Context) error {
	rows, err := a.latestFeatureRows(ctx, a.primaryWindowDays())
	if err != nil {
		return err
	}

	cfg := a.cfg.PersonaClassifyConfig()
	processed, classified := 0, 0

	for _, f := range rows {
		processed++
		pf := persona.Features{WalletFeatures: f}
		pf.ROI, pf.MaxLoss, pf.AvgWin = roiMaxLossAvgWin(f)

		result := persona.Classify(pf, cfg)
		switch result.Kind {
		case persona.Excluded:
			if err := a.persistExclusion(ctx, f.ProxyWallet, result); err != nil {
				a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("exclusion persist failed, continuing batch")
				continue
			}
		case persona.Followable:
			if err := a.persistPersona(ctx, f.ProxyWallet, result); err != nil {
				a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("persona persist failed, continuing batch")
				continue
			}
		default:
			continue
		}
		classified++
		a.bus.PublishPipeline(eventbus.WalletsClassified{WalletAddress: f.ProxyWallet, ClassifiedAt: time.Now().UTC()})
	}

	return recordRunStats(ctx, a.gw, "persona_classification", processed, classified, true)
}

// primaryWindowDays is the widest configured observation window, used as
// the stable basis for persona/wallet-score classification.
func (a *App) primaryWindowDays() int {
	best := 0
	for _, w := range a.cfg.Features.WindowsDays {
		if w > best {
			best = w
		}
	}
	if best == 0 {
		best = 30
	}
	return best
}

// roiMaxLossAvgWin derives the three inputs persona classification needs
// beyond the raw feature row, using the same bankroll-proxy heuristic as
// walletscore.FromFeatures. wallet_features_daily has no gross-win/gross-loss
// split, so MaxLoss and AvgWin are approximated from the aggregate win/loss
// counts and net PnL; a heuristic, not a precise per-trade maximum.
func roiMaxLossAvgWin(f model.WalletFeatures) (roi, maxLoss, avgWin float64) {
	bankrollProxy := f.AvgTradeSizeUSDC * float64(f.TradeCount)
	if bankrollProxy > 0 {
		roi = f.TotalPnl / bankrollProxy
	}
	if f.WinCount > 0 && f.TotalPnl > 0 {
		avgWin = f.TotalPnl / float64(f.WinCount)
	}
	if f.LossCount > 0 && f.TotalPnl < 0 {
		maxLoss = -f.TotalPnl / float64(f.LossCount)
	}
	return roi, maxLoss, avgWin
}

func (a *App) latestFeatureRows(ctx context.Context, windowDays int) ([]model.WalletFeatures, error) {
	var rows []model.WalletFeatures
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		r, err := db.QueryContext(ctx, `
			SELECT proxy_wallet, feature_date, window_days, trade_count, unique_markets, trades_per_day,
				trades_per_week, win_count, loss_count, total_pnl, avg_hold_time_hours, max_drawdown_pct,
				sharpe_ratio, active_positions, concentration_ratio, avg_trade_size_usdc, size_cv,
				buy_sell_balance, mid_fill_ratio, extreme_price_ratio, burstiness_top_1h_ratio, top_domain,
				top_domain_ratio, profitable_markets, wallet_age_days, days_since_last_trade
			FROM wallet_features_daily
			WHERE window_days = ? AND feature_date = (SELECT MAX(feature_date) FROM wallet_features_daily WHERE window_days = ?)
		`, windowDays, windowDays)
		if err != nil {
			return err
		}
		defer r.Close()
		for r.Next() {
			var f model.WalletFeatures
			var topDomain sql.NullString
			if err := r.Scan(&f.ProxyWallet, &f.FeatureDate, &f.WindowDays, &f.TradeCount, &f.UniqueMarkets, &f.TradesPerDay,
				&f.TradesPerWeek, &f.WinCount, &f.LossCount, &f.TotalPnl, &f.AvgHoldTimeHours, &f.MaxDrawdownPct,
				&f.SharpeRatio, &f.ActivePositions, &f.ConcentrationRatio, &f.AvgTradeSizeUSDC, &f.SizeCV,
				&f.BuySellBalance, &f.MidFillRatio, &f.ExtremePriceRatio, &f.BurstinessTop1hRatio, &topDomain,
				&f.TopDomainRatio, &f.ProfitableMarkets, &f.WalletAgeDays, &f.DaysSinceLastTrade); err != nil {
				return err
			}
			f.TopDomain = topDomain.String
			rows = append(rows, f)
		}
		return r.Err()
	})
	return rows, err
}

func (a *App) persistExclusion(ctx context.Context, wallet string, r persona.Result) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_exclusions (proxy_wallet, reason, metric_value, threshold, excluded_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(proxy_wallet, reason) DO UPDATE SET metric_value = excluded.metric_value, threshold = excluded.threshold, excluded_at = excluded.excluded_at
		`, wallet, string(r.Exclusion), r.MetricValue, r.Threshold, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

func (a *App) persistPersona(ctx context.Context, wallet string, r persona.Result) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_personas (proxy_wallet, persona, confidence, classified_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET persona = excluded.persona, confidence = excluded.confidence, classified_at = excluded.classified_at
		`, wallet, string(r.Persona), r.Confidence, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}
