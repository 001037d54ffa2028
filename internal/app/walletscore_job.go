package app

import (
	"context"
	"database/sql"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/walletscore"
)

// runWalletScoring is the wallet-scoring job runner: score every wallet's latest
// primary-window feature row and persist wallet_scores_daily.
func (a *App) runWalletScoring(ctx context.Context) error {
	window := a.primaryWindowDays()
	rows, err := a.latestFeatureRows(ctx, window)
	if err != nil {
		return err
	}

	weights := a.cfg.WalletScoreWeights()
	multipliers := a.cfg.WalletScoreMultipliers()
	inserted := 0

	for _, f := range rows {
		top500, err := a.isLeaderboardWallet(ctx, f.ProxyWallet)
		if err != nil {
			a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("leaderboard lookup failed, continuing batch")
			continue
		}
		in := walletscore.FromFeatures(f, top500)
		scored := walletscore.Compute(in, weights, multipliers)
		if p, ok, err := a.walletPersona(ctx, f.ProxyWallet); err == nil && ok {
			scored.FollowMode = p.FollowMode()
		}

		if err := a.persistWalletScore(ctx, f.ProxyWallet, f.FeatureDate, window, scored); err != nil {
			a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("wallet score persist failed, continuing batch")
			continue
		}
		inserted++
	}

	return recordRunStats(ctx, a.gw, "wallet_scoring", len(rows), inserted, true)
}

// isLeaderboardWallet approximates walletscore.Input.LeaderboardTop500:
// no leaderboard rank is stored, only the discovery source, so a wallet
// originally discovered via the leaderboard producer stands in for "is a
// well-known top trader".
func (a *App) isLeaderboardWallet(ctx context.Context, wallet string) (bool, error) {
	var source string
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT discovered_from FROM wallets WHERE proxy_wallet = ?`, wallet)
		err := row.Scan(&source)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	return source == "LEADERBOARD", err
}

// walletPersona returns the wallet's current followable persona, if any; the
// persona refines the recommended follow mode beyond the plain-mirror
// default.
func (a *App) walletPersona(ctx context.Context, wallet string) (model.Persona, bool, error) {
	var p string
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT persona FROM wallet_personas WHERE proxy_wallet = ?`, wallet)
		err := row.Scan(&p)
		if err == sql.ErrNoRows {
			p = ""
			return nil
		}
		return err
	})
	return model.Persona(p), p != "", err
}

func (a *App) persistWalletScore(ctx context.Context, wallet, scoreDate string, window int, s walletscore.Scored) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_scores_daily (proxy_wallet, score_date, window_days, wscore, edge_score, consistency_score, market_skill_score, timing_skill_score, behavior_quality_score, follow_mode)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(proxy_wallet, score_date, window_days) DO UPDATE SET
				wscore = excluded.wscore,
				edge_score = excluded.edge_score,
				consistency_score = excluded.consistency_score,
				market_skill_score = excluded.market_skill_score,
				timing_skill_score = excluded.timing_skill_score,
				behavior_quality_score = excluded.behavior_quality_score,
				follow_mode = excluded.follow_mode
		`, wallet, scoreDate, window, s.WScore, s.EdgeScore, s.ConsistencyScore, s.MarketSkillScore, s.TimingSkillScore, s.BehaviorQualityScore, s.FollowMode)
		return err
	})
}
