package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/rules"
)

// runWalletRules is the rules job runner: drive every tracked wallet through
// the Candidate -> PaperTrading -> Approved -> Stopped state machine using
// the latest primary-window feature row, persisting each transition and
// publishing WalletRulesEvaluated.
func (a *App) runWalletRules(ctx context.Context) error {
	window := a.primaryWindowDays()
	rows, err := a.latestFeatureRows(ctx, window)
	if err != nil {
		return err
	}

	discoveryCfg := a.cfg.WalletRulesDiscoveryConfig()
	paperCfg := a.cfg.WalletRulesPaperConfig()
	liveCfg := a.cfg.WalletRulesLiveConfig()

	evaluated := 0
	for _, f := range rows {
		state, baseline, err := a.loadRuleState(ctx, f.ProxyWallet)
		if err != nil {
			a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("rule state load failed, continuing batch")
			continue
		}

		next := state
		var decision rules.Decision

		switch state {
		case model.StateCandidate:
			decision = rules.EvaluateDiscovery(f, discoveryCfg)
			if decision.Allow {
				next = model.StatePaperTrading
			} else {
				next = model.StateStopped
			}
		case model.StatePaperTrading:
			stats, err := a.paperWindowStats(ctx, f.ProxyWallet, paperCfg.PaperWindowDays)
			if err != nil {
				a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("paper window stats failed, continuing batch")
				continue
			}
			if stats.ClosedTradeCount < paperCfg.RequiredPaperTrades {
				// Not enough paper history yet; stay put without recording
				// a transition.
				continue
			}
			decision = rules.EvaluatePaper(stats, paperCfg)
			if decision.Allow {
				next = model.StateApproved
				baseline = rules.StyleSnapshotFromFeatures(f)
			} else {
				next = model.StateStopped
			}
		case model.StateApproved:
			decision = rules.EvaluateLive(rules.LiveContext{
				DaysSinceLastTrade: f.DaysSinceLastTrade,
				Drawdown90dPct:     f.MaxDrawdownPct,
				Current:            rules.StyleSnapshotFromFeatures(f),
				Baseline:           baseline,
			}, liveCfg)
			if !decision.Allow {
				next = model.StateStopped
			}
		case model.StateStopped:
			continue
		default:
			next = model.StateCandidate
		}

		if err := a.persistRuleState(ctx, f.ProxyWallet, next, baseline); err != nil {
			a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("rule state persist failed, continuing batch")
			continue
		}
		if err := a.persistRuleEvent(ctx, f.ProxyWallet, string(state), decision); err != nil {
			a.log.Warn().Str("wallet", f.ProxyWallet).Err(err).Msg("rule event persist failed")
		}
		evaluated++
		if next != state {
			a.bus.PublishPipeline(eventbus.WalletRulesEvaluated{WalletAddress: f.ProxyWallet, NewState: string(next), EvaluatedAt: time.Now().UTC()})
		}
	}

	return recordRunStats(ctx, a.gw, "wallet_rules", len(rows), evaluated, true)
}

func (a *App) loadRuleState(ctx context.Context, wallet string) (model.WalletRuleState, rules.StyleSnapshot, error) {
	var state sql.NullString
	var baselineJSON sql.NullString
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT state, baseline_style_json FROM wallet_rules_state WHERE proxy_wallet = ?`, wallet)
		err := row.Scan(&state, &baselineJSON)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return model.StateCandidate, rules.StyleSnapshot{}, err
	}
	if !state.Valid {
		return model.StateCandidate, rules.StyleSnapshot{}, nil
	}
	var baseline rules.StyleSnapshot
	if baselineJSON.Valid && baselineJSON.String != "" {
		_ = json.Unmarshal([]byte(baselineJSON.String), &baseline)
	}
	return model.WalletRuleState(state.String), baseline, nil
}

func (a *App) persistRuleState(ctx context.Context, wallet string, state model.WalletRuleState, baseline rules.StyleSnapshot) error {
	baselineJSON, err := json.Marshal(baseline)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_state (proxy_wallet, state, baseline_style_json, last_seen_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET state = excluded.state, baseline_style_json = excluded.baseline_style_json, last_seen_at = excluded.last_seen_at, updated_at = excluded.updated_at
		`, wallet, string(state), string(baselineJSON), now, now)
		return err
	})
}

func (a *App) persistRuleEvent(ctx context.Context, wallet, stage string, decision rules.Decision) error {
	return a.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_events (proxy_wallet, stage, allow, reason, evaluated_at)
			VALUES (?, ?, ?, ?, ?)
		`, wallet, stage, boolToInt(decision.Allow), decision.Reason, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// paperWindowStats aggregates closed paper trades over the last
// PaperWindowDays for the wallet, the source rules.PaperWindowStats
// documents.
func (a *App) paperWindowStats(ctx context.Context, wallet string, windowDays int) (rules.PaperWindowStats, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(time.RFC3339)
	var stats rules.PaperWindowStats
	var avgPnl sql.NullFloat64
	var peak, trough sql.NullFloat64
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			SELECT COUNT(*), AVG(pnl) FROM paper_trades
			WHERE proxy_wallet = ? AND status != 'open' AND settled_at >= ?
		`, wallet, cutoff)
		if err := row.Scan(&stats.ClosedTradeCount, &avgPnl); err != nil {
			return err
		}
		row = db.QueryRowContext(ctx, `
			SELECT MAX(pnl), MIN(pnl) FROM paper_trades
			WHERE proxy_wallet = ? AND status != 'open' AND settled_at >= ?
		`, wallet, cutoff)
		return row.Scan(&peak, &trough)
	})
	if err != nil {
		return stats, err
	}
	stats.AvgPairedPnl = avgPnl.Float64
	if peak.Valid && peak.Float64 > 0 && trough.Valid {
		stats.DrawdownPct = (peak.Float64 - trough.Float64) / peak.Float64 * 100
		if stats.DrawdownPct < 0 {
			stats.DrawdownPct = 0
		}
	}
	return stats, nil
}
