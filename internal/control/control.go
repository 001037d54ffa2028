// Package control backs the copyctl CLI surface: read-only views over the
// store (markets, wallets, wallet detail, rankings, stats) plus the
// human-operator write commands (follow/unfollow/pause/resume,
// halt/resume-all, pick-for-paper, events replay). It never touches a running
// process directly; every command is a store mutation or query that the
// evaluator/trader processes observe on their next tick.
package control

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
)

// Controller wraps a store gateway with the query/mutation helpers copyctl
// needs. It holds no other state, matching the rest of this codebase's
// pattern of stateless operations over the single store.
type Controller struct {
	gw *store.Gateway
}

// New constructs a Controller over an already-open store gateway.
func New(gw *store.Gateway) *Controller { return &Controller{gw: gw} }

// MarketRow is one row of the `markets` command's output.
type MarketRow struct {
	ConditionID string
	Title       string
	MScore      float64
	EventRank   int
	ScoreDate   string
}

// Markets returns the most recently scored markets, best MScore first.
func (c *Controller) Markets(ctx context.Context, limit int) ([]MarketRow, error) {
	var out []MarketRow
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT s.condition_id, COALESCE(m.title, ''), s.mscore, s.event_rank, s.score_date
			FROM market_scores_daily s
			LEFT JOIN markets m ON m.condition_id = s.condition_id
			WHERE s.score_date = (SELECT MAX(score_date) FROM market_scores_daily)
			ORDER BY s.mscore DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r MarketRow
			if err := rows.Scan(&r.ConditionID, &r.Title, &r.MScore, &r.EventRank, &r.ScoreDate); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// WalletRow is one row of the `wallets` command's output.
type WalletRow struct {
	ProxyWallet    string
	DiscoveredFrom string
	RuleState      string
	Persona        string
	EngineStatus   string
}

// Wallets lists every tracked wallet with its current rule state, persona
// (if any), and engine status.
func (c *Controller) Wallets(ctx context.Context, limit int) ([]WalletRow, error) {
	var out []WalletRow
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT w.proxy_wallet, w.discovered_from, COALESCE(s.state, 'CANDIDATE'), COALESCE(p.persona, ''), w.engine_status
			FROM wallets w
			LEFT JOIN wallet_rules_state s ON s.proxy_wallet = w.proxy_wallet
			LEFT JOIN wallet_personas p ON p.proxy_wallet = w.proxy_wallet
			WHERE w.active = 1
			ORDER BY w.last_updated DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r WalletRow
			if err := rows.Scan(&r.ProxyWallet, &r.DiscoveredFrom, &r.RuleState, &r.Persona, &r.EngineStatus); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// WalletDetail is the `wallet <address>` command's combined view.
type WalletDetail struct {
	Wallet       model.Wallet
	RuleState    string
	Persona      string
	ClassifiedAt string
	Exclusions   []ExclusionRow
	LatestScore  float64
	OpenPaper    int
	ClosedPaper  int
}

// ExclusionRow is one wallet_exclusions row.
type ExclusionRow struct {
	Reason      string
	MetricValue float64
	Threshold   float64
	ExcludedAt  string
}

// WalletDetail loads the full cross-table view for one wallet.
func (c *Controller) WalletDetail(ctx context.Context, wallet string) (WalletDetail, error) {
	var d WalletDetail
	d.Wallet.ProxyWallet = wallet
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		var discoveredFrom, discoveredAt, discoveryMarket, lastUpdated sql.NullString
		var active sql.NullInt64
		row := db.QueryRowContext(ctx, `SELECT discovered_from, discovered_at, discovery_market, active, last_updated FROM wallets WHERE proxy_wallet = ?`, wallet)
		if err := row.Scan(&discoveredFrom, &discoveredAt, &discoveryMarket, &active, &lastUpdated); err != nil && err != sql.ErrNoRows {
			return err
		}
		d.Wallet.DiscoveredFrom = model.DiscoverySource(discoveredFrom.String)
		d.Wallet.DiscoveryMarket = discoveryMarket.String
		d.Wallet.Active = active.Int64 != 0

		var state sql.NullString
		row = db.QueryRowContext(ctx, `SELECT state FROM wallet_rules_state WHERE proxy_wallet = ?`, wallet)
		_ = row.Scan(&state)
		d.RuleState = state.String
		if d.RuleState == "" {
			d.RuleState = string(model.StateCandidate)
		}

		var persona, classifiedAt sql.NullString
		row = db.QueryRowContext(ctx, `SELECT persona, classified_at FROM wallet_personas WHERE proxy_wallet = ?`, wallet)
		_ = row.Scan(&persona, &classifiedAt)
		d.Persona = persona.String
		d.ClassifiedAt = classifiedAt.String

		rows, err := db.QueryContext(ctx, `SELECT reason, metric_value, threshold, excluded_at FROM wallet_exclusions WHERE proxy_wallet = ? ORDER BY excluded_at DESC`, wallet)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e ExclusionRow
			if err := rows.Scan(&e.Reason, &e.MetricValue, &e.Threshold, &e.ExcludedAt); err != nil {
				return err
			}
			d.Exclusions = append(d.Exclusions, e)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		var wscore sql.NullFloat64
		row = db.QueryRowContext(ctx, `SELECT wscore FROM wallet_scores_daily WHERE proxy_wallet = ? ORDER BY score_date DESC LIMIT 1`, wallet)
		_ = row.Scan(&wscore)
		d.LatestScore = wscore.Float64

		row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paper_trades WHERE proxy_wallet = ? AND status = 'open'`, wallet)
		_ = row.Scan(&d.OpenPaper)
		row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paper_trades WHERE proxy_wallet = ? AND status != 'open'`, wallet)
		_ = row.Scan(&d.ClosedPaper)
		return nil
	})
	return d, err
}

// RankingRow is one row of the `rankings` command's output.
type RankingRow struct {
	ProxyWallet string
	WScore      float64
	FollowMode  string
	Persona     string
}

// Rankings returns wallets ordered by their latest WScore for windowDays.
func (c *Controller) Rankings(ctx context.Context, windowDays, limit int) ([]RankingRow, error) {
	var out []RankingRow
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT s.proxy_wallet, s.wscore, s.follow_mode, COALESCE(p.persona, '')
			FROM wallet_scores_daily s
			LEFT JOIN wallet_personas p ON p.proxy_wallet = s.proxy_wallet
			WHERE s.window_days = ? AND s.score_date = (SELECT MAX(score_date) FROM wallet_scores_daily WHERE window_days = ?)
			ORDER BY s.wscore DESC
			LIMIT ?
		`, windowDays, windowDays, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r RankingRow
			if err := rows.Scan(&r.ProxyWallet, &r.WScore, &r.FollowMode, &r.Persona); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// PickForPaper force-moves a Candidate wallet straight into PaperTrading,
// bypassing the discovery gate for a wallet the operator has manually
// vetted.
func (c *Controller) PickForPaper(ctx context.Context, wallet string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return c.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_state (proxy_wallet, state, baseline_style_json, last_seen_at, updated_at)
			VALUES (?, ?, '', ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
		`, wallet, string(model.StatePaperTrading), now, now)
		return err
	})
}

// Follow force-approves a wallet (state -> Approved, engine status ->
// active) so cmd/trader's next reconcile tick picks it up.
func (c *Controller) Follow(ctx context.Context, wallet string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return c.gw.Call(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_state (proxy_wallet, state, baseline_style_json, last_seen_at, updated_at)
			VALUES (?, ?, '', ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
		`, wallet, string(model.StateApproved), now, now); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, `UPDATE wallets SET engine_status = ?, last_updated = ? WHERE proxy_wallet = ?`,
			string(model.EngineActive), now, wallet)
		return err
	})
}

// setEngineStatus is shared by Unfollow/Pause/Resume: each is a one-column
// update on wallets.engine_status that the running trader watcher (or its
// reconcile loop) observes on its next tick.
func (c *Controller) setEngineStatus(ctx context.Context, wallet string, status model.WalletEngineStatus) error {
	return c.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE wallets SET engine_status = ?, last_updated = ? WHERE proxy_wallet = ?`,
			string(status), time.Now().UTC().Format(time.RFC3339), wallet)
		return err
	})
}

// Unfollow marks the wallet removed; the trader's reconcile loop cancels
// its watcher on the next tick.
func (c *Controller) Unfollow(ctx context.Context, wallet string) error {
	return c.setEngineStatus(ctx, wallet, model.EngineRemoved)
}

// Pause marks the wallet paused in place (watcher keeps polling, stops
// mirroring).
func (c *Controller) Pause(ctx context.Context, wallet string) error {
	return c.setEngineStatus(ctx, wallet, model.EnginePaused)
}

// Resume clears a pause (or respawns via the next reconcile if the wallet's
// watcher had exited).
func (c *Controller) Resume(ctx context.Context, wallet string) error {
	return c.setEngineStatus(ctx, wallet, model.EngineActive)
}

const globalRiskKey = "global"

// RiskSnapshot is the `risk` command's output, the last snapshot the
// trader process persisted (internal/app.TraderApp.persistRiskSnapshot).
type RiskSnapshot struct {
	Halted            bool
	TotalExposureUSD  float64
	DailyPnL          float64
	WeeklyPnL         float64
	OpenPositions     int
	UpdatedAt         string
}

// Risk reads the last-persisted global risk snapshot.
func (c *Controller) Risk(ctx context.Context) (RiskSnapshot, error) {
	var s RiskSnapshot
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		var halted sql.NullInt64
		var updatedAt sql.NullString
		row := db.QueryRowContext(ctx, `
			SELECT halted, total_exposure_usd, daily_pnl, weekly_pnl, open_positions, updated_at
			FROM risk_state WHERE key = ?
		`, globalRiskKey)
		err := row.Scan(&halted, &s.TotalExposureUSD, &s.DailyPnL, &s.WeeklyPnL, &s.OpenPositions, &updatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		s.Halted = halted.Valid && halted.Int64 != 0
		s.UpdatedAt = updatedAt.String
		return nil
	})
	return s, err
}

// Halt sets the global halt flag. The running trader process's reconcile
// loop (internal/app.TraderApp.syncHaltFlag) applies it to the in-memory
// risk manager observed by every watcher.
func (c *Controller) Halt(ctx context.Context) error {
	return c.setGlobalHalt(ctx, true)
}

// ResumeAll clears the global halt flag.
func (c *Controller) ResumeAll(ctx context.Context) error {
	return c.setGlobalHalt(ctx, false)
}

func (c *Controller) setGlobalHalt(ctx context.Context, halted bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	h := 0
	if halted {
		h = 1
	}
	return c.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO risk_state (key, halted, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET halted = excluded.halted, updated_at = excluded.updated_at
		`, globalRiskKey, h, now)
		return err
	})
}

// StatRow is one scheduler_run_stats row (the `stats` command's funnel
// view).
type StatRow struct {
	JobName        string
	RanAt          string
	ItemsProcessed int
	RowsInserted   int
	Succeeded      bool
}

// Stats returns the most recent scheduler_run_stats rows across all jobs,
// newest first, at most limit rows.
func (c *Controller) Stats(ctx context.Context, limit int) ([]StatRow, error) {
	var out []StatRow
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT job_name, ran_at, items_processed, rows_inserted, succeeded
			FROM scheduler_run_stats
			ORDER BY id DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r StatRow
			var succeeded int
			if err := rows.Scan(&r.JobName, &r.RanAt, &r.ItemsProcessed, &r.RowsInserted, &succeeded); err != nil {
				return err
			}
			r.Succeeded = succeeded != 0
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// FailedEventRow is one failed_events row (the `events replay` command's
// listing over the dead-letter queue).
type FailedEventRow struct {
	EventType  string
	RetryCount int
	Status     string
	LastError  string
	UpdatedAt  string
}

// ReplayEvents lists up to limit non-exhausted dead-lettered events, oldest
// first, for operator review.
func (c *Controller) ReplayEvents(ctx context.Context, limit int) ([]FailedEventRow, error) {
	var out []FailedEventRow
	err := c.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT event_type, retry_count, status, COALESCE(last_error, ''), COALESCE(updated_at, '')
			FROM failed_events WHERE status = 'pending'
			ORDER BY updated_at ASC LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r FailedEventRow
			if err := rows.Scan(&r.EventType, &r.RetryCount, &r.Status, &r.LastError, &r.UpdatedAt); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}
