// This file is the trader-process counterpart to app.go: it wires the wallet engine,
// risk manager, paper mirror, and fillability recorder into a long-running
// process, and reconciles the engine's followed set against
// wallet_rules_state on a timer so approvals/stops flow through without a
// restart. cmd/trader is a thin shell around TraderApp, mirroring how
// cmd/evaluator wraps App.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/config"
	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/fillability"
	"github.com/polysignal/copytrader/internal/liverouter"
	"github.com/polysignal/copytrader/internal/logging"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/papermirror"
	"github.com/polysignal/copytrader/internal/risk"
	"github.com/polysignal/copytrader/internal/store"
	"github.com/polysignal/copytrader/internal/walletengine"
)

// ReconcileInterval is how often TraderApp compares the approved-wallet set
// against the watchers it currently runs.
const ReconcileInterval = 30 * time.Second

// TraderApp owns the wallet engine and every component it depends on.
type TraderApp struct {
	cfg     config.Config
	log     zerolog.Logger
	gw      *store.Gateway
	client  *exchange.Client
	bus     *eventbus.Bus
	risk    *risk.Manager
	mirror  *papermirror.Engine
	fillRec *fillability.Recorder
	engine  *walletengine.Engine
}

// NewTraderApp opens the store and constructs the risk manager, paper
// mirror, fillability recorder, and wallet engine from cfg.
func NewTraderApp(ctx context.Context, cfg config.Config) (*TraderApp, error) {
	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	gw, err := store.Open(ctx, cfg.StorePath, logging.Component(log, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := exchange.New(cfg.ExchangeClientConfig())
	bus := eventbus.New(cfg.EventBusOptions())
	bus.DLQ().Attach(gw)
	rm := risk.New(cfg.RiskManagerConfig())
	mirror := papermirror.New(gw, cfg.PaperMirrorConfig())
	fillRec := fillability.New(cfg.FillabilityConfigFor(), gw, logging.Component(log, "fillability"))

	var router liverouter.Router = liverouter.Disabled{}
	if cfg.Trader.LiveTrading.Enabled {
		r, err := liverouter.NewSDKRouter(cfg.LiveRouterCredentials())
		if err != nil {
			log.Warn().Err(err).Msg("live trading enabled but router construction failed; falling back to paper-only")
		} else {
			router = r
			log.Warn().Msg("live trading enabled: approved wallets' mirrored trades will also route real orders")
		}
	}

	engine := walletengine.New(cfg.WalletEngineConfig(), client, mirror, rm, gw, bus, logging.Component(log, "walletengine"), fillRec, router)

	return &TraderApp{
		cfg:     cfg,
		log:     log,
		gw:      gw,
		client:  client,
		bus:     bus,
		risk:    rm,
		mirror:  mirror,
		fillRec: fillRec,
		engine:  engine,
	}, nil
}

// Engine exposes the wallet engine so copyctl-style control surfaces (or a
// future control RPC) can issue follow/unfollow/pause/resume/halt commands
// directly, in-process.
func (t *TraderApp) Engine() *walletengine.Engine { return t.engine }

// Close releases the store connection. Call after Run returns.
func (t *TraderApp) Close() error { return t.gw.Close() }

// Run reconciles the followed-wallet set on a timer until ctx is cancelled,
// then shuts every watcher down gracefully.
func (t *TraderApp) Run(ctx context.Context) error {
	go runEventLog(ctx, t.bus, t.gw, t.log)

	if err := t.reconcile(ctx); err != nil {
		t.log.Warn().Err(err).Msg("initial reconcile failed")
	}

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()
	day := time.Now().UTC().Format("2006-01-02")
	for {
		select {
		case <-ctx.Done():
			t.engine.Shutdown()
			return nil
		case <-ticker.C:
			if today := time.Now().UTC().Format("2006-01-02"); today != day {
				day = today
				t.risk.ResetDaily()
			}
			if err := t.reconcile(ctx); err != nil {
				t.log.Warn().Err(err).Msg("reconcile failed")
			}
		}
	}
}

// approvedWallets returns every wallet currently in the Approved rules
// state with an active (non-removed) engine status.
func (t *TraderApp) approvedWallets(ctx context.Context) ([]string, error) {
	var wallets []string
	err := t.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT w.proxy_wallet FROM wallets w
			JOIN wallet_rules_state s ON s.proxy_wallet = w.proxy_wallet
			WHERE s.state = ? AND w.active = 1 AND w.engine_status != ?
		`, string(model.StateApproved), string(model.EngineRemoved))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var wallet string
			if err := rows.Scan(&wallet); err != nil {
				return err
			}
			wallets = append(wallets, wallet)
		}
		return rows.Err()
	})
	return wallets, err
}

// reconcile follows every newly-approved wallet and unfollows any watcher
// whose wallet has left the Approved state (rejected in a later rules pass,
// or manually deactivated).
func (t *TraderApp) reconcile(ctx context.Context) error {
	approved, err := t.approvedWallets(ctx)
	if err != nil {
		return fmt.Errorf("load approved wallets: %w", err)
	}
	wanted := make(map[string]struct{}, len(approved))
	for _, w := range approved {
		wanted[w] = struct{}{}
		if err := t.engine.FollowWallet(ctx, w); err != nil {
			t.log.Warn().Str("wallet", w).Err(err).Msg("follow wallet failed")
		}
	}
	for _, w := range t.engine.WatchedWallets() {
		if _, ok := wanted[w]; !ok {
			if err := t.engine.UnfollowWallet(ctx, w); err != nil {
				t.log.Warn().Str("wallet", w).Err(err).Msg("unfollow wallet failed")
			}
		}
	}

	if err := t.syncHaltFlag(ctx); err != nil {
		t.log.Warn().Err(err).Msg("sync halt flag failed")
	}
	if err := t.persistRiskSnapshot(ctx); err != nil {
		t.log.Warn().Err(err).Msg("persist risk snapshot failed")
	}
	return nil
}

// globalRiskKey is the risk_state row copyctl writes and TraderApp reads to
// move the halt flag across process boundaries (risk.Manager's halted bit
// is in-memory only).
const globalRiskKey = "global"

// syncHaltFlag applies whatever halt state copyctl last wrote to risk_state
// onto the in-memory risk manager.
func (t *TraderApp) syncHaltFlag(ctx context.Context) error {
	var halted bool
	err := t.gw.Call(ctx, func(db *sql.DB) error {
		var h sql.NullInt64
		row := db.QueryRowContext(ctx, `SELECT halted FROM risk_state WHERE key = ?`, globalRiskKey)
		if err := row.Scan(&h); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		halted = h.Valid && h.Int64 != 0
		return nil
	})
	if err != nil {
		return err
	}
	if halted {
		t.risk.Halt()
	} else {
		t.risk.Resume()
	}
	return nil
}

// persistRiskSnapshot writes the manager's current state so copyctl's
// "risk" command can report it without reaching into the trader process.
func (t *TraderApp) persistRiskSnapshot(ctx context.Context) error {
	snap := t.risk.Snapshot()
	return t.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO risk_state (key, halted, total_exposure_usd, daily_pnl, weekly_pnl, open_positions, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				total_exposure_usd = excluded.total_exposure_usd,
				daily_pnl = excluded.daily_pnl,
				weekly_pnl = excluded.weekly_pnl,
				open_positions = excluded.open_positions,
				updated_at = excluded.updated_at
		`, globalRiskKey, boolToInt(snap.Halted), snap.PortfolioExposure, snap.PortfolioDailyPnL, snap.PortfolioWeeklyPnL, snap.OpenPositions, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}
