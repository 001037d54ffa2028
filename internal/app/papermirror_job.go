package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/metrics"
	"github.com/polysignal/copytrader/internal/model"
)

// runFastPathMirror reacts to the coalescing fast-path channel: a burst of
// trade-ingestion triggers between reads collapses into a single
// RunPaperTickOnce sweep. Generations are monotonic; each read means "at
// least one trigger since last read", never exactly how many.
func (a *App) runFastPathMirror(ctx context.Context) {
	ticks := a.bus.SubscribeFastPath()
	var lastGen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case gen := <-ticks:
			if gen <= lastGen {
				continue
			}
			lastGen = gen
			if _, err := a.RunPaperTickOnce(ctx); err != nil {
				a.log.Warn().Err(err).Msg("fast-path paper sweep failed")
			}
		}
	}
}

// runPaperMirrorConsumer is the evaluator-side mirror trigger: it drains
// TradesIngested pipeline events and mirrors every newly ingested raw trade
// belonging to a currently followable wallet. This is distinct from
// cmd/trader's walletengine mirroring, which only runs for wallets already
// in the Approved state; this consumer is what accumulates the paper-trade
// history evaluate_paper (internal/rules) needs to ever promote a wallet out
// of PaperTrading.
func (a *App) runPaperMirrorConsumer(ctx context.Context) {
	sub := a.bus.SubscribePipeline()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			ti, ok := ev.(eventbus.TradesIngested)
			if !ok {
				continue
			}
			if err := a.paperMirrorWallet(ctx, ti.WalletAddress); err != nil {
				a.log.Warn().Str("wallet", ti.WalletAddress).Err(err).Msg("paper mirror sweep failed")
			}
		}
	}
}

// RunPaperTickOnce is the idempotent recovery sweep: it mirrors every
// followable wallet's un-mirrored raw trades. Safe to call repeatedly or
// after a crash; triggered_by_trade_id's unique constraint makes
// re-mirroring the same raw trade a no-op.
func (a *App) RunPaperTickOnce(ctx context.Context) (int, error) {
	wallets, err := a.followableWallets(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, w := range wallets {
		n, err := a.paperMirrorWalletCount(ctx, w)
		if err != nil {
			a.log.Warn().Str("wallet", w).Err(err).Msg("recovery paper tick failed, continuing")
			continue
		}
		total += n
	}
	return total, nil
}

// followableWallets returns every wallet whose latest persona
// classification is strictly newer than its most recent exclusion.
func (a *App) followableWallets(ctx context.Context) ([]string, error) {
	var wallets []string
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT p.proxy_wallet FROM wallet_personas p
			LEFT JOIN (
				SELECT proxy_wallet, MAX(excluded_at) AS last_excluded_at
				FROM wallet_exclusions GROUP BY proxy_wallet
			) e ON e.proxy_wallet = p.proxy_wallet
			WHERE e.last_excluded_at IS NULL OR p.classified_at > e.last_excluded_at
		`)
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

// isFollowable applies the same ordering rule for a single wallet, used by
// the event-driven consumer so it need not re-scan the whole personas table
// on every TradesIngested event.
func (a *App) isFollowable(ctx context.Context, wallet string) (bool, error) {
	var classifiedAt sql.NullString
	var excludedAt sql.NullString
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT classified_at FROM wallet_personas WHERE proxy_wallet = ?`, wallet)
		if err := row.Scan(&classifiedAt); err != nil && err != sql.ErrNoRows {
			return err
		}
		row = db.QueryRowContext(ctx, `SELECT MAX(excluded_at) FROM wallet_exclusions WHERE proxy_wallet = ?`, wallet)
		return row.Scan(&excludedAt)
	})
	if err != nil {
		return false, err
	}
	if !classifiedAt.Valid {
		return false, nil
	}
	if !excludedAt.Valid {
		return true, nil
	}
	return classifiedAt.String > excludedAt.String, nil
}

func (a *App) paperMirrorWallet(ctx context.Context, wallet string) error {
	ok, err := a.isFollowable(ctx, wallet)
	if err != nil || !ok {
		return err
	}
	_, err = a.paperMirrorWalletCount(ctx, wallet)
	return err
}

type pendingTrade struct {
	id          int64
	conditionID string
	side        model.Side
	outcome     string
	outcomeIdx  int
	price       float64
	isCrypto15m bool
}

// pendingRawTrades returns raw trades for wallet that have no corresponding
// paper_trades row yet (triggered_by_trade_id is unique per raw trade).
func (a *App) pendingRawTrades(ctx context.Context, wallet string, limit int) ([]pendingTrade, error) {
	var out []pendingTrade
	err := a.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT rt.id, rt.condition_id, rt.side, rt.outcome, rt.outcome_index, rt.price,
				COALESCE(m.is_crypto_15m, 0)
			FROM raw_trades rt
			LEFT JOIN markets m ON m.condition_id = rt.condition_id
			LEFT JOIN paper_trades pt ON pt.triggered_by_trade_id = rt.id
			WHERE rt.proxy_wallet = ? AND pt.id IS NULL
			ORDER BY rt.ts ASC
			LIMIT ?
		`, wallet, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t pendingTrade
			var side string
			var isCrypto int
			if err := rows.Scan(&t.id, &t.conditionID, &side, &t.outcome, &t.outcomeIdx, &t.price, &isCrypto); err != nil {
				return err
			}
			t.side = model.Side(side)
			t.isCrypto15m = isCrypto != 0
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// paperMirrorWalletCount mirrors every pending raw trade for wallet,
// returning how many were actually inserted (vs. skipped by a risk/exposure
// gate). Bounded per call so one wallet with a large backlog cannot starve
// the others in RunPaperTickOnce.
func (a *App) paperMirrorWalletCount(ctx context.Context, wallet string) (int, error) {
	const perCallLimit = 200
	pending, err := a.pendingRawTrades(ctx, wallet, perCallLimit)
	if err != nil {
		return 0, err
	}
	sizeUSDC := a.cfg.Paper.PositionSizeUSDC
	if sizeUSDC <= 0 {
		sizeUSDC = 25
	}
	inserted := 0
	for _, t := range pending {
		d, err := a.paperMirror.MirrorTrade(ctx, wallet, t.conditionID, t.side, t.outcome, t.outcomeIdx, t.price, t.id, sizeUSDC, t.isCrypto15m)
		if err != nil {
			a.log.Warn().Str("wallet", wallet).Int64("trade_id", t.id).Err(err).Msg("paper mirror attempt failed")
			continue
		}
		if logErr := a.paperMirror.LogCopyFidelity(ctx, wallet, t.conditionID, d); logErr != nil {
			a.log.Warn().Err(logErr).Msg("copy fidelity log failed")
		}
		if d.Inserted {
			inserted++
			metrics.TradesMirrored.WithLabelValues("inserted").Inc()
		} else {
			metrics.TradesMirrored.WithLabelValues(d.Reason).Inc()
		}
	}
	return inserted, nil
}

// recoveryTick runs RunPaperTickOnce once at startup and logs the count.
func (a *App) recoveryTick(ctx context.Context) {
	n, err := a.RunPaperTickOnce(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("recovery paper tick failed")
		return
	}
	a.log.Info().Int("paper_trades_inserted", n).Time("at", time.Now().UTC()).Msg("recovery complete")
}
