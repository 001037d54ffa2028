// Package walletengine is the per-wallet trade watcher: one task per
// actively followed wallet that polls for new trades, mirrors them with
// proportional sizing, and reconciles settlement against the markets API.
// The watch loop follows the Run(ctx context.Context) error,
// ticker-plus-select idiom used throughout this codebase for background
// loops.
package walletengine

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/fillability"
	"github.com/polysignal/copytrader/internal/liverouter"
	"github.com/polysignal/copytrader/internal/metrics"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/papermirror"
	"github.com/polysignal/copytrader/internal/risk"
	"github.com/polysignal/copytrader/internal/store"
)

// Config is the per-wallet watcher tuning, shared across all watchers.
type Config struct {
	PollInterval        time.Duration
	PollLimit           int
	ProportionalSizing  bool
	OurBankrollUSDC     float64
	PerTradeSizeUSDC    float64
	PruneThreshold      int
	StatsLogInterval    time.Duration

	// LiveTradingEnabled gates the liverouter hand-off in mirrorTrade. It
	// has no effect unless the watcher was also constructed with a non-nil
	// Router via NewWatcher's router argument.
	LiveTradingEnabled bool
}

// Watcher runs the detect→mirror→settle loop for a single followed wallet.
type Watcher struct {
	wallet    string
	cfg       Config
	client    *exchange.Client
	mirror    *papermirror.Engine
	risk      *risk.Manager
	gw        *store.Gateway
	bus       *eventbus.Bus
	log       zerolog.Logger
	detector  *TradeDetector
	fillRec   *fillability.Recorder
	router    liverouter.Router

	mu       sync.Mutex
	status   model.WalletEngineStatus
	skipped  int
	errors   int
	lastStat time.Time
}

// NewWatcher constructs a Watcher. storedWatermark, when non-nil, resumes
// the detector without re-running warm-up. fillRec may be nil, in which
// case no fillability recording is triggered on mirrored trades. router
// may be nil, in which case it is replaced with liverouter.Disabled{} so
// mirrorTrade can call it unconditionally.
func NewWatcher(wallet string, cfg Config, client *exchange.Client, mirror *papermirror.Engine, rm *risk.Manager, gw *store.Gateway, bus *eventbus.Bus, log zerolog.Logger, storedWatermark *time.Time, fillRec *fillability.Recorder, router liverouter.Router) *Watcher {
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 100
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = 500
	}
	if cfg.StatsLogInterval <= 0 {
		cfg.StatsLogInterval = 60 * time.Second
	}
	if router == nil {
		router = liverouter.Disabled{}
	}
	return &Watcher{
		wallet:   wallet,
		cfg:      cfg,
		client:   client,
		mirror:   mirror,
		risk:     rm,
		gw:       gw,
		bus:      bus,
		log:      log.With().Str("wallet", wallet).Logger(),
		detector: NewTradeDetector(storedWatermark),
		fillRec:  fillRec,
		router:   router,
		status:   model.EngineActive,
	}
}

func (w *Watcher) setStatus(s model.WalletEngineStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func (w *Watcher) Status() model.WalletEngineStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run ticks at PollInterval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.lastStat = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	status := w.Status()
	if w.risk.Halted() || status == model.EnginePaused || status == model.EngineKilled || status == model.EngineRemoved {
		w.mu.Lock()
		w.skipped++
		if time.Since(w.lastStat) >= w.cfg.StatsLogInterval {
			w.log.Info().Int("skipped", w.skipped).Int("errors", w.errors).Str("status", string(status)).Msg("watcher idle summary")
			w.skipped, w.errors = 0, 0
			w.lastStat = time.Now()
		}
		w.mu.Unlock()
		return
	}

	raw, err := w.client.FetchTradesAny(ctx, w.wallet, "", w.cfg.PollLimit, 0)
	if err != nil {
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		w.log.Warn().Err(err).Msg("fetch trades failed")
		return
	}

	trades := make([]model.Trade, 0, len(raw))
	for _, rt := range raw {
		trades = append(trades, rawToTrade(rt))
	}

	fresh := w.detector.DetectNew(trades)
	w.detector.Prune(w.cfg.PruneThreshold)

	for _, t := range fresh {
		w.log.Debug().Str("condition_id", t.ConditionID).Str("side", string(t.Side)).Float64("price", t.Price).Msg("trade_detected")
		rowID, err := w.persistRawTrade(ctx, t)
		if err != nil {
			w.log.Warn().Err(err).Msg("persist detected trade failed")
			continue
		}
		// Watermark moves only after the trade row is durable.
		if err := w.persistWatermark(ctx, t.Timestamp); err != nil {
			w.log.Warn().Err(err).Msg("persist watermark failed")
		}
		w.mirrorTrade(ctx, t, rowID)
	}
	if len(fresh) > 0 {
		w.bus.PublishPipeline(eventbus.TradesIngested{WalletAddress: w.wallet, TradesCount: len(fresh), IngestedAt: time.Now()})
	}

	w.checkSettlements(ctx)
}

func rawToTrade(rt exchange.RawTrade) model.Trade {
	return model.Trade{
		ID:           parseInt64(rt.ID),
		TxHash:       rt.TransactionHash,
		ProxyWallet:  rt.ProxyWallet,
		ConditionID:  rt.ConditionID,
		Outcome:      rt.Outcome,
		OutcomeIndex: rt.OutcomeIndex,
		Side:         model.Side(rt.Side),
		Size:         parseFloat(rt.Size),
		Price:        parseFloat(rt.Price),
		Timestamp:    time.Unix(parseInt64(rt.Timestamp), 0).UTC(),
	}
}

func parseFloat(fs exchange.FlexString) float64 {
	f, _ := strconv.ParseFloat(string(fs), 64)
	return f
}

func parseInt64(fs exchange.FlexString) int64 {
	n, err := strconv.ParseInt(string(fs), 10, 64)
	if err != nil {
		f, _ := strconv.ParseFloat(string(fs), 64)
		return int64(f)
	}
	return n
}

// persistRawTrade upserts the detected trade into raw_trades and returns
// the local row id, which keys the paper trade's triggered_by_trade_id.
// The same trade ingested later by the evaluator's trade job dedups
// against this row.
func (w *Watcher) persistRawTrade(ctx context.Context, t model.Trade) (int64, error) {
	var id int64
	err := w.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO raw_trades
				(tx_hash, proxy_wallet, condition_id, outcome, outcome_index, side, size, price, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.TxHash, t.ProxyWallet, t.ConditionID, t.Outcome, t.OutcomeIndex, string(t.Side), t.Size, t.Price, t.Timestamp.Unix())
		if err != nil {
			return err
		}
		row := db.QueryRowContext(ctx, `
			SELECT id FROM raw_trades WHERE tx_hash = ? AND proxy_wallet = ? AND condition_id = ?
		`, t.TxHash, t.ProxyWallet, t.ConditionID)
		return row.Scan(&id)
	})
	return id, err
}

func (w *Watcher) persistWatermark(ctx context.Context, wm time.Time) error {
	return w.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_watermarks (proxy_wallet, last_ts, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET last_ts = excluded.last_ts, updated_at = excluded.updated_at
		`, w.wallet, wm.Unix(), time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// ourSize computes trader-level proportional sizing from the observed
// trade: our_size = min(their_size * our_bankroll / their_bankroll,
// per_trade_size_usd) when proportional sizing is enabled, otherwise the
// configured flat size.
func (w *Watcher) ourSize(theirSizeUSDC, theirBankrollUSDC float64) float64 {
	if !w.cfg.ProportionalSizing || theirBankrollUSDC <= 0 {
		return w.cfg.PerTradeSizeUSDC
	}
	scaled := theirSizeUSDC * w.cfg.OurBankrollUSDC / theirBankrollUSDC
	return math.Min(scaled, w.cfg.PerTradeSizeUSDC)
}

// theirBankrollUSDC estimates the followed wallet's deployed capital from
// its latest position snapshot (summed position sizes). Returns 0 when no
// snapshot exists yet, which makes ourSize fall back to flat sizing.
func (w *Watcher) theirBankrollUSDC(ctx context.Context) float64 {
	var total sql.NullFloat64
	err := w.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			SELECT SUM(size) FROM position_snapshots
			WHERE proxy_wallet = ? AND taken_at = (SELECT MAX(taken_at) FROM position_snapshots WHERE proxy_wallet = ?)
		`, w.wallet, w.wallet)
		return row.Scan(&total)
	})
	if err != nil || !total.Valid {
		return 0
	}
	return total.Float64
}

func (w *Watcher) mirrorTrade(ctx context.Context, t model.Trade, rawTradeID int64) {
	sizeUSDC := w.ourSize(t.Size*t.Price, w.theirBankrollUSDC(ctx))

	decision := w.risk.CheckTrade(w.wallet, sizeUSDC)
	if !decision.Allow {
		w.log.Info().Str("reason", string(decision.Reason)).Msg("trader-level mirror rejected by risk manager")
		metrics.RiskRejections.WithLabelValues(string(decision.Reason)).Inc()
		return
	}

	d, err := w.mirror.MirrorTrade(ctx, w.wallet, t.ConditionID, t.Side, t.Outcome, t.OutcomeIndex, t.Price, rawTradeID, sizeUSDC, false)
	if err != nil {
		w.log.Warn().Err(err).Msg("trader-level mirror failed")
		return
	}
	if logErr := w.mirror.LogCopyFidelity(ctx, w.wallet, t.ConditionID, d); logErr != nil {
		w.log.Warn().Err(logErr).Msg("copy fidelity log failed")
	}
	if d.Inserted {
		w.risk.RecordFill(w.wallet, sizeUSDC)
		metrics.TradesMirrored.WithLabelValues("inserted").Inc()
		if w.fillRec != nil {
			w.fillRec.OnCopiedTrade(t.ConditionID, t.ConditionID, t.Identity(), t.Side, sizeUSDC, t.Price)
		}
		if w.cfg.LiveTradingEnabled {
			w.placeLiveOrder(ctx, t, sizeUSDC)
		}
	} else {
		metrics.TradesMirrored.WithLabelValues(d.Reason).Inc()
	}
}

// placeLiveOrder hands a copied trade off to the live router, gated on the
// wallet currently sitting in the Approved rules state. The paper-trade
// row above is always the system of record; this is an additional side
// effect that never blocks or unwinds it. A rejected or failed live order
// is logged and otherwise ignored.
func (w *Watcher) placeLiveOrder(ctx context.Context, t model.Trade, sizeUSDC float64) {
	approved, err := w.isApproved(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("live order gate: rule state lookup failed")
		return
	}
	if !approved {
		return
	}
	orderID, err := w.router.PlaceMarketOrder(ctx, t.ConditionID, string(t.Side), sizeUSDC)
	if err != nil {
		w.log.Warn().Err(err).Msg("live order submission failed")
		metrics.TradesMirrored.WithLabelValues("live_order_failed").Inc()
		return
	}
	w.log.Info().Str("order_id", orderID).Float64("size_usdc", sizeUSDC).Msg("live order submitted")
	metrics.TradesMirrored.WithLabelValues("live_order_submitted").Inc()
}

func (w *Watcher) isApproved(ctx context.Context) (bool, error) {
	var state string
	err := w.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT state FROM wallet_rules_state WHERE proxy_wallet = ?`, w.wallet)
		err := row.Scan(&state)
		if err == sql.ErrNoRows {
			state = ""
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return state == string(model.StateApproved), nil
}

// openConditionIDs returns every condition the wallet still holds an open
// paper trade on. The candidate set comes from the store, not the polled
// trade page: a position opened long ago stays a settlement candidate even
// when the wallet hasn't touched that market in its recent trades.
func (w *Watcher) openConditionIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := w.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT DISTINCT condition_id FROM paper_trades
			WHERE proxy_wallet = ? AND status = 'open'
		`, w.wallet)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				return err
			}
			out = append(out, cid)
		}
		return rows.Err()
	})
	return out, err
}

// checkSettlements closes paper trades whose condition has resolved.
func (w *Watcher) checkSettlements(ctx context.Context) {
	conditions, err := w.openConditionIDs(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("open condition lookup failed")
		return
	}
	for _, conditionID := range conditions {
		market, err := w.client.FetchMarketByCondition(ctx, conditionID)
		if err != nil || market == nil {
			continue
		}
		outcome := market.Resolved()
		if outcome == exchange.NotResolved {
			continue
		}
		w.settleCondition(ctx, conditionID, outcome)
	}
}

func (w *Watcher) settleCondition(ctx context.Context, conditionID string, outcome exchange.SettlementOutcome) {
	type openTrade struct {
		id       int64
		side     string
		size     float64
		entry    float64
	}
	var open []openTrade
	err := w.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, side, size_usdc, entry_price FROM paper_trades
			WHERE proxy_wallet = ? AND condition_id = ? AND status = 'open'
		`, w.wallet, conditionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ot openTrade
			if err := rows.Scan(&ot.id, &ot.side, &ot.size, &ot.entry); err != nil {
				return err
			}
			open = append(open, ot)
		}
		return rows.Err()
	})
	if err != nil || len(open) == 0 {
		return
	}

	won := outcome == exchange.ResolvedYes
	for _, ot := range open {
		isLong := ot.side == string(model.SideBuy)
		profitable := (isLong && won) || (!isLong && !won)
		pnl := ot.size
		if !profitable {
			pnl = -ot.size
		}
		status := model.PaperSettledLoss
		if profitable {
			status = model.PaperSettledWin
		}
		_ = w.gw.Call(ctx, func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				UPDATE paper_trades SET status = ?, pnl = ?, settled_at = ? WHERE id = ?
			`, string(status), pnl, time.Now().UTC().Format(time.RFC3339), ot.id)
			return err
		})
		w.risk.RecordSettlement(w.wallet, pnl, ot.size)
	}
}
