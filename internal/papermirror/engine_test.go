package papermirror

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.Gateway) {
	t.Helper()
	gw, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "papermirror_test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	return New(gw, cfg), gw
}

func baseEngineConfig() Config {
	return Config{
		Strategy:                 "mirror",
		BankrollUSDC:             1000,
		SlippagePct:              2,
		MaxExposurePerMarketPct:  50,
		MaxExposurePerWalletPct:  50,
		MaxDailyTrades:           50,
		PortfolioStopDrawdownPct: 25,
	}
}

func TestMirrorTradeCreatesPaperTradeAndPosition(t *testing.T) {
	e, gw := newTestEngine(t, baseEngineConfig())
	ctx := context.Background()

	d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 1, 25, false)
	if err != nil {
		t.Fatalf("MirrorTrade: %v", err)
	}
	if !d.Inserted {
		t.Fatalf("expected insert, got %+v", d)
	}

	var entry float64
	var status string
	if err := gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT entry_price, status FROM paper_trades WHERE triggered_by_trade_id = 1`)
		return row.Scan(&entry, &status)
	}); err != nil {
		t.Fatalf("read paper trade: %v", err)
	}
	if diff := entry - 0.51; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected slipped entry 0.51, got %v", entry)
	}
	if status != "open" {
		t.Fatalf("expected open status, got %q", status)
	}

	var total, avg float64
	if err := gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			SELECT total_size_usdc, avg_entry_price FROM paper_positions
			WHERE proxy_wallet = '0xw' AND condition_id = 'c1' AND side = 'BUY'
		`)
		return row.Scan(&total, &avg)
	}); err != nil {
		t.Fatalf("read position: %v", err)
	}
	if total != 25 {
		t.Fatalf("expected position size 25, got %v", total)
	}
	if diff := avg - 0.51; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected avg entry 0.51, got %v", avg)
	}
}

func TestMirrorTradeIdempotentByTriggeringTrade(t *testing.T) {
	e, gw := newTestEngine(t, baseEngineConfig())
	ctx := context.Background()

	if d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 7, 25, false); err != nil || !d.Inserted {
		t.Fatalf("first mirror: d=%+v err=%v", d, err)
	}
	d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 7, 25, false)
	if err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	if d.Inserted || d.Reason != "already_mirrored" {
		t.Fatalf("expected already_mirrored no-op, got %+v", d)
	}

	var rows int
	var total float64
	if err := gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paper_trades WHERE triggered_by_trade_id = 7`)
		if err := row.Scan(&rows); err != nil {
			return err
		}
		row = db.QueryRowContext(ctx, `SELECT total_size_usdc FROM paper_positions WHERE proxy_wallet = '0xw' AND condition_id = 'c1'`)
		return row.Scan(&total)
	}); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly one paper trade row, got %d", rows)
	}
	if total != 25 {
		t.Fatalf("expected position unchanged at 25, got %v", total)
	}
}

func seedSettledLoss(t *testing.T, gw *store.Gateway, wallet string, pnl float64) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := gw.Call(context.Background(), func(db *sql.DB) error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO paper_trades (proxy_wallet, strategy, condition_id, side, size_usdc, entry_price, status, pnl, created_at, settled_at)
			VALUES (?, 'mirror', 'c-old', 'BUY', 25, 0.5, 'settled_loss', ?, ?, ?)
		`, wallet, pnl, now, now)
		return err
	}); err != nil {
		t.Fatalf("seed settled loss: %v", err)
	}
}

func TestPortfolioStopCheckedBeforeDailyCap(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.MaxDailyTrades = 0 // the daily gate would also reject; the stop must win
	e, gw := newTestEngine(t, cfg)

	seedSettledLoss(t, gw, "0xw", -300) // past bankroll * 25%

	d, err := e.MirrorTrade(context.Background(), "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 2, 25, false)
	if err != nil {
		t.Fatalf("MirrorTrade: %v", err)
	}
	if d.Inserted || d.Reason != "portfolio_stop" {
		t.Fatalf("expected portfolio_stop rejection, got %+v", d)
	}
}

func TestDailyTradeCapRejects(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.MaxDailyTrades = 1
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	if d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 3, 25, false); err != nil || !d.Inserted {
		t.Fatalf("first mirror: d=%+v err=%v", d, err)
	}
	d, err := e.MirrorTrade(ctx, "0xw", "c2", model.SideBuy, "Yes", 0, 0.50, 4, 25, false)
	if err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	if d.Inserted || d.Reason != "max_daily_trades" {
		t.Fatalf("expected max_daily_trades rejection, got %+v", d)
	}
}

func TestMarketExposureCapRejects(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.MaxExposurePerMarketPct = 10 // 100 USDC on a 1000 bankroll
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	if d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 5, 60, false); err != nil || !d.Inserted {
		t.Fatalf("first mirror: d=%+v err=%v", d, err)
	}
	// Different wallet, same market: the per-market cap fires before the
	// per-wallet cap can.
	d, err := e.MirrorTrade(ctx, "0xother", "c1", model.SideBuy, "Yes", 0, 0.50, 6, 60, false)
	if err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	if d.Inserted || d.Reason != "market_exposure_cap" {
		t.Fatalf("expected market_exposure_cap rejection, got %+v", d)
	}
}

func TestWalletExposureCapRejects(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.MaxExposurePerWalletPct = 10 // 100 USDC on a 1000 bankroll
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	if d, err := e.MirrorTrade(ctx, "0xw", "c1", model.SideBuy, "Yes", 0, 0.50, 8, 60, false); err != nil || !d.Inserted {
		t.Fatalf("first mirror: d=%+v err=%v", d, err)
	}
	// Same wallet, different market: the per-market cap passes, the
	// per-wallet cap rejects.
	d, err := e.MirrorTrade(ctx, "0xw", "c2", model.SideBuy, "Yes", 0, 0.50, 9, 60, false)
	if err != nil {
		t.Fatalf("second mirror: %v", err)
	}
	if d.Inserted || d.Reason != "wallet_exposure_cap" {
		t.Fatalf("expected wallet_exposure_cap rejection, got %+v", d)
	}
}
