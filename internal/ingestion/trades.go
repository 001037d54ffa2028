package ingestion

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/store"
	"github.com/rs/zerolog"
)

// TradeConfig tunes the per-wallet trade ingestion job.
type TradeConfig struct {
	BatchSize int // wallets processed per run
	PageLimit int // trades requested per page
}

// TradeJob pages each selected wallet's trade history into raw_trades.
type TradeJob struct {
	gw     *store.Gateway
	client *exchange.Client
	bus    *eventbus.Bus
	log    zerolog.Logger
	cfg    TradeConfig
}

// NewTradeJob constructs a TradeJob.
func NewTradeJob(gw *store.Gateway, client *exchange.Client, bus *eventbus.Bus, log zerolog.Logger, cfg TradeConfig) *TradeJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	return &TradeJob{gw: gw, client: client, bus: bus, log: log, cfg: cfg}
}

// selectWallets returns up to n wallets, wallets with zero ingested trades
// first, then ordered by oldest discovered_at.
func (j *TradeJob) selectWallets(ctx context.Context, n int) ([]string, error) {
	var wallets []string
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT w.proxy_wallet
			FROM wallets w
			LEFT JOIN (
				SELECT proxy_wallet, COUNT(*) AS c FROM raw_trades GROUP BY proxy_wallet
			) t ON t.proxy_wallet = w.proxy_wallet
			WHERE w.active = 1
			ORDER BY COALESCE(t.c, 0) ASC, w.discovered_at ASC
			LIMIT ?
		`, n)
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

// RunOnce processes one batch of wallets and returns the run's stats.
func (j *TradeJob) RunOnce(ctx context.Context) (RunStats, error) {
	stats := RunStats{JobName: "trade_ingestion", RanAt: time.Now().UTC()}

	wallets, err := j.selectWallets(ctx, j.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, wallet := range wallets {
		inserted, err := j.ingestWallet(ctx, wallet)
		stats.ItemsProcessed++
		if err != nil {
			logItemFailure(j.log, stats.JobName, wallet, err)
			continue
		}
		stats.RowsInserted += inserted
		publishTradesIngested(j.bus, wallet, inserted)
	}

	stats.Succeeded = true
	if err := persistRunStats(ctx, j.gw, stats); err != nil {
		j.log.Warn().Err(err).Msg("persist trade ingestion run stats failed")
	}
	return stats, nil
}

func (j *TradeJob) ingestWallet(ctx context.Context, wallet string) (int, error) {
	inserted := 0
	offset := 0
	for {
		page, err := j.client.FetchTrades(ctx, wallet, j.cfg.PageLimit, offset)
		end := isPaginationEnd(err, len(page), j.cfg.PageLimit)
		if err != nil && !end {
			return inserted, err
		}

		if len(page) > 0 {
			if pErr := persistRawResponse(ctx, j.gw, "/trades", map[string]any{"user": wallet, "offset": offset}, page); pErr != nil {
				j.log.Warn().Err(pErr).Str("wallet", wallet).Msg("persist raw trade page failed")
			}
			n, iErr := j.insertTrades(ctx, page)
			if iErr != nil {
				return inserted, iErr
			}
			inserted += n
		}

		if end {
			return inserted, nil
		}
		offset += j.cfg.PageLimit
	}
}

func (j *TradeJob) insertTrades(ctx context.Context, page []exchange.RawTrade) (int, error) {
	inserted := 0
	err := j.gw.WithTx(ctx, "insert_raw_trades", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO raw_trades
				(tx_hash, proxy_wallet, condition_id, outcome, outcome_index, side, size, price, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range page {
			size, sErr := strconv.ParseFloat(string(t.Size), 64)
			if sErr != nil {
				continue
			}
			price, pErr := strconv.ParseFloat(string(t.Price), 64)
			if pErr != nil {
				continue
			}
			ts, tErr := parseTradeTimestamp(string(t.Timestamp))
			if tErr != nil {
				continue
			}
			res, err := stmt.ExecContext(ctx, t.TransactionHash, t.ProxyWallet, t.ConditionID, t.Outcome, t.OutcomeIndex, t.Side, size, price, ts)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// parseTradeTimestamp accepts either a unix-epoch-seconds string or an
// RFC3339 timestamp, the two shapes the data API has been observed to send.
func parseTradeTimestamp(raw string) (int64, error) {
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return sec, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
