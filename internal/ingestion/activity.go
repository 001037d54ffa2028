package ingestion

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/store"
	"github.com/rs/zerolog"
)

// ActivityConfig tunes the per-wallet activity ingestion job.
type ActivityConfig struct {
	BatchSize int
	PageLimit int
}

// ActivityJob pages each selected wallet's activity feed into the
// activity table, deduplicated by (proxy_wallet, raw_id).
type ActivityJob struct {
	gw     *store.Gateway
	client *exchange.Client
	log    zerolog.Logger
	cfg    ActivityConfig
}

// NewActivityJob constructs an ActivityJob.
func NewActivityJob(gw *store.Gateway, client *exchange.Client, log zerolog.Logger, cfg ActivityConfig) *ActivityJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	return &ActivityJob{gw: gw, client: client, log: log, cfg: cfg}
}

func (j *ActivityJob) selectWallets(ctx context.Context, n int) ([]string, error) {
	var wallets []string
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT proxy_wallet FROM wallets WHERE active = 1
			ORDER BY last_updated ASC, discovered_at ASC
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
func (j *ActivityJob) RunOnce(ctx context.Context) (RunStats, error) {
	stats := RunStats{JobName: "activity_ingestion", RanAt: time.Now().UTC()}

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
	}

	stats.Succeeded = true
	if err := persistRunStats(ctx, j.gw, stats); err != nil {
		j.log.Warn().Err(err).Msg("persist activity ingestion run stats failed")
	}
	return stats, nil
}

func (j *ActivityJob) ingestWallet(ctx context.Context, wallet string) (int, error) {
	inserted := 0
	offset := 0
	for {
		page, err := j.client.FetchActivity(ctx, wallet, j.cfg.PageLimit, offset)
		end := isPaginationEnd(err, len(page), j.cfg.PageLimit)
		if err != nil && !end {
			return inserted, err
		}

		if len(page) > 0 {
			if pErr := persistRawResponse(ctx, j.gw, "/activity", map[string]any{"user": wallet, "offset": offset}, page); pErr != nil {
				j.log.Warn().Err(pErr).Str("wallet", wallet).Msg("persist raw activity page failed")
			}
			n, iErr := j.insertActivity(ctx, page)
			if iErr != nil {
				return inserted, iErr
			}
			inserted += n
		}

		if end {
			return inserted, j.touchWallet(ctx, wallet)
		}
		offset += j.cfg.PageLimit
	}
}

func (j *ActivityJob) insertActivity(ctx context.Context, page []exchange.RawActivity) (int, error) {
	inserted := 0
	err := j.gw.WithTx(ctx, "insert_activity", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO activity (proxy_wallet, activity_type, condition_id, ts, raw_id)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range page {
			ts, tErr := parseTradeTimestamp(string(a.Timestamp))
			if tErr != nil {
				continue
			}
			res, err := stmt.ExecContext(ctx, a.ProxyWallet, a.Type, a.ConditionID, ts, string(a.ID))
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

// touchWallet stamps last_updated so the next batch rotates to other
// wallets (the selection order's first key).
func (j *ActivityJob) touchWallet(ctx context.Context, wallet string) error {
	return j.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE wallets SET last_updated = ? WHERE proxy_wallet = ?`,
			time.Now().UTC().Format(time.RFC3339), wallet)
		return err
	})
}
