package ingestion

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/store"
	"github.com/rs/zerolog"
)

// PositionConfig tunes the per-wallet position snapshot job.
type PositionConfig struct {
	BatchSize int
	PageLimit int
}

// PositionJob pages each selected wallet's open positions into a single
// position_snapshots batch stamped with one taken_at per run.
type PositionJob struct {
	gw     *store.Gateway
	client *exchange.Client
	log    zerolog.Logger
	cfg    PositionConfig
}

// NewPositionJob constructs a PositionJob.
func NewPositionJob(gw *store.Gateway, client *exchange.Client, log zerolog.Logger, cfg PositionConfig) *PositionJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	return &PositionJob{gw: gw, client: client, log: log, cfg: cfg}
}

func (j *PositionJob) selectWallets(ctx context.Context, n int) ([]string, error) {
	var wallets []string
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT proxy_wallet FROM wallets WHERE active = 1
			ORDER BY discovered_at ASC
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
func (j *PositionJob) RunOnce(ctx context.Context) (RunStats, error) {
	stats := RunStats{JobName: "position_ingestion", RanAt: time.Now().UTC()}
	takenAt := stats.RanAt.Format(time.RFC3339)

	wallets, err := j.selectWallets(ctx, j.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, wallet := range wallets {
		inserted, err := j.ingestWallet(ctx, wallet, takenAt)
		stats.ItemsProcessed++
		if err != nil {
			logItemFailure(j.log, stats.JobName, wallet, err)
			continue
		}
		stats.RowsInserted += inserted
	}

	stats.Succeeded = true
	if err := persistRunStats(ctx, j.gw, stats); err != nil {
		j.log.Warn().Err(err).Msg("persist position ingestion run stats failed")
	}
	return stats, nil
}

func (j *PositionJob) ingestWallet(ctx context.Context, wallet, takenAt string) (int, error) {
	inserted := 0
	offset := 0
	for {
		page, err := j.client.FetchPositions(ctx, wallet, j.cfg.PageLimit, offset)
		end := isPaginationEnd(err, len(page), j.cfg.PageLimit)
		if err != nil && !end {
			return inserted, err
		}

		if len(page) > 0 {
			if pErr := persistRawResponse(ctx, j.gw, "/positions", map[string]any{"user": wallet, "offset": offset}, page); pErr != nil {
				j.log.Warn().Err(pErr).Str("wallet", wallet).Msg("persist raw position page failed")
			}
			n, iErr := j.insertPositions(ctx, page, takenAt)
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

func (j *PositionJob) insertPositions(ctx context.Context, page []exchange.RawPosition, takenAt string) (int, error) {
	inserted := 0
	err := j.gw.WithTx(ctx, "insert_positions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO position_snapshots (proxy_wallet, condition_id, size, taken_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range page {
			size, sErr := strconv.ParseFloat(string(p.Size), 64)
			if sErr != nil {
				continue
			}
			res, err := stmt.ExecContext(ctx, p.ProxyWallet, p.ConditionID, size, takenAt)
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
