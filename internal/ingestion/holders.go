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

// HolderConfig tunes the per-market holder snapshot job.
type HolderConfig struct {
	BatchSize  int // markets processed per run
	FetchLimit int // holders requested per market
}

// HolderJob snapshots each of today's top-ranked markets' holder
// distribution into holder_snapshots, feeding market scoring's
// top_holder_concentration and discovery's HOLDER path.
type HolderJob struct {
	gw     *store.Gateway
	client *exchange.Client
	log    zerolog.Logger
	cfg    HolderConfig
}

// NewHolderJob constructs a HolderJob.
func NewHolderJob(gw *store.Gateway, client *exchange.Client, log zerolog.Logger, cfg HolderConfig) *HolderJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	return &HolderJob{gw: gw, client: client, log: log, cfg: cfg}
}

// selectMarkets returns up to n condition ids from today's market rankings,
// best rank (lowest event_rank, then highest mscore) first.
func (j *HolderJob) selectMarkets(ctx context.Context, n int) ([]string, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var conditions []string
	err := j.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT condition_id FROM market_scores_daily
			WHERE score_date = ?
			ORDER BY (event_rank = 0), event_rank ASC, mscore DESC
			LIMIT ?
		`, today, n)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				return err
			}
			conditions = append(conditions, cid)
		}
		return rows.Err()
	})
	return conditions, err
}

// RunOnce processes one batch of markets and returns the run's stats.
func (j *HolderJob) RunOnce(ctx context.Context) (RunStats, error) {
	stats := RunStats{JobName: "holder_ingestion", RanAt: time.Now().UTC()}
	takenAt := stats.RanAt.Format(time.RFC3339)

	conditions, err := j.selectMarkets(ctx, j.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, cid := range conditions {
		inserted, err := j.ingestMarket(ctx, cid, takenAt)
		stats.ItemsProcessed++
		if err != nil {
			logItemFailure(j.log, stats.JobName, cid, err)
			continue
		}
		stats.RowsInserted += inserted
	}

	stats.Succeeded = true
	if err := persistRunStats(ctx, j.gw, stats); err != nil {
		j.log.Warn().Err(err).Msg("persist holder ingestion run stats failed")
	}
	return stats, nil
}

func (j *HolderJob) ingestMarket(ctx context.Context, conditionID, takenAt string) (int, error) {
	holders, err := j.client.FetchHolders(ctx, conditionID, j.cfg.FetchLimit)
	if err != nil {
		var exErr *exchange.Error
		if asExchangeError(err, &exErr) && exErr.Kind == exchange.KindPaginationOffsetCap {
			return 0, nil
		}
		return 0, err
	}
	if len(holders) == 0 {
		return 0, nil
	}
	if pErr := persistRawResponse(ctx, j.gw, "/holders", map[string]any{"market": conditionID}, holders); pErr != nil {
		j.log.Warn().Err(pErr).Str("condition_id", conditionID).Msg("persist raw holder page failed")
	}
	return j.insertHolders(ctx, conditionID, holders, takenAt)
}

func (j *HolderJob) insertHolders(ctx context.Context, conditionID string, holders []exchange.RawHolder, takenAt string) (int, error) {
	inserted := 0
	err := j.gw.WithTx(ctx, "insert_holders", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO holder_snapshots (condition_id, proxy_wallet, amount, taken_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range holders {
			amount, aErr := strconv.ParseFloat(string(h.Amount), 64)
			if aErr != nil {
				continue
			}
			res, err := stmt.ExecContext(ctx, conditionID, h.ProxyWallet, amount, takenAt)
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
