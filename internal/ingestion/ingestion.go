// Package ingestion implements the shared per-wallet/per-market paging
// contract: select a bounded set of work items in a deterministic
// order, page the exchange until an empty page, a short page, or a
// classified pagination-offset-cap error, persist every raw response
// verbatim, deduplicate derived rows by their entity-specific unique key,
// and record per-run counters into scheduler_run_stats.
package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/rs/zerolog"
)

// RunStats summarizes one job invocation, persisted for the dashboard's
// funnel view.
type RunStats struct {
	JobName        string
	RanAt          time.Time
	ItemsProcessed int
	RowsInserted   int
	Succeeded      bool
}

// persistRunStats writes one scheduler_run_stats row.
func persistRunStats(ctx context.Context, gw dbCaller, stats RunStats) error {
	return gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_run_stats (job_name, ran_at, items_processed, rows_inserted, succeeded)
			VALUES (?, ?, ?, ?, ?)
		`, stats.JobName, stats.RanAt.Format(time.RFC3339), stats.ItemsProcessed, stats.RowsInserted, boolToInt(stats.Succeeded))
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dbCaller is the subset of *store.Gateway every ingestion job needs; kept
// as an interface so job tests can supply a fake without opening sqlite.
type dbCaller interface {
	Call(ctx context.Context, fn func(*sql.DB) error) error
}

// persistRawResponse records one raw API page verbatim under
// raw_api_responses.
func persistRawResponse(ctx context.Context, gw dbCaller, endpoint string, params map[string]any, body any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal raw response params: %w", err)
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal raw response body: %w", err)
	}
	return gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO raw_api_responses (endpoint, params, body, fetched_at)
			VALUES (?, ?, ?, ?)
		`, endpoint, string(paramsJSON), string(bodyJSON), time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// isPaginationEnd reports whether err (from an exchange fetch) or a short
// page signals the normal end of a paging loop rather than a failure.
func isPaginationEnd(err error, pageLen, limit int) bool {
	if err == nil {
		return pageLen < limit
	}
	var exErr *exchange.Error
	if ok := asExchangeError(err, &exErr); ok {
		return exErr.Kind == exchange.KindPaginationOffsetCap
	}
	return false
}

func asExchangeError(err error, target **exchange.Error) bool {
	if e, ok := err.(*exchange.Error); ok {
		*target = e
		return true
	}
	return false
}

// logItemFailure records a per-item failure: warn, never abort the batch.
func logItemFailure(log zerolog.Logger, job, item string, err error) {
	log.Warn().Str("job", job).Str("item", item).Err(err).Msg("ingestion item failed, continuing batch")
}

// publishTradesIngested emits the trade-ingestion pipeline event when a bus
// is wired, and kicks the fast-path channel so the mirror sweep reacts
// without waiting for its next scheduled tick. Jobs that ingest
// non-publishable rows (activity, positions, holders) skip this.
func publishTradesIngested(bus *eventbus.Bus, wallet string, count int) {
	if bus == nil || count == 0 {
		return
	}
	bus.PublishPipeline(eventbus.TradesIngested{
		WalletAddress: wallet,
		TradesCount:   count,
		IngestedAt:    time.Now().UTC(),
	})
	bus.TriggerFastPath()
}
