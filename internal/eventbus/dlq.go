package eventbus

import (
	"context"
	"database/sql"
	"time"

	"github.com/polysignal/copytrader/internal/store"
)

// MaxRetries is the retry ceiling after which a dead-lettered event is
// marked exhausted and stops being a replay candidate.
const MaxRetries = 5

// FailedEvent is one row of the failed-event queue.
type FailedEvent struct {
	EventType  string
	EventData  string
	RetryCount int
	Status     string
}

// DLQ tracks event-consumer failures; Attach binds it to the store so
// entries survive a restart.
type DLQ struct {
	gw *store.Gateway
}

func newDLQ() *DLQ { return &DLQ{} }

// Attach binds the DLQ to a store gateway for persistence.
func (d *DLQ) Attach(gw *store.Gateway) { d.gw = gw }

// Record enqueues a failed event, incrementing its retry count on
// conflict. Once the count exceeds MaxRetries the row transitions to
// "exhausted" and Replay skips it.
func (d *DLQ) Record(ctx context.Context, eventType, eventData string, causeErr error) error {
	if d.gw == nil {
		return nil
	}
	errMsg := ""
	if causeErr != nil {
		errMsg = causeErr.Error()
	}
	return d.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO failed_events (event_type, event_data, retry_count, status, last_error, updated_at)
			VALUES (?, ?, 1, 'pending', ?, ?)
			ON CONFLICT(event_type, event_data) DO UPDATE SET
				retry_count = retry_count + 1,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at,
				status = CASE WHEN retry_count + 1 > ? THEN 'exhausted' ELSE 'pending' END
		`, eventType, eventData, errMsg, time.Now().Format(time.RFC3339), MaxRetries)
		return err
	})
}

// Replay returns up to limit pending (non-exhausted) failed events for an
// operator-triggered retry, oldest first.
func (d *DLQ) Replay(ctx context.Context, limit int) ([]FailedEvent, error) {
	if d.gw == nil {
		return nil, nil
	}
	var out []FailedEvent
	err := d.gw.Call(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT event_type, event_data, retry_count, status
			FROM failed_events WHERE status = 'pending'
			ORDER BY updated_at ASC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var fe FailedEvent
			if err := rows.Scan(&fe.EventType, &fe.EventData, &fe.RetryCount, &fe.Status); err != nil {
				return err
			}
			out = append(out, fe)
		}
		return rows.Err()
	})
	return out, err
}
