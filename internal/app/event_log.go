package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/store"
)

// runEventLog persists every pipeline and operational event published on
// bus to event_log for the dashboard's audit trail, dead-lettering anything
// that fails to write so it can be replayed later via the bus's DLQ. Both
// cmd/evaluator and cmd/trader run their own instance against their own
// bus.
func runEventLog(ctx context.Context, bus *eventbus.Bus, gw *store.Gateway, log zerolog.Logger) {
	pipeline := bus.SubscribePipeline()
	operational := bus.SubscribeOperational()
	defer pipeline.Unsubscribe()
	defer operational.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pipeline.C:
			if !ok {
				return
			}
			if n := pipeline.Lagged(); n > 0 {
				log.Warn().Int("skipped", n).Msg("event_log consumer lagged; events evicted")
			}
			persistEvent(ctx, bus, gw, log, eventTypeName(ev), ev)
		case ev, ok := <-operational.C:
			if !ok {
				return
			}
			persistEvent(ctx, bus, gw, log, eventTypeName(ev), ev)
		}
	}
}

func eventTypeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func persistEvent(ctx context.Context, bus *eventbus.Bus, gw *store.Gateway, log zerolog.Logger, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Str("event_type", eventType).Err(err).Msg("marshal event for event_log failed")
		return
	}

	err = gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO event_log (event_type, event_data, published_at)
			VALUES (?, ?, ?)
		`, eventType, string(data), time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		log.Warn().Str("event_type", eventType).Err(err).Msg("persist event_log row failed")
		if dlqErr := bus.DLQ().Record(ctx, eventType, string(data), err); dlqErr != nil {
			log.Warn().Str("event_type", eventType).Err(dlqErr).Msg("dead-letter event_log failure failed")
		}
	}
}
