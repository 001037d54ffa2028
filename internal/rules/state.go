package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/store"
)

// Engine evaluates and persists wallet-rules transitions against the store.
type Engine struct {
	gw *store.Gateway
}

// New constructs an Engine bound to a store gateway.
func New(gw *store.Gateway) *Engine { return &Engine{gw: gw} }

// ReadState loads the current state for a wallet, defaulting to Candidate
// when no row exists yet.
func (e *Engine) ReadState(ctx context.Context, wallet string) (model.WalletRuleState, error) {
	var state string
	err := e.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT state FROM wallet_rules_state WHERE proxy_wallet = ?`, wallet)
		err := row.Scan(&state)
		if err == sql.ErrNoRows {
			state = string(model.StateCandidate)
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read wallet rule state: %w", err)
	}
	return model.WalletRuleState(state), nil
}

// WriteState upserts the wallet's state row.
func (e *Engine) WriteState(ctx context.Context, wallet string, state model.WalletRuleState, now time.Time) error {
	return e.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_state (proxy_wallet, state, last_seen_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(proxy_wallet) DO UPDATE SET
				state = excluded.state,
				last_seen_at = excluded.last_seen_at,
				updated_at = excluded.updated_at
		`, wallet, string(state), now.Format(time.RFC3339), now.Format(time.RFC3339))
		return err
	})
}

// WriteBaselineStyle stores the style snapshot captured at Approved time.
func (e *Engine) WriteBaselineStyle(ctx context.Context, wallet string, snap StyleSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return e.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE wallet_rules_state SET baseline_style_json = ? WHERE proxy_wallet = ?
		`, string(b), wallet)
		return err
	})
}

// ReadBaselineStyle loads the baseline style snapshot, if any.
func (e *Engine) ReadBaselineStyle(ctx context.Context, wallet string) (StyleSnapshot, bool, error) {
	var raw sql.NullString
	err := e.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT baseline_style_json FROM wallet_rules_state WHERE proxy_wallet = ?`, wallet)
		return row.Scan(&raw)
	})
	if err != nil || !raw.Valid || raw.String == "" {
		return StyleSnapshot{}, false, err
	}
	var snap StyleSnapshot
	if err := json.Unmarshal([]byte(raw.String), &snap); err != nil {
		return StyleSnapshot{}, false, err
	}
	return snap, true, nil
}

// RecordEvent appends a row to the wallet-rules audit table.
func (e *Engine) RecordEvent(ctx context.Context, wallet, stage string, d Decision, now time.Time) error {
	return e.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO wallet_rules_events (proxy_wallet, stage, allow, reason, evaluated_at)
			VALUES (?, ?, ?, ?, ?)
		`, wallet, stage, d.Allow, d.Reason, now.Format(time.RFC3339))
		return err
	})
}

// Advance records the audit event for an already-evaluated gate decision d
// and, on allow, writes next as the wallet's state. It returns the
// resulting state (current when d rejects).
func (e *Engine) Advance(ctx context.Context, wallet string, current model.WalletRuleState, d Decision, next model.WalletRuleState, now time.Time, stage string) (model.WalletRuleState, error) {
	if err := e.RecordEvent(ctx, wallet, stage, d, now); err != nil {
		return current, err
	}
	if !d.Allow {
		return current, nil
	}
	if err := e.WriteState(ctx, wallet, next, now); err != nil {
		return current, err
	}
	return next, nil
}
