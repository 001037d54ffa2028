package walletengine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/fillability"
	"github.com/polysignal/copytrader/internal/liverouter"
	"github.com/polysignal/copytrader/internal/model"
	"github.com/polysignal/copytrader/internal/papermirror"
	"github.com/polysignal/copytrader/internal/risk"
	"github.com/polysignal/copytrader/internal/store"
)

type handle struct {
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Engine owns one Watcher goroutine per followed wallet and exposes the
// follow/unfollow/pause/resume/halt lifecycle operations.
type Engine struct {
	cfg    Config
	client *exchange.Client
	mirror *papermirror.Engine
	risk   *risk.Manager
	gw      *store.Gateway
	bus     *eventbus.Bus
	log     zerolog.Logger
	fillRec *fillability.Recorder
	router  liverouter.Router

	mu       sync.Mutex
	watchers map[string]*handle
}

// New constructs an Engine. The same Config is applied to every watcher it
// spawns. fillRec may be nil to disable fillability recording. router
// may be nil, in which case every watcher falls back to
// liverouter.Disabled{} regardless of Config.LiveTradingEnabled.
func New(cfg Config, client *exchange.Client, mirror *papermirror.Engine, rm *risk.Manager, gw *store.Gateway, bus *eventbus.Bus, log zerolog.Logger, fillRec *fillability.Recorder, router liverouter.Router) *Engine {
	return &Engine{
		cfg:      cfg,
		client:   client,
		mirror:   mirror,
		risk:     rm,
		gw:       gw,
		bus:      bus,
		log:      log,
		fillRec:  fillRec,
		router:   router,
		watchers: make(map[string]*handle),
	}
}

func (e *Engine) loadWatermark(ctx context.Context, wallet string) (*time.Time, error) {
	var ts sql.NullInt64
	err := e.gw.Call(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT last_ts FROM wallet_watermarks WHERE proxy_wallet = ?`, wallet)
		return row.Scan(&ts)
	})
	if err == sql.ErrNoRows || !ts.Valid {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := time.Unix(ts.Int64, 0).UTC()
	return &t, nil
}

func (e *Engine) setEngineStatus(ctx context.Context, wallet string, status model.WalletEngineStatus) error {
	return e.gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE wallets SET engine_status = ?, last_updated = ? WHERE proxy_wallet = ?`,
			string(status), time.Now().UTC().Format(time.RFC3339), wallet)
		return err
	})
}

// FollowWallet starts a watcher task for wallet, resuming from any stored
// watermark. A no-op if the wallet already has a running watcher.
func (e *Engine) FollowWallet(ctx context.Context, wallet string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.watchers[wallet]; ok {
		return nil
	}

	wm, err := e.loadWatermark(ctx, wallet)
	if err != nil {
		return fmt.Errorf("load watermark for %s: %w", wallet, err)
	}
	if err := e.setEngineStatus(ctx, wallet, model.EngineActive); err != nil {
		return fmt.Errorf("set engine status for %s: %w", wallet, err)
	}

	w := NewWatcher(wallet, e.cfg, e.client, e.mirror, e.risk, e.gw, e.bus, e.log, wm, e.fillRec, e.router)
	watchCtx, cancel := context.WithCancel(context.Background())
	h := &handle{watcher: w, cancel: cancel, done: make(chan struct{})}
	e.watchers[wallet] = h

	go func() {
		defer close(h.done)
		if err := w.Run(watchCtx); err != nil && watchCtx.Err() == nil {
			e.log.Warn().Str("wallet", wallet).Err(err).Msg("watcher exited unexpectedly")
		}
	}()
	return nil
}

// UnfollowWallet cancels the wallet's task and marks it removed in the
// store. ResumeWallet on an unfollowed wallet starts a new watcher.
func (e *Engine) UnfollowWallet(ctx context.Context, wallet string) error {
	e.mu.Lock()
	h, ok := e.watchers[wallet]
	if ok {
		delete(e.watchers, wallet)
	}
	e.mu.Unlock()

	if ok {
		h.cancel()
		<-h.done
	}
	return e.setEngineStatus(ctx, wallet, model.EngineRemoved)
}

// PauseWallet marks the running watcher paused; its loop keeps ticking but
// skips detection/mirroring work.
func (e *Engine) PauseWallet(ctx context.Context, wallet string) error {
	e.mu.Lock()
	h, ok := e.watchers[wallet]
	e.mu.Unlock()
	if ok {
		h.watcher.setStatus(model.EnginePaused)
	}
	return e.setEngineStatus(ctx, wallet, model.EnginePaused)
}

// ResumeWallet un-pauses a running watcher, or respawns one if it isn't
// running (e.g. after a pause survived a process restart).
func (e *Engine) ResumeWallet(ctx context.Context, wallet string) error {
	e.mu.Lock()
	h, ok := e.watchers[wallet]
	e.mu.Unlock()
	if ok {
		h.watcher.setStatus(model.EngineActive)
		return e.setEngineStatus(ctx, wallet, model.EngineActive)
	}
	return e.FollowWallet(ctx, wallet)
}

// KillWallet marks the wallet killed without cancelling its task; the
// watcher keeps ticking but skips polling and mirroring until resumed.
func (e *Engine) KillWallet(ctx context.Context, wallet string) error {
	e.mu.Lock()
	h, ok := e.watchers[wallet]
	e.mu.Unlock()
	if ok {
		h.watcher.setStatus(model.EngineKilled)
	}
	return e.setEngineStatus(ctx, wallet, model.EngineKilled)
}

// HaltAll sets the shared risk manager's halt flag, observed by every
// watcher loop on its next tick.
func (e *Engine) HaltAll() { e.risk.Halt() }

// ResumeAll clears the shared halt flag.
func (e *Engine) ResumeAll() { e.risk.Resume() }

// Shutdown cancels every running watcher and waits for them to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	handles := make([]*handle, 0, len(e.watchers))
	for _, h := range e.watchers {
		handles = append(handles, h)
	}
	e.watchers = make(map[string]*handle)
	e.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		<-h.done
	}
}

// WatchedWallets returns the set of wallets with an active task.
func (e *Engine) WatchedWallets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.watchers))
	for w := range e.watchers {
		out = append(out, w)
	}
	return out
}
