// Package store is the embedded-store gateway. A single dedicated
// worker goroutine owns the one *sql.DB connection; every other component
// talks to it through Call/CallNamed closures instead of holding the
// connection directly, so the store stays single-writer even though SQLite
// itself would allow more.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// job is one unit of work submitted to the gateway worker.
type job struct {
	name string
	fn   func(*sql.DB) error
	done chan error
}

// Gateway serializes all store access onto one worker goroutine.
type Gateway struct {
	db     *sql.DB
	jobs   chan job
	log    zerolog.Logger
	cancel context.CancelFunc
	closed chan struct{}
}

// Open opens the SQLite file at path in WAL mode with a 30s busy timeout,
// runs migrations, and starts the worker goroutine.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Gateway, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // one writer, enforced at the pool too

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		db:     db,
		jobs:   make(chan job, 256),
		log:    log,
		cancel: cancel,
		closed: make(chan struct{}),
	}
	go g.run(workerCtx)
	return g, nil
}

func (g *Gateway) run(ctx context.Context) {
	defer close(g.closed)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-g.jobs:
			start := time.Now()
			err := j.fn(g.db)
			if err != nil {
				g.log.Warn().Str("op", j.name).Err(err).Dur("elapsed", time.Since(start)).Msg("store op failed")
			}
			j.done <- err
		}
	}
}

// Call runs fn on the worker goroutine and waits for it to finish.
func (g *Gateway) Call(ctx context.Context, fn func(*sql.DB) error) error {
	return g.CallNamed(ctx, "call", fn)
}

// CallNamed is Call with an operation name used for logging/telemetry.
func (g *Gateway) CallNamed(ctx context.Context, name string, fn func(*sql.DB) error) error {
	j := job{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case g.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithTx runs fn inside one explicit transaction, committing on success.
func (g *Gateway) WithTx(ctx context.Context, name string, fn func(*sql.Tx) error) error {
	return g.CallNamed(ctx, name, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Close stops the worker and closes the underlying connection.
func (g *Gateway) Close() error {
	g.cancel()
	<-g.closed
	return g.db.Close()
}
