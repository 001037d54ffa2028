// Package app is the orchestrator: it owns the store gateway, the exchange
// client, the event bus, and the scheduler, and wires every pure pipeline
// package (scoring, discovery, ingestion, features, persona, walletscore,
// rules) into scheduled job runners. cmd/evaluator is a thin shell around
// this package.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysignal/copytrader/internal/config"
	"github.com/polysignal/copytrader/internal/discovery"
	"github.com/polysignal/copytrader/internal/eventbus"
	"github.com/polysignal/copytrader/internal/exchange"
	"github.com/polysignal/copytrader/internal/ingestion"
	"github.com/polysignal/copytrader/internal/logging"
	"github.com/polysignal/copytrader/internal/metrics"
	"github.com/polysignal/copytrader/internal/papermirror"
	"github.com/polysignal/copytrader/internal/scheduler"
	"github.com/polysignal/copytrader/internal/store"
)

// App holds every long-lived component wired together for the evaluator
// process. cmd/trader builds its own, smaller TraderApp around the wallet
// engine instead of this one.
type App struct {
	cfg    config.Config
	log    zerolog.Logger
	gw     *store.Gateway
	client *exchange.Client
	bus    *eventbus.Bus
	sched  *scheduler.Scheduler

	discoveryJob *discovery.Job
	tradeJob     *ingestion.TradeJob
	activityJob  *ingestion.ActivityJob
	positionJob  *ingestion.PositionJob
	holderJob    *ingestion.HolderJob
	paperMirror  *papermirror.Engine

	ticks map[string]chan struct{}
}

// New opens the store, constructs the exchange client and event bus, and
// builds every job instance from cfg. It does not start the scheduler;
// call Run for that.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	gw, err := store.Open(ctx, cfg.StorePath, logging.Component(log, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := exchange.New(cfg.ExchangeClientConfig())
	bus := eventbus.New(cfg.EventBusOptions())
	bus.DLQ().Attach(gw)
	sched := scheduler.New(logging.Component(log, "scheduler"))

	a := &App{
		cfg:    cfg,
		log:    log,
		gw:     gw,
		client: client,
		bus:    bus,
		sched:  sched,
		ticks:  make(map[string]chan struct{}),
	}

	a.discoveryJob = discovery.New(gw, client, bus, logging.Component(log, "discovery"), cfg.DiscoveryJobConfig())
	a.tradeJob = ingestion.NewTradeJob(gw, client, bus, logging.Component(log, "ingestion.trades"), cfg.TradeIngestionConfig())
	a.activityJob = ingestion.NewActivityJob(gw, client, logging.Component(log, "ingestion.activity"), cfg.ActivityIngestionConfig())
	a.positionJob = ingestion.NewPositionJob(gw, client, logging.Component(log, "ingestion.positions"), cfg.PositionIngestionConfig())
	a.holderJob = ingestion.NewHolderJob(gw, client, logging.Component(log, "ingestion.holders"), cfg.HolderIngestionConfig())
	a.paperMirror = papermirror.New(gw, cfg.PaperMirrorConfig())

	return a, nil
}

// Bus exposes the event bus so cmd/evaluator can wire consumers (dashboard
// feeds, DLQ draining) without reaching into internals.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// RunMarketScoringOnce, RunPersonaClassificationOnce, and the other
// RunXOnce wrappers let cmd/copyctl trigger a single pipeline job
// out-of-band (its "classify" support command) without
// duplicating the job bodies or starting the scheduler.
func (a *App) RunMarketScoringOnce(ctx context.Context) error { return a.runMarketScoring(ctx) }

func (a *App) RunPersonaClassificationOnce(ctx context.Context) error {
	return a.runPersonaClassification(ctx)
}

func (a *App) RunWalletScoringOnce(ctx context.Context) error { return a.runWalletScoring(ctx) }

func (a *App) RunWalletRulesOnce(ctx context.Context) error { return a.runWalletRules(ctx) }

// Store exposes the gateway for CLI tools that read the same database.
func (a *App) Store() *store.Gateway { return a.gw }

// Close releases the store connection. Call after Run returns.
func (a *App) Close() error { return a.gw.Close() }

type jobDef struct {
	name           string
	interval       time.Duration
	runImmediately bool
	run            func(ctx context.Context) error
}

func (a *App) jobs() []jobDef {
	j := a.cfg.Jobs
	discoveryInterval := j.WalletDiscovery
	if a.continuousDiscovery() {
		// Event-driven: runContinuousDiscovery reacts to MarketsScored
		// instead of a timer.
		discoveryInterval = 0
	}
	return []jobDef{
		{"market_scoring", j.MarketScoring, j.RunImmediately, a.runMarketScoring},
		{"wallet_discovery", discoveryInterval, j.RunImmediately, a.discoveryJob.RunMarketDiscovery},
		{"leaderboard_discovery", j.LeaderboardDiscovery, j.RunImmediately, func(ctx context.Context) error {
			_, err := a.discoveryJob.RunLeaderboardDiscovery(ctx)
			return err
		}},
		{"trade_ingestion", j.TradeIngestion, j.RunImmediately, func(ctx context.Context) error {
			_, err := a.tradeJob.RunOnce(ctx)
			return err
		}},
		{"activity_ingestion", j.ActivityIngestion, j.RunImmediately, func(ctx context.Context) error {
			_, err := a.activityJob.RunOnce(ctx)
			return err
		}},
		{"position_ingestion", j.PositionIngestion, j.RunImmediately, func(ctx context.Context) error {
			_, err := a.positionJob.RunOnce(ctx)
			return err
		}},
		{"holder_ingestion", j.HolderIngestion, j.RunImmediately, func(ctx context.Context) error {
			_, err := a.holderJob.RunOnce(ctx)
			return err
		}},
		{"feature_computation", j.FeatureComputation, j.RunImmediately, a.runFeatureComputation},
		{"persona_classification", j.PersonaClassification, j.RunImmediately, a.runPersonaClassification},
		{"wallet_scoring", j.WalletScoring, j.RunImmediately, a.runWalletScoring},
		{"wallet_rules", j.WalletRules, j.RunImmediately, a.runWalletRules},
		{"paper_mirror_sweep", j.PaperMirrorSweep, false, func(ctx context.Context) error {
			_, err := a.RunPaperTickOnce(ctx)
			return err
		}},
	}
}

// Run registers every job with the scheduler, starts one consumer goroutine
// per job's tick channel, and blocks running the cron dispatcher until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	go runEventLog(ctx, a.bus, a.gw, a.log)
	go a.runPaperMirrorConsumer(ctx)
	go a.runFastPathMirror(ctx)
	if a.continuousDiscovery() {
		go a.runContinuousDiscovery(ctx)
	}
	a.recoveryTick(ctx)

	defs := a.jobs()
	for _, d := range defs {
		if d.interval <= 0 {
			continue
		}
		ch := make(chan struct{}, 1)
		a.ticks[d.name] = ch
		if err := a.sched.Register(scheduler.JobSpec{
			Name:           d.name,
			Interval:       d.interval,
			TickChannel:    ch,
			RunImmediately: d.runImmediately,
		}); err != nil {
			return fmt.Errorf("register job %q: %w", d.name, err)
		}
		go a.consume(ctx, d)
	}
	return a.sched.Run(ctx)
}

func (a *App) continuousDiscovery() bool {
	return strings.EqualFold(strings.TrimSpace(a.cfg.WalletDiscoveryMode), "continuous")
}

// runContinuousDiscovery is the event-driven wallet-discovery mode: every
// MarketsScored event kicks a discovery pass over the freshly ranked
// markets, instead of waiting for the scheduled interval.
func (a *App) runContinuousDiscovery(ctx context.Context) {
	sub := a.bus.SubscribePipeline()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if _, ok := ev.(eventbus.MarketsScored); !ok {
				continue
			}
			if err := a.discoveryJob.RunMarketDiscovery(ctx); err != nil {
				a.log.Warn().Err(err).Msg("continuous wallet discovery failed")
			}
		}
	}
}

// consume runs one job to completion every time its tick channel fires,
// publishing JobStarted/JobCompleted/JobFailed operational events around
// each run.
func (a *App) consume(ctx context.Context, d jobDef) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.ticks[d.name]:
			start := time.Now()
			a.bus.PublishOperational(eventbus.JobStarted{JobName: d.name, StartedAt: start})
			err := d.run(ctx)
			metrics.JobDurationSeconds.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
			if err != nil {
				a.log.Warn().Str("job", d.name).Err(err).Msg("job run failed")
				a.bus.PublishOperational(eventbus.JobFailed{JobName: d.name, Err: err, FailedAt: time.Now()})
				metrics.JobRuns.WithLabelValues(d.name, "failed").Inc()
				continue
			}
			a.bus.PublishOperational(eventbus.JobCompleted{JobName: d.name, CompletedAt: time.Now(), Duration: time.Since(start)})
			metrics.JobRuns.WithLabelValues(d.name, "success").Inc()
		}
	}
}

// recordRunStats writes one scheduler_run_stats row, mirroring the shape
// ingestion jobs persist for themselves (internal/ingestion.RunStats) so
// the dashboard's funnel view has a uniform source across every job.
func recordRunStats(ctx context.Context, gw *store.Gateway, jobName string, itemsProcessed, rowsInserted int, succeeded bool) error {
	return gw.Call(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduler_run_stats (job_name, ran_at, items_processed, rows_inserted, succeeded)
			VALUES (?, ?, ?, ?, ?)
		`, jobName, time.Now().UTC().Format(time.RFC3339), itemsProcessed, rowsInserted, boolToInt(succeeded))
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
