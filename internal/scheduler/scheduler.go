// Package scheduler emits fixed-interval ticks, one channel per registered
// job, backed by robfig/cron for the interval bookkeeping.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobSpec describes one scheduled tick emitter.
type JobSpec struct {
	Name          string
	Interval      time.Duration
	TickChannel   chan struct{}
	RunImmediately bool
}

// Scheduler owns a cron instance and the tick channels for every job spec.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	jobs []JobSpec
}

// New constructs a scheduler. Each JobSpec's TickChannel must be buffered
// with capacity 1 so a slow consumer coalesces missed ticks rather than
// blocking the cron dispatcher.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// emit sends a single tick, dropping it (coalescing) if the channel's
// single slot is already occupied.
func emit(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Register adds a job spec. It must be called before Run.
func (s *Scheduler) Register(spec JobSpec) error {
	if cap(spec.TickChannel) < 1 {
		return fmt.Errorf("scheduler: job %q tick channel must be buffered", spec.Name)
	}
	cronSpec := fmt.Sprintf("@every %s", spec.Interval)
	name := spec.Name
	ch := spec.TickChannel
	_, err := s.cron.AddFunc(cronSpec, func() {
		s.log.Debug().Str("job", name).Msg("tick")
		emit(ch)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %q: %w", spec.Name, err)
	}
	s.jobs = append(s.jobs, spec)
	return nil
}

// Run starts the cron dispatcher, firing any run_immediately jobs once up
// front, and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, j := range s.jobs {
		if j.RunImmediately {
			emit(j.TickChannel)
		}
	}
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
