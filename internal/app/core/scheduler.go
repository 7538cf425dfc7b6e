package core

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Scheduler wraps robfig/cron the way aristath-sentinel's
// internal/scheduler package does: named jobs registered against a cron
// expression, errors logged rather than panicking the process. Every
// periodic poller in this module (the outbox publisher, the availability
// TTL sweeper, the matching safety sweep) registers through one of these
// instead of hand-rolling a time.Ticker loop.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// NewScheduler builds a Scheduler with second-level precision, so jobs can
// be scheduled as "@every 30s" as well as six-field expressions whose
// first field is seconds.
func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{cron: cron.New(cron.WithSeconds()), log: log}
}

// AddFunc registers job under name on the given schedule (e.g. "@every
// 30s"). job receives the scheduler's background context; errors are
// logged, never propagated, following a "log and continue" poller idiom.
func (s *Scheduler) AddFunc(ctx context.Context, schedule, name string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job(ctx); err != nil {
			s.log.WithField("job", name).WithField("error", err).Warn("scheduled job failed")
		}
	})
	return err
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, blocking until any in-flight job finishes.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
