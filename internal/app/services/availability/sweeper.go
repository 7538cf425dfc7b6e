package availability

import (
	"context"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/core"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Sweeper periodically expires lapsed postings,
// wired into the process lifecycle as a system.Service the same way the
// outbox publisher worker is. It schedules through core.Scheduler
// (robfig/cron) rather than a hand-rolled ticker.
type Sweeper struct {
	svc       *Service
	scheduler *core.Scheduler
	interval  time.Duration
	batchSize int
	log       *logger.Logger
}

// NewSweeper builds a Sweeper that runs every interval.
func NewSweeper(svc *Service, interval time.Duration, batchSize int, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("availability-sweeper")
	}
	return &Sweeper{
		svc:       svc,
		scheduler: core.NewScheduler(log),
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "availability-ttl-sweeper" }

// Descriptor implements system.DescriptorProvider.
func (s *Sweeper) Descriptor() core.Descriptor {
	return core.Descriptor{Name: s.Name(), Domain: "availability", Layer: core.LayerEngine}
}

// Start implements system.Service.
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := cronEverySeconds(s.interval)
	if err := s.scheduler.AddFunc(ctx, schedule, s.Name(), s.runOnce); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Stop implements system.Service.
func (s *Sweeper) Stop(_ context.Context) error {
	s.scheduler.Stop()
	return nil
}

func (s *Sweeper) runOnce(ctx context.Context) error {
	n, err := s.svc.SweepExpired(ctx, s.batchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired lapsed availabilities")
	}
	return nil
}

// cronEverySeconds renders d as a robfig/cron "@every" expression. d below
// one second is rounded up so the scheduler never busy-loops.
func cronEverySeconds(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
