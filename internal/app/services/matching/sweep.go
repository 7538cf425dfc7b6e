package matching

import (
	"context"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/core"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// DefaultSweepInterval is how often the safety sweep runs.
const DefaultSweepInterval = 30 * time.Second

// DefaultSweepBatchSize bounds how many requirements one sweep pass picks up.
const DefaultSweepBatchSize = 100

// SafetySweep periodically re-runs the matcher over requirements that
// never completed inline processing — queue rejections, a crashed
// worker, an event the bus dropped — at the lowest priority lane so it
// never starves event-triggered runs. It is
// scheduled through core.Scheduler the same way the outbox publisher and
// availability TTL sweeper are.
type SafetySweep struct {
	requirements RequirementStore
	queue        *Queue
	scheduler    *core.Scheduler
	interval     time.Duration
	batchSize    int
	log          *logger.Logger
}

// NewSafetySweep builds a SafetySweep that runs every interval.
func NewSafetySweep(requirements RequirementStore, queue *Queue, interval time.Duration, batchSize int, log *logger.Logger) *SafetySweep {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	if log == nil {
		log = logger.NewDefault("matching-safety-sweep")
	}
	return &SafetySweep{
		requirements: requirements,
		queue:        queue,
		scheduler:    core.NewScheduler(log),
		interval:     interval,
		batchSize:    batchSize,
		log:          log,
	}
}

// Name implements system.Service.
func (s *SafetySweep) Name() string { return "matching-safety-sweep" }

// Descriptor implements system.DescriptorProvider.
func (s *SafetySweep) Descriptor() core.Descriptor {
	return core.Descriptor{Name: s.Name(), Domain: "matching", Layer: core.LayerEngine}
}

// Start implements system.Service.
func (s *SafetySweep) Start(ctx context.Context) error {
	schedule := cronEverySweep(s.interval)
	if err := s.scheduler.AddFunc(ctx, schedule, s.Name(), s.runOnce); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Stop implements system.Service.
func (s *SafetySweep) Stop(_ context.Context) error {
	s.scheduler.Stop()
	return nil
}

func (s *SafetySweep) runOnce(ctx context.Context) error {
	rows, err := s.requirements.ListOpenForSweep(ctx, s.batchSize)
	if err != nil {
		return err
	}
	swept := 0
	for _, r := range rows {
		if err := s.queue.Enqueue(ctx, r.ID, "safety_sweep", PriorityLow); err != nil {
			s.log.WithField("requirement_id", r.ID).WithField("error", err).Warn("safety sweep enqueue failed")
			continue
		}
		swept++
	}
	if swept > 0 {
		s.log.WithField("count", swept).Info("safety sweep enqueued stale requirements")
	}
	return nil
}

func cronEverySweep(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
