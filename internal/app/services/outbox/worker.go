package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/core"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Worker polls and publishes outbox rows on a fixed schedule, partitioned
// by hash(aggregate_id) mod N so ordering per aggregate is preserved while
// different aggregates publish in parallel. Each partition
// gets its own cron job (robfig/cron) rather than a shared ticker, so a
// slow partition never delays the others' next tick.
type Worker struct {
	publisher      *Publisher
	partitionCount int
	pollInterval   time.Duration
	batchSize      int
	scheduler      *core.Scheduler
	log            *logger.Logger
}

// NewWorker builds a Worker with partitionCount parallel pollers.
func NewWorker(publisher *Publisher, partitionCount int, pollInterval time.Duration, batchSize int, log *logger.Logger) *Worker {
	if partitionCount < 1 {
		partitionCount = 1
	}
	if log == nil {
		log = logger.NewDefault("outbox-worker")
	}
	return &Worker{
		publisher:      publisher,
		partitionCount: partitionCount,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		scheduler:      core.NewScheduler(log),
		log:            log,
	}
}

// Name implements system.Service.
func (w *Worker) Name() string { return "outbox-publisher" }

// Descriptor implements system.DescriptorProvider.
func (w *Worker) Descriptor() core.Descriptor {
	return core.Descriptor{Name: w.Name(), Domain: "outbox", Layer: core.LayerData}
}

// Start implements system.Service: it registers one cron job per partition.
func (w *Worker) Start(ctx context.Context) error {
	schedule := cronEvery(w.pollInterval)
	for partition := 0; partition < w.partitionCount; partition++ {
		partition := partition
		name := fmt.Sprintf("%s[%d/%d]", w.Name(), partition, w.partitionCount)
		if err := w.scheduler.AddFunc(ctx, schedule, name, func(ctx context.Context) error {
			_, err := w.publisher.RunPartition(ctx, partition, w.partitionCount, w.batchSize)
			return err
		}); err != nil {
			return err
		}
	}
	w.scheduler.Start()
	return nil
}

// Stop implements system.Service.
func (w *Worker) Stop(_ context.Context) error {
	w.scheduler.Stop()
	return nil
}

func cronEvery(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
