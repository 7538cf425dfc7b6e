package matching

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/core"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Priority is the matching job's queue lane.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// DefaultMaxInflight is the default MAX_INFLIGHT bound on outstanding jobs.
const DefaultMaxInflight = 200

// DefaultWorkerCount is how many goroutines drain the queue concurrently.
const DefaultWorkerCount = 8

// laneCapacity bounds each priority channel; EnqueueMatch rejects with
// apperr.KindBusy once MAX_INFLIGHT concurrent jobs are outstanding, so
// this only needs to be large enough that a burst within that budget
// never blocks the enqueuing caller.
const laneCapacity = 256

type job struct {
	requirementID string
	trigger       string
}

// Queue implements the bounded priority job queue that decouples job
// submission from the matching pipeline's actual execution, and is itself
// the requirement service's MatchEnqueuer implementation. Its producers are
// that service's DIRECT_BUY routing and the safety sweep; no bus event
// (REQUIREMENT_PUBLISHED, AVAILABILITY_CREATED, ...) enqueues a job.
type Queue struct {
	engine *Engine

	high, medium, low chan job

	inflight    atomic.Int32
	maxInflight int32

	workerCount int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	log         *logger.Logger
}

// NewQueue builds a Queue bounded at maxInflight concurrent jobs, drained
// by workerCount goroutines. maxInflight<=0 defaults to
// DefaultMaxInflight; workerCount<=0 defaults to DefaultWorkerCount.
func NewQueue(engine *Engine, maxInflight, workerCount int, log *logger.Logger) *Queue {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if log == nil {
		log = logger.NewDefault("matching-queue")
	}
	return &Queue{
		engine:      engine,
		high:        make(chan job, laneCapacity),
		medium:      make(chan job, laneCapacity),
		low:         make(chan job, laneCapacity),
		maxInflight: int32(maxInflight),
		workerCount: workerCount,
		log:         log,
	}
}

// EnqueueMatch implements requirement.MatchEnqueuer: a DIRECT_BUY
// requirement's initial match attempt runs at high priority.
func (q *Queue) EnqueueMatch(ctx context.Context, requirementID string) error {
	return q.Enqueue(ctx, requirementID, "requirement_published", PriorityHigh)
}

// Enqueue submits a matching run for requirementID at priority, labeling
// the run with trigger for metrics/events. It rejects with
// apperr.KindBusy when MAX_INFLIGHT is already saturated or the target
// lane is full.
func (q *Queue) Enqueue(ctx context.Context, requirementID, trigger string, priority Priority) error {
	if q.inflight.Add(1) > q.maxInflight {
		q.inflight.Add(-1)
		return apperr.New(apperr.KindBusy, "matching queue is at capacity, try again shortly")
	}

	j := job{requirementID: requirementID, trigger: trigger}
	lane := q.laneFor(priority)
	select {
	case lane <- j:
		return nil
	case <-ctx.Done():
		q.inflight.Add(-1)
		return ctx.Err()
	default:
		q.inflight.Add(-1)
		return apperr.New(apperr.KindBusy, "matching queue lane is full, try again shortly")
	}
}

func (q *Queue) laneFor(p Priority) chan job {
	switch p {
	case PriorityHigh:
		return q.high
	case PriorityMedium:
		return q.medium
	default:
		return q.low
	}
}

// Name implements system.Service.
func (q *Queue) Name() string { return "matching-queue" }

// Descriptor implements system.DescriptorProvider.
func (q *Queue) Descriptor() core.Descriptor {
	return core.Descriptor{Name: q.Name(), Domain: "matching", Layer: core.LayerEngine}
}

// Start implements system.Service: it launches workerCount drain loops.
func (q *Queue) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.drain(workerCtx)
	}
	return nil
}

// Stop implements system.Service: it signals workers to exit and waits
// for any in-flight job to finish.
func (q *Queue) Stop(_ context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return nil
}

// drain runs on one worker goroutine, preferring higher-priority lanes:
// a non-blocking pass checks high then medium before falling back to a
// blocking select across all three.
func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()
	sec := security.System("matching-queue-worker")
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.high:
			q.run(ctx, sec, j)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-q.high:
			q.run(ctx, sec, j)
		case j := <-q.medium:
			q.run(ctx, sec, j)
		case j := <-q.low:
			q.run(ctx, sec, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, sec security.Context, j job) {
	defer q.inflight.Add(-1)
	if _, err := q.engine.RunForRequirement(ctx, sec, j.requirementID, j.trigger); err != nil {
		q.log.WithField("requirement_id", j.requirementID).WithField("trigger", j.trigger).WithField("error", err).
			Warn("matching run failed")
	}
}
