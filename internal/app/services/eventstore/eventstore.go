// Package eventstore implements the append-only audit log per aggregate:
// every staged outbox event is also durably recorded here, independent of
// publish status, so an aggregate's full history survives outbox
// replay/DLQ churn.
package eventstore

import (
	"context"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
)

// Store is the append/read seam for the audit log.
type Store interface {
	Append(ctx context.Context, event outbox.Event) error
	History(ctx context.Context, aggregateID string) ([]outbox.Event, error)
}

// Recorder appends every event a unit-of-work stages to the audit log,
// independent of and in addition to the outbox's own write.
type Recorder struct {
	store Store
}

// New builds a Recorder.
func New(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordAll appends every event in events to the audit log.
func (r *Recorder) RecordAll(ctx context.Context, events []outbox.Event) error {
	for _, e := range events {
		if err := r.store.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// History returns the full recorded history for aggregateID in append order.
func (r *Recorder) History(ctx context.Context, aggregateID string) ([]outbox.Event, error) {
	return r.store.History(ctx, aggregateID)
}
