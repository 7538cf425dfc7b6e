// Package outbox implements the transactional outbox write path and the
// publisher worker: services stage events on a unit-of-work
// staging buffer, which flushes business rows and
// outbox rows in one DB transaction; a separate worker polls PENDING rows
// and publishes them with a capped exponential backoff ladder to DEAD.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/external"
	"github.com/rnrlcrm/tradecore/pkg/logger"
	"github.com/rnrlcrm/tradecore/pkg/metrics"
)

// Store is the persistence seam the publisher worker and unit-of-work use.
// A single implementation backs both PostgreSQL ("FOR UPDATE SKIP LOCKED")
// and in-memory test stores.
type Store interface {
	// Insert persists events; duplicate IdempotencyKey values are silently
	// deduped to the original row. It is not atomic with the business-row
	// write that staged the events: callers in this module invoke it after
	// that write has returned, outside any shared transaction.
	Insert(ctx context.Context, events []outbox.Event) error

	// ClaimBatch returns up to limit PENDING rows with next_attempt_at <=
	// now whose aggregate_id hashes into partition (mod partitionCount),
	// row-locked against concurrent claims by other workers.
	ClaimBatch(ctx context.Context, partition, partitionCount, limit int, now time.Time) ([]outbox.Event, error)

	// MarkPublished records a successful publish.
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error

	// MarkFailed records a failed attempt, bumping Attempts and setting
	// NextAttemptAt, or transitions to DEAD once attempts are exhausted.
	MarkFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, dead bool) error
}

// Backoff computes the exponential ladder defines: 10s, 20s,
// 40s, 80s, 160s, capped at 600s.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := 10 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d > 600*time.Second {
			return 600 * time.Second
		}
	}
	return d
}

// MaxAttempts is the number of failures after which a row transitions to DEAD.
const MaxAttempts = 5

// UnitOfWork is the staging buffer services append events to; the caller
// flushes it (via Store.Insert) explicitly after its business writes,
// never relying on an ORM "after flush" hook. The flush is a separate
// write, not part of a transaction shared with the business rows.
type UnitOfWork struct {
	events []outbox.Event
}

// NewUnitOfWork returns an empty staging buffer.
func NewUnitOfWork() *UnitOfWork { return &UnitOfWork{} }

// Stage appends event, assigning an EventID/CreatedAt if unset.
func (u *UnitOfWork) Stage(_ context.Context, event outbox.Event) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.CreatedAt
	}
	u.events = append(u.events, event)
	return nil
}

// Events returns the staged events, for the caller to pass to Store.Insert
// inside its transaction.
func (u *UnitOfWork) Events() []outbox.Event { return u.events }

// Drain returns the staged events and clears the buffer, so a long-lived
// service can share one UnitOfWork across requests without replaying
// already-flushed events on the next Drain (the gateway calls this first
// and then passes the drained events to Store.Insert; the buffer is
// already empty if that insert fails).
func (u *UnitOfWork) Drain() []outbox.Event {
	events := u.events
	u.events = nil
	return events
}

// EncodePayload marshals v for an outbox.Event.Payload.
func EncodePayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode payload: %w", err)
	}
	return data, nil
}

// Publisher publishes staged events to the configured bus.
type Publisher struct {
	store    Store
	bus      external.EventPublisher
	registry *outbox.Registry
	log      *logger.Logger
}

// NewPublisher builds a Publisher.
func NewPublisher(store Store, bus external.EventPublisher, registry *outbox.Registry, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewDefault("outbox")
	}
	if registry == nil {
		registry = outbox.DefaultRegistry()
	}
	return &Publisher{store: store, bus: bus, registry: registry, log: log}
}

// PublishOne attempts to publish a single event, validating it against the
// schema registry first (: "emitting an unregistered (type,
// version) pair fails").
func (p *Publisher) PublishOne(ctx context.Context, event outbox.Event) error {
	if !p.registry.Allowed(event.EventType, event.SchemaVersion) {
		return fmt.Errorf("outbox: unregistered event (%s, v%d)", event.EventType, event.SchemaVersion)
	}
	headers := map[string]string{
		"event_type":     string(event.EventType),
		"schema_version": fmt.Sprintf("%d", event.SchemaVersion),
		"actor":          event.Metadata.Actor,
		"trace_id":       event.Metadata.TraceID,
	}
	return p.bus.Publish(ctx, event.Topic, event.AggregateID, event.Payload, headers)
}

// RunPartition claims and publishes up to limit events from one partition,
// returning how many were successfully published. Workers call this in a
// loop per partition.
func (p *Publisher) RunPartition(ctx context.Context, partition, partitionCount, limit int) (int, error) {
	batch, err := p.store.ClaimBatch(ctx, partition, partitionCount, limit, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}
	published := 0
	for _, event := range batch {
		start := time.Now()
		err := p.PublishOne(ctx, event)
		metrics.OutboxPublishDuration.WithLabelValues(string(event.EventType)).Observe(time.Since(start).Seconds())
		if err == nil {
			if markErr := p.store.MarkPublished(ctx, event.EventID, time.Now().UTC()); markErr != nil {
				p.log.WithField("event_id", event.EventID).WithField("error", markErr).Error("mark published failed")
				continue
			}
			metrics.OutboxPublishAttempts.WithLabelValues(string(event.EventType), "success").Inc()
			published++
			continue
		}

		metrics.OutboxPublishAttempts.WithLabelValues(string(event.EventType), "failure").Inc()
		attempts := event.Attempts + 1
		dead := attempts >= MaxAttempts
		next := time.Now().UTC().Add(Backoff(attempts))
		if markErr := p.store.MarkFailed(ctx, event.EventID, next, dead); markErr != nil {
			p.log.WithField("event_id", event.EventID).WithField("error", markErr).Error("mark failed failed")
			continue
		}
		if dead {
			p.log.WithField("event_id", event.EventID).WithField("event_type", event.EventType).
				Warn("outbox event moved to DEAD letter after exhausting retries")
			if deadErr := p.emitDead(ctx, event); deadErr != nil {
				p.log.WithField("event_id", event.EventID).WithField("error", deadErr).Error("emit OUTBOX_DEAD failed")
			}
		} else {
			p.log.WithField("event_id", event.EventID).WithField("attempts", attempts).WithField("error", err).
				Warn("outbox publish attempt failed, will retry")
		}
	}
	return published, nil
}

func (p *Publisher) emitDead(ctx context.Context, failed outbox.Event) error {
	deadEvent := outbox.Event{
		AggregateID:   failed.AggregateID,
		AggregateType: failed.AggregateType,
		EventType:     outbox.EventOutboxDead,
		SchemaVersion: 1,
		Topic:         "outbox.alerts",
		Metadata:      outbox.Metadata{Actor: "outbox-publisher"},
	}
	payload, err := EncodePayload(map[string]any{"event_id": failed.EventID, "event_type": failed.EventType})
	if err != nil {
		return err
	}
	deadEvent.Payload = payload
	return p.store.Insert(ctx, []outbox.Event{deadEvent})
}
