package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
)

// EventStore persists an append-only per-aggregate audit log, implementing
// services/eventstore.Store. This is a denormalized read model separate
// from event_outbox: rows here are written when the gateway flushes a
// service's staged events, independent of publish status, and are never
// claimed, retried, or deleted.
type EventStore struct {
	*BaseStore
}

// NewEventStore wraps db for the event_log table.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{BaseStore: NewBaseStore(db, "event_log")}
}

// Append implements services/eventstore.Store.
func (s *EventStore) Append(ctx context.Context, event outbox.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO event_log (
			event_id, aggregate_id, aggregate_type, event_type, schema_version,
			payload, metadata, topic, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`,
		event.EventID, event.AggregateID, event.AggregateType, event.EventType, event.SchemaVersion,
		[]byte(event.Payload), metadata, event.Topic, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event log row: %w", err)
	}
	return nil
}

// History implements services/eventstore.Store.
func (s *EventStore) History(ctx context.Context, aggregateID string) ([]outbox.Event, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, schema_version,
			payload, metadata, topic, created_at
		FROM event_log WHERE aggregate_id = $1 ORDER BY created_at
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list event log history: %w", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var e outbox.Event
		var payload, metadata []byte
		if err := rows.Scan(
			&e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.SchemaVersion,
			&payload, &metadata, &e.Topic, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event log row: %w", err)
		}
		e.Payload = payload
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
