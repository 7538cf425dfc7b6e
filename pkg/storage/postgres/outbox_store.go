package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
)

// OutboxStore persists outbox.Event rows, implementing services/outbox.Store.
// Insert participates in a transaction attached to ctx via ContextWithTx
// when there is one; nothing in this module attaches one, so each insert
// commits on its own, separately from the business change that produced
// the events.
type OutboxStore struct {
	*BaseStore
}

// NewOutboxStore wraps db for the event_outbox table.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{BaseStore: NewBaseStore(db, "event_outbox")}
}

// Insert implements services/outbox.Store. A row whose idempotency_key
// collides with an already-committed row is silently skipped via
// ON CONFLICT DO NOTHING, the dedup requires.
func (s *OutboxStore) Insert(ctx context.Context, events []outbox.Event) error {
	for _, e := range events {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = s.ExecContext(ctx, `
			INSERT INTO event_outbox (
				event_id, aggregate_id, aggregate_type, event_type, schema_version,
				payload, metadata, topic, created_at, status, attempts,
				next_attempt_at, published_at, idempotency_key
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10, $11,
				$12, $13, $14
			)
			ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		`,
			e.EventID, e.AggregateID, e.AggregateType, e.EventType, e.SchemaVersion,
			[]byte(e.Payload), metadata, e.Topic, e.CreatedAt, e.Status, e.Attempts,
			e.NextAttemptAt, e.PublishedAt, e.IdempotencyKey,
		)
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", e.EventID, err)
		}
	}
	return nil
}

// ClaimBatch implements services/outbox.Store, the publisher worker's
// partitioned claim: candidate rows are selected with
// FOR UPDATE SKIP LOCKED so concurrent workers never contend on the same
// row, restricted to the caller's partition via hashtext(aggregate_id) so
// two workers never race on the same aggregate's ordering.
func (s *OutboxStore) ClaimBatch(ctx context.Context, partition, partitionCount, limit int, now time.Time) ([]outbox.Event, error) {
	var claimed []outbox.Event
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := s.QueryContext(txCtx, `
			SELECT event_id, aggregate_id, aggregate_type, event_type, schema_version,
				payload, metadata, topic, created_at, status, attempts,
				next_attempt_at, published_at, idempotency_key
			FROM event_outbox
			WHERE status = $1
				AND next_attempt_at <= $2
				AND abs(hashtext(aggregate_id)) % $3 = $4
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		`, outbox.StatusPending, now, partitionCount, partition, limit)
		if err != nil {
			return fmt.Errorf("select claim candidates: %w", err)
		}
		var ids []string
		for rows.Next() {
			e, err := scanOutboxEvent(rows)
			if err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, *e)
			ids = append(ids, e.EventID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		for i := range ids {
			_, err := s.ExecContext(txCtx, `UPDATE event_outbox SET status = $2 WHERE event_id = $1`, ids[i], outbox.StatusPublishing)
			if err != nil {
				return fmt.Errorf("mark publishing: %w", err)
			}
			claimed[i].Status = outbox.StatusPublishing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkPublished implements services/outbox.Store.
func (s *OutboxStore) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	_, err := s.ExecContext(ctx, `
		UPDATE event_outbox SET status = $2, published_at = $3 WHERE event_id = $1
	`, eventID, outbox.StatusPublished, publishedAt)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed implements services/outbox.Store: increments attempts and
// either schedules the next retry or moves the row to DEAD.
func (s *OutboxStore) MarkFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, dead bool) error {
	if dead {
		_, err := s.ExecContext(ctx, `
			UPDATE event_outbox SET status = $2, attempts = attempts + 1 WHERE event_id = $1
		`, eventID, outbox.StatusDead)
		if err != nil {
			return fmt.Errorf("mark dead: %w", err)
		}
		return nil
	}
	_, err := s.ExecContext(ctx, `
		UPDATE event_outbox SET status = $2, attempts = attempts + 1, next_attempt_at = $3 WHERE event_id = $1
	`, eventID, outbox.StatusPending, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func scanOutboxEvent(r row) (*outbox.Event, error) {
	var e outbox.Event
	var metadata []byte
	var payload []byte
	var idempotencyKey sql.NullString
	var publishedAt sql.NullTime

	err := r.Scan(
		&e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.SchemaVersion,
		&payload, &metadata, &e.Topic, &e.CreatedAt, &e.Status, &e.Attempts,
		&e.NextAttemptAt, &publishedAt, &idempotencyKey,
	)
	if err != nil {
		return nil, fmt.Errorf("scan outbox event: %w", err)
	}
	e.Payload = payload
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		e.PublishedAt = &t
	}
	if idempotencyKey.Valid {
		k := idempotencyKey.String
		e.IdempotencyKey = &k
	}
	return &e, nil
}
