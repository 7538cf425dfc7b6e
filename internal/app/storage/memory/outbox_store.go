package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
)

// OutboxStore is an in-memory outbox.Event store implementing the
// services/outbox.Store seam used by tests and by UnitOfWork flushes.
type OutboxStore struct {
	mu     sync.Mutex
	rows   map[string]*outbox.Event
	order  []string // insertion order, for per-aggregate ordering checks
	byIdem map[string]string
}

// NewOutboxStore returns an empty store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{
		rows:   make(map[string]*outbox.Event),
		byIdem: make(map[string]string),
	}
}

// Insert implements services/outbox.Store.
func (s *OutboxStore) Insert(_ context.Context, events []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if e.IdempotencyKey != nil {
			if _, ok := s.byIdem[*e.IdempotencyKey]; ok {
				continue // deduped to the original row
			}
		}
		cp := e
		s.rows[e.EventID] = &cp
		s.order = append(s.order, e.EventID)
		if e.IdempotencyKey != nil {
			s.byIdem[*e.IdempotencyKey] = e.EventID
		}
	}
	return nil
}

func partitionOf(aggregateID string, partitionCount int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32()) % partitionCount
}

// ClaimBatch implements services/outbox.Store.
func (s *OutboxStore) ClaimBatch(_ context.Context, partition, partitionCount, limit int, now time.Time) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*outbox.Event
	for _, id := range s.order {
		e := s.rows[id]
		if e.Status != outbox.StatusPending {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		if partitionOf(e.AggregateID, partitionCount) != partition {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]outbox.Event, 0, len(candidates))
	for _, e := range candidates {
		e.Status = outbox.StatusPublishing
		out = append(out, *e)
	}
	return out, nil
}

// MarkPublished implements services/outbox.Store.
func (s *OutboxStore) MarkPublished(_ context.Context, eventID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[eventID]
	if !ok {
		return nil
	}
	e.Status = outbox.StatusPublished
	t := publishedAt
	e.PublishedAt = &t
	return nil
}

// MarkFailed implements services/outbox.Store.
func (s *OutboxStore) MarkFailed(_ context.Context, eventID string, nextAttemptAt time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[eventID]
	if !ok {
		return nil
	}
	e.Attempts++
	if dead {
		e.Status = outbox.StatusDead
		return nil
	}
	e.Status = outbox.StatusPending
	e.NextAttemptAt = nextAttemptAt
	return nil
}

// Get returns the stored row for inspection by tests.
func (s *OutboxStore) Get(eventID string) (*outbox.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[eventID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// ForceNextAttempt overrides an event's NextAttemptAt; used by tests that
// exercise the retry ladder without sleeping through real backoff delays.
func (s *OutboxStore) ForceNextAttempt(eventID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.rows[eventID]; ok {
		e.NextAttemptAt = at
	}
}

// ByAggregate returns events for aggregateID in insertion order, for the
// §8 ordering-per-aggregate test.
func (s *OutboxStore) ByAggregate(aggregateID string) []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Event
	for _, id := range s.order {
		e := s.rows[id]
		if e.AggregateID == aggregateID {
			out = append(out, *e)
		}
	}
	return out
}
