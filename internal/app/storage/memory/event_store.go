package memory

import (
	"context"
	"sync"

	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
)

// EventStore is an in-memory append-only audit log implementing
// services/eventstore.Store.
type EventStore struct {
	mu   sync.Mutex
	byID map[string][]outbox.Event
}

// NewEventStore returns an empty store.
func NewEventStore() *EventStore {
	return &EventStore{byID: make(map[string][]outbox.Event)}
}

// Append implements services/eventstore.Store.
func (s *EventStore) Append(_ context.Context, event outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[event.AggregateID] = append(s.byID[event.AggregateID], event)
	return nil
}

// History implements services/eventstore.Store.
func (s *EventStore) History(_ context.Context, aggregateID string) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.byID[aggregateID]))
	copy(out, s.byID[aggregateID])
	return out, nil
}
