package memory

import (
	"context"
	"sync"

	"github.com/rnrlcrm/tradecore/internal/app/domain/match"
)

// MatchStore is an in-memory match.Match store implementing
// services/matching.MatchStore. Matches are append-only,
// so unlike the other stores this has no version-conditioned update.
type MatchStore struct {
	mu   sync.Mutex
	rows map[string]*match.Match
}

// NewMatchStore returns an empty store.
func NewMatchStore() *MatchStore { return &MatchStore{rows: make(map[string]*match.Match)} }

// Save implements services/matching.MatchStore.
func (s *MatchStore) Save(_ context.Context, m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

// Get returns a persisted match by ID, for tests and read paths.
func (s *MatchStore) Get(_ context.Context, id string) (*match.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// ListByRequirement returns every match recorded against requirementID,
// for audit/listing.
func (s *MatchStore) ListByRequirement(_ context.Context, requirementID string) []*match.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*match.Match
	for _, m := range s.rows {
		if m.RequirementID == requirementID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}
