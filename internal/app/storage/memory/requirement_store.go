package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
)

// RequirementStore is an in-memory requirement.Requirement store
// implementing services/requirement.Store with the same
// version-conditioned update semantics as AvailabilityStore.
type RequirementStore struct {
	mu   sync.Mutex
	rows map[string]*requirement.Requirement
}

// NewRequirementStore returns an empty store.
func NewRequirementStore() *RequirementStore {
	return &RequirementStore{rows: make(map[string]*requirement.Requirement)}
}

// Create implements services/requirement.Store.
func (s *RequirementStore) Create(_ context.Context, r *requirement.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

// Get implements services/requirement.Store.
func (s *RequirementStore) Get(_ context.Context, id string) (*requirement.Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("requirement %s not found", id)
	}
	cp := *r
	return &cp, nil
}

// UpdateWithVersion implements services/requirement.Store.
func (s *RequirementStore) UpdateWithVersion(_ context.Context, r *requirement.Requirement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[r.ID]
	if !ok {
		return false, fmt.Errorf("requirement %s not found", r.ID)
	}
	if existing.Version != r.Version {
		return false, nil
	}
	cp := *r
	cp.Version = r.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	s.rows[r.ID] = &cp
	r.Version = cp.Version
	return true, nil
}

// FulfilledCount implements services/requirement.TrustHistory: the number
// of buyerID's requirements that reached FULFILLED against the total it
// has ever posted, the raw counts behind buyer_trust_score.
func (s *RequirementStore) FulfilledCount(_ context.Context, buyerID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fulfilled, total int
	for _, r := range s.rows {
		if r.BuyerID != buyerID {
			continue
		}
		total++
		if r.Status == requirement.StatusFulfilled {
			fulfilled++
		}
	}
	return fulfilled, total, nil
}

// ListOpenForSweep implements services/matching.RequirementStore: every
// PUBLISHED/PARTIALLY_MATCHED requirement with remaining quantity,
// candidates for the safety sweep's re-match pass.
func (s *RequirementStore) ListOpenForSweep(_ context.Context, limit int) ([]*requirement.Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*requirement.Requirement
	for _, r := range s.rows {
		if r.Status != requirement.StatusPublished && r.Status != requirement.StatusPartiallyMatched {
			continue
		}
		if !r.Remaining().IsPositive() {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
