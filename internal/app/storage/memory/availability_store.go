package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
)

// AvailabilityStore is an in-memory availability.Availability store
// implementing services/availability.Store with the same
// version-conditioned update semantics the PostgreSQL store applies via
// "WHERE id=$1 AND version=$2".
type AvailabilityStore struct {
	mu   sync.Mutex
	rows map[string]*availability.Availability
}

// NewAvailabilityStore returns an empty store.
func NewAvailabilityStore() *AvailabilityStore {
	return &AvailabilityStore{rows: make(map[string]*availability.Availability)}
}

// Create implements services/availability.Store.
func (s *AvailabilityStore) Create(_ context.Context, a *availability.Availability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

// Get implements services/availability.Store.
func (s *AvailabilityStore) Get(_ context.Context, id string) (*availability.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("availability %s not found", id)
	}
	cp := *a
	return &cp, nil
}

// UpdateWithVersion implements services/availability.Store.
func (s *AvailabilityStore) UpdateWithVersion(_ context.Context, a *availability.Availability) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[a.ID]
	if !ok {
		return false, fmt.Errorf("availability %s not found", a.ID)
	}
	if existing.Version != a.Version {
		return false, nil
	}
	cp := *a
	cp.Version = a.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	s.rows[a.ID] = &cp
	a.Version = cp.Version
	return true, nil
}

// ListExpiring implements services/availability.Store.
func (s *AvailabilityStore) ListExpiring(_ context.Context, cutoff time.Time, limit int) ([]*availability.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*availability.Availability
	for _, a := range s.rows {
		if a.Status != availability.StatusAvailable && a.Status != availability.StatusPartiallySold {
			continue
		}
		if a.ValidUntil.After(cutoff) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListOpenByCommodityLocation implements services/matching.AvailabilityStore:
// AVAILABLE/PARTIALLY_SOLD, non-expired postings for commodityID in
// country, and in region too unless region is empty (the
// cross-state-allowed case).
func (s *AvailabilityStore) ListOpenByCommodityLocation(_ context.Context, commodityID, country, region string, limit int) ([]*availability.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []*availability.Availability
	for _, a := range s.rows {
		if a.Status != availability.StatusAvailable && a.Status != availability.StatusPartiallySold {
			continue
		}
		if a.CommodityID != commodityID || a.Country != country {
			continue
		}
		if region != "" && a.Region != region {
			continue
		}
		if !a.ValidUntil.IsZero() && a.ValidUntil.Before(now) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CommodityStore is an in-memory commodity.Commodity catalog.
type CommodityStore struct {
	mu    sync.Mutex
	items map[string]*commodity.Commodity
}

// NewCommodityStore returns an empty catalog.
func NewCommodityStore() *CommodityStore { return &CommodityStore{items: make(map[string]*commodity.Commodity)} }

// Put inserts or replaces a catalog entry.
func (s *CommodityStore) Put(c *commodity.Commodity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = c
}

// GetCommodity implements services/availability.CommodityLookup and
// services/requirement.CommodityLookup.
func (s *CommodityStore) GetCommodity(_ context.Context, commodityID string) (*commodity.Commodity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[commodityID]
	if !ok {
		return nil, fmt.Errorf("commodity %s not found", commodityID)
	}
	return c, nil
}

// LocationStore is an in-memory party.PartnerLocation directory.
type LocationStore struct {
	mu    sync.Mutex
	items map[string]*party.PartnerLocation
}

// NewLocationStore returns an empty directory.
func NewLocationStore() *LocationStore { return &LocationStore{items: make(map[string]*party.PartnerLocation)} }

// Put inserts or replaces a location.
func (s *LocationStore) Put(l *party.PartnerLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[l.ID] = l
}

// GetLocation implements services/availability.LocationResolver.
func (s *LocationStore) GetLocation(_ context.Context, locationID string) (*party.PartnerLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.items[locationID]
	if !ok {
		return nil, fmt.Errorf("location %s not found", locationID)
	}
	return l, nil
}
