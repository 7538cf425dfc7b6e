// Package memory backs every service-level test with in-process stores,
// and backs the whole kernel when no DSN is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
)

// PartnerStore is an in-memory party.Partner store satisfying both
// capability.PartnerStore and insider.PartnerLookup.
type PartnerStore struct {
	mu       sync.Mutex
	partners map[string]*party.Partner
	docs     map[string]capability.VerifiedDocs
}

// NewPartnerStore returns an empty store.
func NewPartnerStore() *PartnerStore {
	return &PartnerStore{
		partners: make(map[string]*party.Partner),
		docs:     make(map[string]capability.VerifiedDocs),
	}
}

// Put inserts or replaces a partner.
func (s *PartnerStore) Put(p *party.Partner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if cp.Capabilities == nil {
		cp.Capabilities = party.Zero()
	} else {
		cp.Capabilities = cp.Capabilities.Clone()
	}
	s.partners[p.ID] = &cp
}

// PutDocs sets the verified-document set for a partner.
func (s *PartnerStore) PutDocs(partnerID string, docs capability.VerifiedDocs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[partnerID] = docs
}

// GetPartner implements capability.PartnerStore and insider.PartnerLookup.
func (s *PartnerStore) GetPartner(_ context.Context, partnerID string) (*party.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok {
		return nil, fmt.Errorf("partner %s not found", partnerID)
	}
	cp := *p
	cp.Capabilities = cp.Capabilities.Clone()
	return &cp, nil
}

// VerifiedDocs implements capability.PartnerStore.
func (s *PartnerStore) VerifiedDocs(_ context.Context, partnerID string) (capability.VerifiedDocs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs[partnerID]
	cp := make(capability.VerifiedDocs, len(docs))
	for k, v := range docs {
		cp[k] = v
	}
	return cp, nil
}

// SaveCapabilities implements capability.PartnerStore, reporting whether
// the new map differs from the one currently stored.
func (s *PartnerStore) SaveCapabilities(_ context.Context, partnerID string, caps party.Capabilities) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok {
		return false, fmt.Errorf("partner %s not found", partnerID)
	}
	changed := !equalCapabilities(p.Capabilities, caps)
	p.Capabilities = caps.Clone()
	return changed, nil
}

func equalCapabilities(a, b party.Capabilities) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
