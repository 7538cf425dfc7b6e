// Package insider implements the Insider & Party-Link Validator: blocks self/branch/group/shared-tax-ID counterparties in O(1)
// queries per check using precomputed corporate_group_id.
package insider

import (
	"context"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
)

// Reason names which rule tripped, used in NO_MATCH_FOUND events and UI filtering.
type Reason string

const (
	ReasonSelf           Reason = "SELF"
	ReasonMasterEntity   Reason = "MASTER_ENTITY"
	ReasonCorporateGroup Reason = "CORPORATE_GROUP"
	ReasonSharedTaxID    Reason = "SHARED_TAX_ID"
)

// PartnerLookup is the subset of partner persistence the validator needs.
// Implementations should serve these from a read-mostly cache: hierarchy
// and group IDs change rarely.
type PartnerLookup interface {
	GetPartner(ctx context.Context, partnerID string) (*party.Partner, error)
}

// Validator checks buyer/seller pairs for insider relationships.
type Validator struct {
	partners PartnerLookup
}

// New builds a Validator.
func New(partners PartnerLookup) *Validator {
	return &Validator{partners: partners}
}

// Validate returns a non-empty Reason if buyerID/sellerID are insiders of
// each other; an empty Reason means the pair is clear to trade.
func (v *Validator) Validate(ctx context.Context, buyerID, sellerID string) (Reason, error) {
	if buyerID == sellerID {
		return ReasonSelf, nil
	}
	buyer, err := v.partners.GetPartner(ctx, buyerID)
	if err != nil {
		return "", err
	}
	seller, err := v.partners.GetPartner(ctx, sellerID)
	if err != nil {
		return "", err
	}
	if reason := evaluate(buyer, seller); reason != "" {
		return reason, nil
	}
	linked, err := v.sameMasterEntity(ctx, buyer, seller)
	if err != nil {
		return "", err
	}
	if linked {
		return ReasonMasterEntity, nil
	}
	return "", nil
}

func evaluate(buyer, seller *party.Partner) Reason {
	if buyer.ID == seller.ID {
		return ReasonSelf
	}
	if buyer.CorporateGroupID != nil && seller.CorporateGroupID != nil &&
		*buyer.CorporateGroupID == *seller.CorporateGroupID {
		return ReasonCorporateGroup
	}
	if sharesTaxID(buyer, seller) {
		return ReasonSharedTaxID
	}
	return ""
}

// sameMasterEntity reports whether buyer and seller are linked through the
// hierarchy: either one is the other's master, or they share a master,
// directly or transitively, following MasterEntityID up to maxHops levels
// to tolerate a malformed cycle.
func (v *Validator) sameMasterEntity(ctx context.Context, buyer, seller *party.Partner) (bool, error) {
	buyerRoots, err := v.rootsOf(ctx, buyer)
	if err != nil {
		return false, err
	}
	sellerRoots, err := v.rootsOf(ctx, seller)
	if err != nil {
		return false, err
	}
	for b := range buyerRoots {
		if sellerRoots[b] {
			return true, nil
		}
	}
	return false, nil
}

// rootsOf returns the set of entity IDs reachable by following
// MasterEntityID, including the partner's own ID.
func (v *Validator) rootsOf(ctx context.Context, p *party.Partner) (map[string]bool, error) {
	const maxHops = 8
	seen := map[string]bool{p.ID: true}
	cur := p
	for i := 0; i < maxHops && cur.MasterEntityID != nil; i++ {
		next := *cur.MasterEntityID
		if seen[next] {
			break
		}
		seen[next] = true
		nextPartner, err := v.partners.GetPartner(ctx, next)
		if err != nil {
			return nil, err
		}
		cur = nextPartner
	}
	return seen, nil
}

func sharesTaxID(buyer, seller *party.Partner) bool {
	tags := make(map[string]struct{}, len(buyer.SharedTaxIDs)+len(buyer.NationalTaxIDs))
	for _, id := range buyer.SharedTaxIDs {
		tags[id] = struct{}{}
	}
	for _, id := range buyer.NationalTaxIDs {
		tags[id] = struct{}{}
	}
	for _, id := range seller.SharedTaxIDs {
		if _, ok := tags[id]; ok {
			return true
		}
	}
	for _, id := range seller.NationalTaxIDs {
		if _, ok := tags[id]; ok {
			return true
		}
	}
	return false
}

// Pair is one insider relationship found by BatchValidate.
type Pair struct {
	PartnerA string
	PartnerB string
	Reason   Reason
}

// BatchValidate returns every pairwise insider edge among partners, for UI
// filtering.
func (v *Validator) BatchValidate(ctx context.Context, partnerIDs []string) ([]Pair, error) {
	partners := make([]*party.Partner, 0, len(partnerIDs))
	for _, id := range partnerIDs {
		p, err := v.partners.GetPartner(ctx, id)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	var pairs []Pair
	for i := 0; i < len(partners); i++ {
		for j := i + 1; j < len(partners); j++ {
			if reason := evaluate(partners[i], partners[j]); reason != "" {
				pairs = append(pairs, Pair{PartnerA: partners[i].ID, PartnerB: partners[j].ID, Reason: reason})
				continue
			}
			linked, err := v.sameMasterEntity(ctx, partners[i], partners[j])
			if err != nil {
				return nil, err
			}
			if linked {
				pairs = append(pairs, Pair{PartnerA: partners[i].ID, PartnerB: partners[j].ID, Reason: ReasonMasterEntity})
			}
		}
	}
	return pairs, nil
}
