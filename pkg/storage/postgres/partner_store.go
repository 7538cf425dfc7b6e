package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
)

// PartnerStore persists party.Partner rows and the verified-document set
// the Capability Detector reasons about, implementing
// capability.PartnerStore, insider.PartnerLookup, availability.PartnerLookup,
// requirement.PartnerLookup, and risk.PartnerLookup — all of which share
// the same GetPartner(ctx, id) shape.
type PartnerStore struct {
	*BaseStore
}

// NewPartnerStore wraps db for the partners table.
func NewPartnerStore(db *sql.DB) *PartnerStore {
	return &PartnerStore{BaseStore: NewBaseStore(db, "partners")}
}

// GetPartner implements capability.PartnerStore and every PartnerLookup seam.
func (s *PartnerStore) GetPartner(ctx context.Context, partnerID string) (*party.Partner, error) {
	var p party.Partner
	var nationalTaxIDs, sharedTaxIDs pq.StringArray
	var nationalTaxJurisdictions pq.StringArray
	var masterEntityID, corporateGroupID sql.NullString
	var capFlags pq.StringArray

	err := s.QueryRowContext(ctx, `
		SELECT id, national_tax_jurisdictions, national_tax_ids, entity_class,
			home_country, capability_flags, master_entity_id, corporate_group_id,
			shared_tax_ids, created_at, updated_at
		FROM partners WHERE id = $1
	`, partnerID).Scan(
		&p.ID, &nationalTaxJurisdictions, &nationalTaxIDs, &p.EntityClass,
		&p.HomeCountry, &capFlags, &masterEntityID, &corporateGroupID,
		&sharedTaxIDs, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("partner %s not found", partnerID)
		}
		return nil, fmt.Errorf("scan partner: %w", err)
	}

	p.NationalTaxIDs = make(map[string]string, len(nationalTaxJurisdictions))
	for i, j := range nationalTaxJurisdictions {
		if i < len(nationalTaxIDs) {
			p.NationalTaxIDs[j] = nationalTaxIDs[i]
		}
	}
	p.Capabilities = party.Zero()
	for _, flag := range capFlags {
		p.Capabilities[party.Capability(flag)] = true
	}
	if masterEntityID.Valid {
		v := masterEntityID.String
		p.MasterEntityID = &v
	}
	if corporateGroupID.Valid {
		v := corporateGroupID.String
		p.CorporateGroupID = &v
	}
	p.SharedTaxIDs = []string(sharedTaxIDs)
	return &p, nil
}

// VerifiedDocs implements capability.PartnerStore.
func (s *PartnerStore) VerifiedDocs(ctx context.Context, partnerID string) (capability.VerifiedDocs, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT doc_kind FROM partner_documents WHERE partner_id = $1 AND verified
	`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list verified docs: %w", err)
	}
	defer rows.Close()
	out := make(capability.VerifiedDocs)
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("scan verified doc: %w", err)
		}
		out[capability.DocKind(kind)] = true
	}
	return out, rows.Err()
}

// SaveCapabilities implements capability.PartnerStore, reporting whether
// the write actually changed the stored flag set.
func (s *PartnerStore) SaveCapabilities(ctx context.Context, partnerID string, caps party.Capabilities) (bool, error) {
	existing, err := s.GetPartner(ctx, partnerID)
	if err != nil {
		return false, err
	}
	changed := !capabilitiesEqual(existing.Capabilities, caps)
	var flags []string
	for flag, on := range caps {
		if on {
			flags = append(flags, string(flag))
		}
	}
	_, err = s.ExecContext(ctx, `
		UPDATE partners SET capability_flags = $2, updated_at = now() WHERE id = $1
	`, partnerID, pq.Array(flags))
	if err != nil {
		return false, fmt.Errorf("save capabilities: %w", err)
	}
	return changed, nil
}

func capabilitiesEqual(a, b party.Capabilities) bool {
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

// LocationStore persists party.PartnerLocation rows, implementing
// services/availability.LocationResolver.
type LocationStore struct {
	*BaseStore
}

// NewLocationStore wraps db for the partner_locations table.
func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{BaseStore: NewBaseStore(db, "partner_locations")}
}

// GetLocation implements services/availability.LocationResolver.
func (s *LocationStore) GetLocation(ctx context.Context, locationID string) (*party.PartnerLocation, error) {
	var l party.PartnerLocation
	var jurisdictionTax sql.NullString
	err := s.QueryRowContext(ctx, `
		SELECT id, partner_id, address, lat, lon, country, state, city, jurisdiction_tax, created_at
		FROM partner_locations WHERE id = $1
	`, locationID).Scan(
		&l.ID, &l.PartnerID, &l.Address, &l.Lat, &l.Lon, &l.Country, &l.State, &l.City,
		&jurisdictionTax, &l.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("location %s not found", locationID)
		}
		return nil, fmt.Errorf("scan location: %w", err)
	}
	if jurisdictionTax.Valid {
		v := jurisdictionTax.String
		l.JurisdictionTax = &v
	}
	return &l, nil
}
