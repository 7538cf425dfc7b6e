// Package capability implements the Capability Detector (CDPS): derives
// a partner's trading capabilities from its verified documents.
// Capabilities are never user-set; this is the only writer.
package capability

import (
	"context"
	"fmt"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// DocKind is a verified-document kind the detector reasons about.
type DocKind string

const (
	DocGST               DocKind = "GST"
	DocNationalID        DocKind = "NATIONAL_ID"
	DocIEC               DocKind = "IEC"
	DocForeignTaxID      DocKind = "FOREIGN_TAX_ID"
	DocForeignImportLic  DocKind = "FOREIGN_IMPORT_LICENSE"
	DocForeignExportLic  DocKind = "FOREIGN_EXPORT_LICENSE"
)

// VerifiedDocs is the set of verified document kinds a partner currently
// holds, as reported by the external DocumentVerifier.
type VerifiedDocs map[DocKind]bool

// PartnerStore is the subset of partner persistence CDPS needs.
type PartnerStore interface {
	GetPartner(ctx context.Context, partnerID string) (*party.Partner, error)
	VerifiedDocs(ctx context.Context, partnerID string) (VerifiedDocs, error)
	SaveCapabilities(ctx context.Context, partnerID string, caps party.Capabilities) (changed bool, err error)
}

// OutboxAppender stages an event alongside the capability write, in the
// same unit-of-work.
type OutboxAppender interface {
	Stage(ctx context.Context, event outbox.Event) error
}

// Detector computes and persists capabilities.
type Detector struct {
	partners PartnerStore
	outbox   OutboxAppender
	log      *logger.Logger
}

// New builds a Detector. log may be nil, in which case a default logger is used.
func New(partners PartnerStore, ob OutboxAppender, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.NewDefault("capability")
	}
	return &Detector{partners: partners, outbox: ob, log: log}
}

// Detect runs rules A-E over docs and home country,
// returning the resulting capability map. Later rules union with earlier
// results except rule E, which forces every flag false regardless of
// order (service providers never trade).
func Detect(homeCountry string, entityClass party.EntityClass, docs VerifiedDocs) party.Capabilities {
	caps := party.Zero()

	// Rule A: GST + national ID (country=IN) -> domestic buy/sell india.
	if docs[DocGST] && docs[DocNationalID] {
		caps[party.CapDomesticBuyIndia] = true
		caps[party.CapDomesticSellIndia] = true
	}

	// Rule B: IEC + GST + national ID -> import/export allowed.
	if docs[DocIEC] && docs[DocGST] && docs[DocNationalID] {
		caps[party.CapImportAllowed] = true
		caps[party.CapExportAllowed] = true
	}

	// Rule C: foreign tax ID (country != IN) -> domestic buy/sell home.
	if docs[DocForeignTaxID] && homeCountry != party.IndiaHomeCountry {
		caps[party.CapDomesticBuyHome] = true
		caps[party.CapDomesticSellHome] = true
	}

	// Rule D: foreign import/export license -> import/export allowed.
	if docs[DocForeignImportLic] {
		caps[party.CapImportAllowed] = true
	}
	if docs[DocForeignExportLic] {
		caps[party.CapExportAllowed] = true
	}

	// Invariant CDPS-1: home_country != IN must never carry domestic_*_india.
	if homeCountry != party.IndiaHomeCountry {
		caps[party.CapDomesticBuyIndia] = false
		caps[party.CapDomesticSellIndia] = false
	}

	// Rule E: service providers never trade, regardless of documents.
	if entityClass == party.ClassServiceProvider {
		for flag := range caps {
			caps[flag] = false
		}
	}

	return caps
}

// UpdateCapabilities recomputes and persists partnerID's capabilities
//. It is idempotent: if the recomputed map equals the
// stored one, SaveCapabilities reports changed=false and no
// CAPABILITIES_UPDATED event is staged, satisfying the §8 round-trip law
// that running it twice in succession produces no second event.
func (d *Detector) UpdateCapabilities(ctx context.Context, sec security.Context, partnerID string) (party.Capabilities, error) {
	p, err := d.partners.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load partner", err)
	}
	docs, err := d.partners.VerifiedDocs(ctx, partnerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load verified docs", err)
	}

	caps := Detect(p.HomeCountry, p.EntityClass, docs)

	changed, err := d.partners.SaveCapabilities(ctx, partnerID, caps)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "save capabilities", err)
	}
	if !changed {
		d.log.WithField("partner_id", partnerID).Debug("capabilities unchanged, skipping event")
		return caps, nil
	}

	event := outbox.Event{
		AggregateID:   partnerID,
		AggregateType: "partner",
		EventType:     outbox.EventCapabilitiesUpdated,
		SchemaVersion: 1,
		Topic:         "partner.capabilities",
		Metadata:      outbox.Metadata{Actor: sec.ActorID, RequestID: sec.RequestID, TraceID: sec.TraceID},
	}
	if err := d.outbox.Stage(ctx, event); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "stage CAPABILITIES_UPDATED", err)
	}
	d.log.WithField("partner_id", partnerID).Info("capabilities updated")
	return caps, nil
}

// ValidateDirection checks whether caps authorize direction (buy/sell) in
// country. Location country decides the bucket, not the
// partner's home country relative to it: posting/delivering in India
// always requires the domestic_*_india flag (which CDPS-1 forces false for
// any non-Indian-home partner — this is how a foreign entity is denied
// domestic Indian trade even though it may hold export/import rights);
// posting in the partner's own home country requires the domestic_*_home
// flag; anywhere else requires the cross-border import/export flag.
func ValidateDirection(homeCountry string, caps party.Capabilities, country string, direction Direction) error {
	var flag party.Capability
	switch {
	case country == party.IndiaHomeCountry && direction == Sell:
		flag = party.CapDomesticSellIndia
	case country == party.IndiaHomeCountry && direction == Buy:
		flag = party.CapDomesticBuyIndia
	case country == homeCountry && direction == Sell:
		flag = party.CapDomesticSellHome
	case country == homeCountry && direction == Buy:
		flag = party.CapDomesticBuyHome
	case direction == Sell:
		flag = party.CapExportAllowed
	case direction == Buy:
		flag = party.CapImportAllowed
	default:
		return apperr.New(apperr.KindInternal, fmt.Sprintf("unhandled direction %q", direction))
	}
	if !caps[flag] {
		reason := fmt.Sprintf("missing capability %s for %s in %s", flag, direction, country)
		if country == party.IndiaHomeCountry && homeCountry != party.IndiaHomeCountry {
			reason = "foreign entity may not trade domestically in IN"
		}
		return apperr.New(apperr.KindCapabilityDenied, reason)
	}
	return nil
}

// Direction is which side of a trade a capability check is for.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)
