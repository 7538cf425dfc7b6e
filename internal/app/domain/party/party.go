// Package party models Partner and PartnerLocation and the
// closed capability-flag set the Capability Detector (§4.2) computes.
package party

import "time"

// EntityClass distinguishes tradable counterparties from non-trading
// service providers.
type EntityClass string

const (
	ClassBusinessEntity  EntityClass = "BUSINESS_ENTITY"
	ClassServiceProvider EntityClass = "SERVICE_PROVIDER"
)

// Capability is one flag in the closed set the detector computes.
type Capability string

const (
	CapDomesticBuyHome   Capability = "domestic_buy_home"
	CapDomesticSellHome  Capability = "domestic_sell_home"
	CapDomesticBuyIndia  Capability = "domestic_buy_india"
	CapDomesticSellIndia Capability = "domestic_sell_india"
	CapImportAllowed     Capability = "import_allowed"
	CapExportAllowed     Capability = "export_allowed"
)

// AllCapabilities enumerates the closed set, used to build a zero-valued map.
var AllCapabilities = []Capability{
	CapDomesticBuyHome,
	CapDomesticSellHome,
	CapDomesticBuyIndia,
	CapDomesticSellIndia,
	CapImportAllowed,
	CapExportAllowed,
}

// Capabilities is the map every partner carries, one entry per flag.
type Capabilities map[Capability]bool

// Clone returns an independent copy.
func (c Capabilities) Clone() Capabilities {
	cp := make(Capabilities, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// Zero returns a Capabilities map with every flag explicitly false, the
// schema default requires.
func Zero() Capabilities {
	cp := make(Capabilities, len(AllCapabilities))
	for _, flag := range AllCapabilities {
		cp[flag] = false
	}
	return cp
}

const india = "IN"

// IndiaHomeCountry is the ISO-2 code the domestic_*_india flags are scoped to.
const IndiaHomeCountry = india

// Partner is a tradable counterparty.
type Partner struct {
	ID               string
	NationalTaxIDs   map[string]string // jurisdiction ISO-2 -> tax ID
	EntityClass      EntityClass
	HomeCountry      string // ISO-2
	Capabilities     Capabilities
	MasterEntityID   *string
	CorporateGroupID *string
	SharedTaxIDs     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CanTrade reports whether this partner is permitted to trade at all.
func (p *Partner) CanTrade() bool {
	return p.EntityClass == ClassBusinessEntity
}

// ViolatesCDPS1 reports whether p's capability map violates invariant
// CDPS-1: a partner whose home country is not India must never carry a
// true domestic_*_india flag.
func (p *Partner) ViolatesCDPS1() bool {
	if p.HomeCountry == india {
		return false
	}
	return p.Capabilities[CapDomesticBuyIndia] || p.Capabilities[CapDomesticSellIndia]
}

// PartnerLocation is a branch/warehouse/ship-to address owned by a Partner.
type PartnerLocation struct {
	ID              string
	PartnerID       string
	Address         string
	Lat             float64
	Lon             float64
	Country         string // ISO-2
	State           string
	City            string
	JurisdictionTax *string
	CreatedAt       time.Time
}
