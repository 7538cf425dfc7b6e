// Package availability models the seller-side inventory posting and the invariants its lifecycle must uphold.
package availability

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

// Visibility controls who may discover this posting.
type Visibility string

const (
	VisibilityPublic     Visibility = "PUBLIC"
	VisibilityPrivate    Visibility = "PRIVATE"
	VisibilityRestricted Visibility = "RESTRICTED"
	VisibilityInternal   Visibility = "INTERNAL"
)

// Status is the posting's lifecycle state.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusAvailable      Status = "AVAILABLE"
	StatusPartiallySold  Status = "PARTIALLY_SOLD"
	StatusSold           Status = "SOLD"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// Availability is a sell-side inventory posting.
type Availability struct {
	ID             string
	Version        int // optimistic-locking column
	SellerID       string
	SellerBranchID *string
	CommodityID    string

	LocationID *string // registered PartnerLocation, mutually exclusive with AdHoc*
	AdHocAddress string
	AdHocLat     float64
	AdHocLon     float64
	Country      string
	Region       string

	// City/Lat/Lon are derived geo fields, populated from whichever location
	// source was supplied so the matcher's delivery-distance scoring
	// never has to branch on registered-vs-ad-hoc.
	City string
	Lat  float64
	Lon  float64

	Total          decimal.Decimal
	Reserved       decimal.Decimal
	Sold           decimal.Decimal
	TradeUnit      string
	QtyInBaseUnit  decimal.Decimal

	BasePrice         decimal.Decimal
	PriceUnit         string
	PricePerBaseUnit  decimal.Decimal

	QualityParams commodity.QualityParams

	ValidFrom  time.Time
	ValidUntil time.Time

	MarketVisibility Visibility
	RestrictedBuyers map[string]struct{}

	Status Status

	RiskPrecheckStatus risk.Status
	RiskPrecheckScore  float64

	FirstReservedAt *time.Time // set on first reservation; gates Immutable mutations

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns total - reserved - sold, the derived field.
func (a *Availability) Available() decimal.Decimal {
	return a.Total.Sub(a.Reserved).Sub(a.Sold)
}

// Invariant reports whether reserved+sold <= total holds.
func (a *Availability) Invariant() bool {
	return a.Reserved.Add(a.Sold).LessThanOrEqual(a.Total)
}

// IsImmutableLocked reports whether a has had at least one reservation,
// after which mutations to posting-defining fields are rejected.
func (a *Availability) IsImmutableLocked() bool {
	return a.FirstReservedAt != nil
}

// GetID implements storage.Entity.
func (a *Availability) GetID() string { return a.ID }

// GetOwnerID implements storage.Entity, scoping by the seller partner.
func (a *Availability) GetOwnerID() string { return a.SellerID }

// SetCreatedAt implements storage.Entity.
func (a *Availability) SetCreatedAt(t time.Time) { a.CreatedAt = t }

// SetUpdatedAt implements storage.Entity.
func (a *Availability) SetUpdatedAt(t time.Time) { a.UpdatedAt = t }
