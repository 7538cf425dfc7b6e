// Package requirement models the buy-side demand posting.
package requirement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

// Intent routes a requirement to the matcher or to an out-of-scope module.
type Intent string

const (
	IntentDirectBuy Intent = "DIRECT_BUY"
	IntentNegotiate Intent = "NEGOTIATE"
	IntentAuction   Intent = "AUCTION"
	IntentBrowse    Intent = "BROWSE"
)

// Status is the requirement's lifecycle state.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusPublished        Status = "PUBLISHED"
	StatusMatched          Status = "MATCHED"
	StatusPartiallyMatched Status = "PARTIALLY_MATCHED"
	StatusFulfilled        Status = "FULFILLED"
	StatusCancelled        Status = "CANCELLED"
	StatusExpired          Status = "EXPIRED"
)

// DeliveryLocation is one acceptable delivery point for this requirement.
type DeliveryLocation struct {
	Address string
	Lat     float64
	Lon     float64
	Country string
	Region  string
	City    string
}

// Requirement is a buy-side demand posting.
type Requirement struct {
	ID          string
	Version     int
	BuyerID     string
	CommodityID string

	Quantity      decimal.Decimal
	Allocated     decimal.Decimal // sum of allocated_qty across successful matches
	TradeUnit     string
	QtyInBaseUnit decimal.Decimal

	DeliveryLocations []DeliveryLocation
	QualityTolerance  float64
	QualityParams     commodity.QualityParams
	BudgetMax         *decimal.Decimal

	Intent Intent
	Status Status

	AISuggestedPrice     *decimal.Decimal
	AISuggestedTolerance *float64
	AIScoreVector        []float64
	AIRecommendedSellers map[string]struct{}
	BuyerTrustScore      float64

	RiskPrecheckStatus risk.Status
	RiskPrecheckScore  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is the quantity still unmatched: Quantity - Allocated.
func (r *Requirement) Remaining() decimal.Decimal {
	return r.Quantity.Sub(r.Allocated)
}

// IsRecommended reports whether sellerID is in this requirement's
// AI-recommended set.
func (r *Requirement) IsRecommended(sellerID string) bool {
	if r.AIRecommendedSellers == nil {
		return false
	}
	_, ok := r.AIRecommendedSellers[sellerID]
	return ok
}

// SameCountryState reports whether a's location country/state match any of
// r's delivery locations — the location-first hard filter, applied in-process as a fallback to the DB-level query.
func (r *Requirement) SameCountryState(a *availability.Availability) bool {
	for _, dl := range r.DeliveryLocations {
		if dl.Country == a.Country && dl.Region == a.Region {
			return true
		}
	}
	return false
}

// GetID implements storage.Entity.
func (r *Requirement) GetID() string { return r.ID }

// GetOwnerID implements storage.Entity, scoping by the buyer partner.
func (r *Requirement) GetOwnerID() string { return r.BuyerID }

// SetCreatedAt implements storage.Entity.
func (r *Requirement) SetCreatedAt(t time.Time) { r.CreatedAt = t }

// SetUpdatedAt implements storage.Entity.
func (r *Requirement) SetUpdatedAt(t time.Time) { r.UpdatedAt = t }
