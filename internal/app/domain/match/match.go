// Package match models the result of pairing one Requirement with one
// Availability: an atomically allocated, scored, risk-gated
// trade candidate.
package match

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

// ScoreBreakdown records the per-dimension sub-scores for explainability.
type ScoreBreakdown struct {
	Quality  float64
	Price    float64
	Delivery float64
	Risk     float64
	Base     float64 // weighted sum before penalties/boosts
	Final    float64 // after penalties/boosts, clamped to [0,1]
}

// Match is a validated, atomically-allocated pairing.
type Match struct {
	ID             string
	RequirementID  string
	AvailabilityID string
	AllocatedQty   decimal.Decimal
	Score          float64
	ScoreBreakdown ScoreBreakdown
	RiskStatus     risk.Status
	Warnings       []string

	// RequirementVersion/AvailabilityVersion stamp the optimistic-lock
	// versions of both sides at allocation time, for audit. The matcher
	// does not consult them when deciding whether to match again; re-run
	// suppression comes from the duplicate checker, keyed on the
	// (requirement ID, availability ID) pair.
	RequirementVersion  int
	AvailabilityVersion int

	CreatedAt time.Time
}

// GetID implements storage.Entity.
func (m *Match) GetID() string { return m.ID }

// GetOwnerID implements storage.Entity; matches are owned by neither side
// exclusively, so this scopes by the requirement ID for listing purposes
// only (not an authorization boundary).
func (m *Match) GetOwnerID() string { return m.RequirementID }

// SetCreatedAt implements storage.Entity.
func (m *Match) SetCreatedAt(t time.Time) { m.CreatedAt = t }

// SetUpdatedAt implements storage.Entity. Matches are append-only; this is
// a no-op satisfying the interface.
func (m *Match) SetUpdatedAt(time.Time) {}

// NoMatchReason names why a matcher run produced zero matches for a
// candidate pair, carried on NO_MATCH_FOUND events for observability.
type NoMatchReason string

const (
	ReasonInsider        NoMatchReason = "INSIDER"
	ReasonBelowThreshold NoMatchReason = "BELOW_THRESHOLD"
	ReasonDuplicate      NoMatchReason = "DUPLICATE"
	ReasonRiskFail       NoMatchReason = "RISK_FAIL"
	ReasonNoCandidates   NoMatchReason = "NO_CANDIDATES"
	ReasonAllocationFail NoMatchReason = "ALLOCATION_FAILED"
)
