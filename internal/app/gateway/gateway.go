// Package gateway implements a thin facade over the core's services, the
// way an application-layer wrapper exposes domain services to an HTTP API.
// There is no transport layer here —
// cmd/tradecored builds one Gateway and nothing else calls it, but this
// is the seam a future transport layer would bind to.
//
// Every method that mutates state drains its service's outbox
// unit-of-work and flushes the staged events to the outbox store inside
// the same call, never relying on ORM lifecycle hooks. The flush runs
// after the service's own store write has returned, and no transaction
// spans the two: with the in-memory stores and the PostgreSQL stores
// (pkg/storage/postgres) alike, the business row and the outbox rows are
// committed separately, so a failed outbox insert leaves the business
// change in place without its events.
package gateway

import (
	"context"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	dommatch "github.com/rnrlcrm/tradecore/internal/app/domain/match"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/availability"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	"github.com/rnrlcrm/tradecore/internal/app/services/eventstore"
	"github.com/rnrlcrm/tradecore/internal/app/services/matching"
	"github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/pkg/logger"

	"github.com/shopspring/decimal"
)

// Gateway wires the Availability, Requirement, Matching, Risk, and
// Capability services behind the signatures names. Any field
// left nil is simply not exercised; cmd/tradecored always builds all five.
type Gateway struct {
	Availability *availability.Service
	Requirement  *requirement.Service
	Matching     *matching.Engine
	Risk         *risk.Engine
	Capability   *capability.Detector

	partners        capability.PartnerStore
	availabilityUOW *outbox.UnitOfWork
	requirementUOW  *outbox.UnitOfWork
	matchingUOW     *outbox.UnitOfWork
	capabilityUOW   *outbox.UnitOfWork
	outboxStore     outbox.Store
	audit           *eventstore.Recorder
	log             *logger.Logger
}

// New builds a Gateway. The four *outbox.UnitOfWork arguments must be the
// same instances passed to availability.New/requirement.New/matching.New/
// capability.New respectively, so Flush can drain exactly what each
// service just staged. audit may be nil, in which case flush skips the
// audit-log write and only inserts into the outbox.
func New(
	avail *availability.Service,
	req *requirement.Service,
	match *matching.Engine,
	riskEngine *risk.Engine,
	cap *capability.Detector,
	partners capability.PartnerStore,
	availabilityUOW, requirementUOW, matchingUOW, capabilityUOW *outbox.UnitOfWork,
	outboxStore outbox.Store,
	audit *eventstore.Recorder,
	log *logger.Logger,
) *Gateway {
	if log == nil {
		log = logger.NewDefault("gateway")
	}
	return &Gateway{
		Availability:    avail,
		Requirement:     req,
		Matching:        match,
		Risk:            riskEngine,
		Capability:      cap,
		partners:        partners,
		availabilityUOW: availabilityUOW,
		requirementUOW:  requirementUOW,
		matchingUOW:     matchingUOW,
		capabilityUOW:   capabilityUOW,
		outboxStore:     outboxStore,
		audit:           audit,
		log:             log,
	}
}

// flush drains uow and writes the staged events to both the outbox (for
// publishing) and the audit log (for a durable history independent of
// publish/DLQ status).
func (g *Gateway) flush(ctx context.Context, uow *outbox.UnitOfWork) {
	if uow == nil {
		return
	}
	events := uow.Drain()
	if len(events) == 0 {
		return
	}
	if g.outboxStore != nil {
		if err := g.outboxStore.Insert(ctx, events); err != nil {
			g.log.WithField("count", len(events)).WithField("error", err).Error("flush staged outbox events")
		}
	}
	if g.audit != nil {
		if err := g.audit.RecordAll(ctx, events); err != nil {
			g.log.WithField("count", len(events)).WithField("error", err).Error("record staged events to audit log")
		}
	}
}

// CreateAvailability registers a new availability posting.
func (g *Gateway) CreateAvailability(ctx context.Context, sec security.Context, in availability.CreateInput) (*domavail.Availability, error) {
	a, err := g.Availability.CreateAvailability(ctx, sec, in)
	g.flush(ctx, g.availabilityUOW)
	return a, err
}

// ReserveAvailability holds qty of availabilityID against buyerID.
func (g *Gateway) ReserveAvailability(ctx context.Context, sec security.Context, availabilityID, buyerID string, qty decimal.Decimal) (*domavail.Availability, error) {
	reserveSec := sec
	reserveSec.PartnerID = buyerID
	a, err := g.Availability.Reserve(ctx, reserveSec, availabilityID, qty)
	g.flush(ctx, g.availabilityUOW)
	return a, err
}

// CreateRequirement registers a new buy-side requirement.
func (g *Gateway) CreateRequirement(ctx context.Context, sec security.Context, in requirement.CreateInput) (*domreq.Requirement, error) {
	r, err := g.Requirement.CreateRequirement(ctx, sec, in)
	g.flush(ctx, g.requirementUOW)
	return r, err
}

// FindMatchesForRequirement runs the matching pipeline synchronously for
// requirementID and returns whatever matches it produced (possibly none).
// Queued runs (DIRECT_BUY creation, safety sweep) happen independently via
// the matching.Queue; this entry point is for callers that want an
// immediate, blocking run.
func (g *Gateway) FindMatchesForRequirement(ctx context.Context, sec security.Context, requirementID string) ([]*dommatch.Match, error) {
	matches, err := g.Matching.RunForRequirement(ctx, sec, requirementID, "gateway_request")
	g.flush(ctx, g.matchingUOW)
	return matches, err
}

// ValidateCapability re-derives partnerID's capabilities and checks
// whether they authorize direction in country.
func (g *Gateway) ValidateCapability(ctx context.Context, sec security.Context, partnerID, country string, direction capability.Direction) (ok bool, deniedReason string) {
	caps, err := g.Capability.UpdateCapabilities(ctx, sec, partnerID)
	g.flush(ctx, g.capabilityUOW)
	if err != nil {
		return false, err.Error()
	}
	p, err := g.partners.GetPartner(ctx, partnerID)
	if err != nil {
		return false, err.Error()
	}
	if err := capability.ValidateDirection(p.HomeCountry, caps, country, direction); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// AssessRisk runs the Tier-1/Tier-2 risk assessment for kind.
func (g *Gateway) AssessRisk(ctx context.Context, kind domrisk.Kind, posting *risk.PostingInput, trade *risk.TradeInput) (*domrisk.Assessment, error) {
	switch kind {
	case domrisk.KindPosting:
		if posting == nil {
			return nil, apperr.New(apperr.KindValidation, "posting input required for POSTING risk assessment")
		}
		return g.Risk.AssessPosting(ctx, *posting)
	case domrisk.KindTrade:
		if trade == nil {
			return nil, apperr.New(apperr.KindValidation, "trade input required for TRADE risk assessment")
		}
		return g.Risk.AssessTrade(ctx, *trade)
	default:
		return nil, apperr.New(apperr.KindValidation, "unknown risk assessment kind")
	}
}
