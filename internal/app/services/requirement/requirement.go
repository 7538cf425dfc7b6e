// Package requirement implements the buy-side posting lifecycle: create/publish/cancel, intent routing, buyer-trust scoring, and
// the AI-enhancement pipeline (contracts only, per-step timeout and
// graceful degrade).
package requirement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domoutbox "github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Store is the persistence seam for requirements.
type Store interface {
	Create(ctx context.Context, r *domreq.Requirement) error
	Get(ctx context.Context, id string) (*domreq.Requirement, error)
	UpdateWithVersion(ctx context.Context, r *domreq.Requirement) (ok bool, err error)
}

// CommodityLookup resolves the catalog entry a requirement references.
type CommodityLookup interface {
	GetCommodity(ctx context.Context, commodityID string) (*commodity.Commodity, error)
}

// PartnerLookup loads the buyer partner.
type PartnerLookup interface {
	GetPartner(ctx context.Context, partnerID string) (*party.Partner, error)
}

// TrustHistory supplies the raw counts behind buyer_trust_score.
type TrustHistory interface {
	FulfilledCount(ctx context.Context, buyerID string) (fulfilled, total int, err error)
}

// MatchEnqueuer hands a DIRECT_BUY requirement to the matching engine.
type MatchEnqueuer interface {
	EnqueueMatch(ctx context.Context, requirementID string) error
}

// ExternalForwarder forwards NEGOTIATE/AUCTION requirements to their
// out-of-scope modules; the core only needs to know the handoff happened.
type ExternalForwarder interface {
	Forward(ctx context.Context, requirementID string, intent domreq.Intent) error
}

const maxOptimisticRetries = 3

// defaultStepTimeout is the per-AI-step budget names.
const defaultStepTimeout = 500 * time.Millisecond

// Service implements the requirement lifecycle.
type Service struct {
	store      Store
	commodity  CommodityLookup
	partners   PartnerLookup
	trust      TrustHistory
	matcher    MatchEnqueuer
	forwarder  ExternalForwarder
	converter  *unit.Converter
	riskEngine *risk.Engine
	outbox     *svcoutbox.UnitOfWork
	steps      []EnhancementStep
	log        *logger.Logger
}

// New builds a Service. trust, matcher, forwarder, and steps may be nil/empty;
// when steps is nil, DefaultSteps() is used.
func New(store Store, commodityLookup CommodityLookup, partners PartnerLookup, trust TrustHistory, matcher MatchEnqueuer, forwarder ExternalForwarder, riskEngine *risk.Engine, outboxUOW *svcoutbox.UnitOfWork, steps []EnhancementStep, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requirement")
	}
	if steps == nil {
		steps = DefaultSteps()
	}
	return &Service{
		store:      store,
		commodity:  commodityLookup,
		partners:   partners,
		trust:      trust,
		matcher:    matcher,
		forwarder:  forwarder,
		converter:  unit.NewConverter(),
		riskEngine: riskEngine,
		outbox:     outboxUOW,
		steps:      steps,
		log:        log,
	}
}

// CreateInput is what CreateRequirement accepts.
type CreateInput struct {
	BuyerID     string
	CommodityID string

	Quantity  decimal.Decimal
	TradeUnit unit.Unit

	DeliveryLocations []domreq.DeliveryLocation
	QualityTolerance  float64
	QualityParams     commodity.QualityParams
	BudgetMax         *decimal.Decimal

	Intent domreq.Intent

	DensityKgPerLiter *decimal.Decimal
}

// CreateRequirement validates and persists a new requirement: mirrors Availability but buyer-side, adding buy_* capability
// validation, buyer-trust scoring, and intent routing.
func (s *Service) CreateRequirement(ctx context.Context, sec security.Context, in CreateInput) (*domreq.Requirement, error) {
	if len(in.DeliveryLocations) == 0 {
		return nil, apperr.Validation("at least one delivery location is required")
	}

	c, err := s.commodity.GetCommodity(ctx, in.CommodityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load commodity", err)
	}
	if failures := c.ValidateQuality(in.QualityParams); len(failures) > 0 {
		return nil, apperr.Validation("quality parameters failed validation: %v", failures)
	}

	qtyInBase, err := s.converter.Convert(in.Quantity, in.TradeUnit, unit.Unit(c.BaseUnit), in.DensityKgPerLiter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "convert quantity to base unit", err)
	}

	precheckStatus := domrisk.StatusPass
	var precheckScore float64
	if s.riskEngine != nil {
		for _, dl := range in.DeliveryLocations {
			assessment, err := s.riskEngine.AssessPosting(ctx, risk.PostingInput{
				PartnerID:   in.BuyerID,
				CommodityID: in.CommodityID,
				Country:     dl.Country,
				Direction:   capability.Buy,
				TradeDay:    time.Now().UTC(),
			})
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, "risk precheck", err)
			}
			if assessment.FinalStatus == domrisk.StatusFail {
				reason := "risk precheck failed"
				if len(assessment.Tier1Reasons) > 0 {
					reason = assessment.Tier1Reasons[0]
				}
				return nil, apperr.New(apperr.KindCapabilityDenied, reason)
			}
			precheckStatus = domrisk.Worse(precheckStatus, assessment.FinalStatus)
			if assessment.FinalScore > precheckScore {
				precheckScore = assessment.FinalScore
			}
		}
	}

	trustScore := s.computeTrustScore(ctx, in.BuyerID)

	now := time.Now().UTC()
	r := &domreq.Requirement{
		ID:                 uuid.NewString(),
		Version:            1,
		BuyerID:            in.BuyerID,
		CommodityID:        in.CommodityID,
		Quantity:           in.Quantity,
		TradeUnit:          string(in.TradeUnit),
		QtyInBaseUnit:      qtyInBase,
		DeliveryLocations:  in.DeliveryLocations,
		QualityTolerance:   in.QualityTolerance,
		QualityParams:      in.QualityParams,
		BudgetMax:          in.BudgetMax,
		Intent:             in.Intent,
		Status:             domreq.StatusDraft,
		BuyerTrustScore:    trustScore,
		RiskPrecheckStatus: precheckStatus,
		RiskPrecheckScore:  precheckScore,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	r = s.runEnhancementPipeline(ctx, r)

	if err := s.store.Create(ctx, r); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist requirement", err)
	}
	if err := s.stageEvent(ctx, sec, r, domoutbox.EventRequirementCreated); err != nil {
		return nil, err
	}

	if err := s.routeIntent(ctx, r); err != nil {
		s.log.WithField("requirement_id", r.ID).WithField("error", err).Warn("intent routing failed")
	}

	s.log.WithField("requirement_id", r.ID).WithField("buyer_id", r.BuyerID).Info("requirement created")
	return r, nil
}

// routeIntent implements 's intent table: DIRECT_BUY enqueues a
// matching job immediately; NEGOTIATE/AUCTION forward to their out-of-scope
// modules; BROWSE persists only.
func (s *Service) routeIntent(ctx context.Context, r *domreq.Requirement) error {
	switch r.Intent {
	case domreq.IntentDirectBuy:
		if s.matcher == nil {
			return nil
		}
		return s.matcher.EnqueueMatch(ctx, r.ID)
	case domreq.IntentNegotiate, domreq.IntentAuction:
		if s.forwarder == nil {
			return nil
		}
		return s.forwarder.Forward(ctx, r.ID, r.Intent)
	case domreq.IntentBrowse:
		return nil
	default:
		return nil
	}
}

// Publish transitions DRAFT to PUBLISHED.
func (s *Service) Publish(ctx context.Context, sec security.Context, requirementID string) (*domreq.Requirement, error) {
	r, err := s.store.Get(ctx, requirementID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load requirement", err)
	}
	if r.Status != domreq.StatusDraft {
		return nil, apperr.New(apperr.KindConflict, "only a draft requirement may be published")
	}
	r.Status = domreq.StatusPublished
	ok, err := s.store.UpdateWithVersion(ctx, r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist publish", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "requirement was modified concurrently")
	}
	if err := s.stageEvent(ctx, sec, r, domoutbox.EventRequirementPublished); err != nil {
		return nil, err
	}
	return r, nil
}

// Cancel is terminal: it may be called from any non-terminal status.
func (s *Service) Cancel(ctx context.Context, sec security.Context, requirementID string) (*domreq.Requirement, error) {
	r, err := s.store.Get(ctx, requirementID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load requirement", err)
	}
	switch r.Status {
	case domreq.StatusFulfilled, domreq.StatusCancelled, domreq.StatusExpired:
		return nil, apperr.New(apperr.KindConflict, "requirement is already in a terminal state")
	}
	r.Status = domreq.StatusCancelled
	ok, err := s.store.UpdateWithVersion(ctx, r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist cancellation", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "requirement was modified concurrently")
	}
	if err := s.stageEvent(ctx, sec, r, domoutbox.EventRequirementCancelled); err != nil {
		return nil, err
	}
	return r, nil
}

// Allocate records qty matched against this requirement, retrying on
// optimistic conflicts, transitioning to PARTIALLY_MATCHED/FULFILLED.
func (s *Service) Allocate(ctx context.Context, sec security.Context, requirementID string, qty decimal.Decimal) (*domreq.Requirement, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		r, err := s.store.Get(ctx, requirementID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "load requirement", err)
		}
		if r.Remaining().LessThan(qty) {
			return nil, apperr.New(apperr.KindOverSold, "allocation would exceed requirement quantity")
		}
		r.Allocated = r.Allocated.Add(qty)
		if r.Remaining().IsZero() {
			r.Status = domreq.StatusFulfilled
		} else {
			r.Status = domreq.StatusPartiallyMatched
		}
		ok, err := s.store.UpdateWithVersion(ctx, r)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "persist allocation", err)
		}
		if !ok {
			continue
		}
		if r.Status == domreq.StatusFulfilled {
			if err := s.stageEvent(ctx, sec, r, domoutbox.EventRequirementFulfilled); err != nil {
				return nil, err
			}
		}
		return r, nil
	}
	return nil, apperr.New(apperr.KindBusy, "too many concurrent allocation attempts, try again")
}

// computeTrustScore derives a deterministic [0,1] score from fulfillment
// history; it degrades to a neutral 0.5 when no history source is wired
// or the buyer has no history yet.
func (s *Service) computeTrustScore(ctx context.Context, buyerID string) float64 {
	if s.trust == nil {
		return 0.5
	}
	fulfilled, total, err := s.trust.FulfilledCount(ctx, buyerID)
	if err != nil || total == 0 {
		return 0.5
	}
	return float64(fulfilled) / float64(total)
}

func (s *Service) stageEvent(ctx context.Context, sec security.Context, r *domreq.Requirement, eventType domoutbox.EventType) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := svcoutbox.EncodePayload(r)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode event payload", err)
	}
	return s.outbox.Stage(ctx, domoutbox.Event{
		AggregateID:   r.ID,
		AggregateType: "requirement",
		EventType:     eventType,
		SchemaVersion: 1,
		Topic:         "requirement.events",
		Payload:       payload,
		Metadata:      domoutbox.Metadata{Actor: sec.ActorID, RequestID: sec.RequestID, TraceID: sec.TraceID},
	})
}
