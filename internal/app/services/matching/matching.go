// Package matching implements the location-first matcher:
// a hard geo pre-filter, duplicate/insider rejection, four-dimension
// scoring, threshold drop, and atomic top-K allocation, wired as an
// event-driven worker with explicit Store/lookup seams, a bounded job
// queue for backpressure, and a scheduled safety sweep for runs that
// failed inline.
package matching

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/core"
	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/match"
	domoutbox "github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/pkg/config"
	"github.com/rnrlcrm/tradecore/pkg/logger"
	"github.com/rnrlcrm/tradecore/pkg/metrics"
)

// RequirementStore is the subset of the requirement service's persistence
// seam the matcher needs: load by ID and list requirements open for the
// periodic safety sweep.
type RequirementStore interface {
	Get(ctx context.Context, id string) (*domreq.Requirement, error)
	ListOpenForSweep(ctx context.Context, limit int) ([]*domreq.Requirement, error)
}

// AvailabilityStore is the subset of availability persistence the matcher
// needs: load by ID and the location-first candidate query.
type AvailabilityStore interface {
	Get(ctx context.Context, id string) (*domavail.Availability, error)
	// ListOpenByCommodityLocation returns AVAILABLE/PARTIALLY_SOLD,
	// non-expired postings for commodityID in country (and region, unless
	// region is empty, meaning "any region in country" for the
	// cross-state-allowed policy), bounded by limit
	//.
	ListOpenByCommodityLocation(ctx context.Context, commodityID, country, region string, limit int) ([]*domavail.Availability, error)
}

// CommodityLookup resolves the catalog entry both sides of a candidate
// pair reference.
type CommodityLookup interface {
	GetCommodity(ctx context.Context, commodityID string) (*commodity.Commodity, error)
}

// MatchStore persists successful matches.
type MatchStore interface {
	Save(ctx context.Context, m *match.Match) error
}

// Reserver is the availability-side reservation port (services/availability.Service.Reserve).
type Reserver interface {
	Reserve(ctx context.Context, sec security.Context, availabilityID string, qty decimal.Decimal) (*domavail.Availability, error)
}

// Allocator is the requirement-side allocation port (services/requirement.Service.Allocate).
type Allocator interface {
	Allocate(ctx context.Context, sec security.Context, requirementID string, qty decimal.Decimal) (*domreq.Requirement, error)
}

// DuplicateChecker implements the short-TTL fingerprint cache shared
// across workers. CheckAndRecord reports whether this (requirementID,
// availabilityID) pair was already checked within window with quality
// params at least simThreshold similar to params, and records params for
// future calls when it is not a duplicate. The engine calls it before
// scoring, so a pair is recorded whether or not it goes on to produce a
// match; a pair that was checked but not matched is still reported as a
// duplicate within the window.
type DuplicateChecker interface {
	CheckAndRecord(ctx context.Context, requirementID, availabilityID string, params commodity.QualityParams, window time.Duration, simThreshold float64) (duplicate bool, err error)
}

// ScoringSnapshot is the process-wide, copy-on-write scoring configuration
//. Readers take the pointer atomically
// via Engine.snapshot.Load(); Reload swaps it.
type ScoringSnapshot struct {
	WeightQuality      float64
	WeightPrice        float64
	WeightDelivery     float64
	WeightRisk         float64
	MinScoreThreshold  float64
	RiskWarnPenalty    float64
	AIRecommendedBoost float64
	MaxCandidates      int
	MaxNotify          int
	MinPartialFraction float64
	DuplicateWindow    time.Duration
	DuplicateSimilarity float64
	DeliveryRadiusKM   float64
	AllowCrossState    bool
}

// SnapshotFromConfig builds a ScoringSnapshot from the loaded process
// configuration's ScoringConfig.
func SnapshotFromConfig(cfg config.ScoringConfig) ScoringSnapshot {
	return ScoringSnapshot{
		WeightQuality:       cfg.WeightQuality,
		WeightPrice:         cfg.WeightPrice,
		WeightDelivery:      cfg.WeightDelivery,
		WeightRisk:          cfg.WeightRisk,
		MinScoreThreshold:   cfg.MinScoreThreshold,
		RiskWarnPenalty:     cfg.RiskWarnPenalty,
		AIRecommendedBoost:  cfg.AIRecommendedBoost,
		MaxCandidates:       cfg.MaxCandidates,
		MaxNotify:           cfg.MaxNotify,
		MinPartialFraction:  cfg.MinPartialFraction,
		DuplicateWindow:     time.Duration(cfg.DuplicateWindowSecs) * time.Second,
		DuplicateSimilarity: 0.95,
		DeliveryRadiusKM:    100,
		AllowCrossState:     false,
	}
}

// policyFor merges a commodity's override onto the process-wide snapshot.
func policyFor(snap ScoringSnapshot, c *commodity.Commodity) ScoringSnapshot {
	if c == nil || c.Matching == nil {
		return snap
	}
	p := c.Matching
	if p.Weights != nil {
		snap.WeightQuality = p.Weights.Quality
		snap.WeightPrice = p.Weights.Price
		snap.WeightDelivery = p.Weights.Delivery
		snap.WeightRisk = p.Weights.Risk
	}
	if p.MinScoreThreshold != nil {
		snap.MinScoreThreshold = *p.MinScoreThreshold
	}
	if p.WithinKM != nil {
		snap.DeliveryRadiusKM = *p.WithinKM
		snap.AllowCrossState = p.AllowCrossState
	}
	if p.AllowCrossState {
		snap.AllowCrossState = true
	}
	if p.SameCityOnly {
		snap.DeliveryRadiusKM = 0
	}
	return snap
}

// Candidate is a scored availability awaiting allocation.
type Candidate struct {
	Availability *domavail.Availability
	Breakdown    match.ScoreBreakdown
}

// dropTally counts why candidates were rejected during scoring or
// allocation, so a run that ends with zero matches can report the
// specific NO_MATCH_FOUND reason (e.g. INSIDER) instead of collapsing
// every rejection into BELOW_THRESHOLD.
type dropTally struct {
	Insider        int
	Duplicate      int
	BelowThreshold int
	RiskFail       int
}

// reason picks the single NO_MATCH_FOUND reason for a run that produced
// no candidates past scoring/allocation, in priority order: a pairwise
// insider block is always reported over a duplicate or score rejection,
// since it is a policy block rather than a quality signal.
func (t dropTally) reason(fallback match.NoMatchReason) match.NoMatchReason {
	switch {
	case t.Insider > 0:
		return match.ReasonInsider
	case t.Duplicate > 0:
		return match.ReasonDuplicate
	case t.RiskFail > 0:
		return match.ReasonRiskFail
	default:
		return fallback
	}
}

// Engine implements the matching pipeline.
type Engine struct {
	requirements   RequirementStore
	availabilities AvailabilityStore
	commodities    CommodityLookup
	matches        MatchStore
	reserver       Reserver
	allocator      Allocator
	insider        *insider.Validator
	riskEngine     *risk.Engine
	dup            DuplicateChecker
	outbox         *svcoutbox.UnitOfWork
	snapshot       atomic.Pointer[ScoringSnapshot]
	log            *logger.Logger
}

// New builds an Engine seeded with initial.
func New(
	requirements RequirementStore,
	availabilities AvailabilityStore,
	commodities CommodityLookup,
	matches MatchStore,
	reserver Reserver,
	allocator Allocator,
	insiderValidator *insider.Validator,
	riskEngine *risk.Engine,
	dup DuplicateChecker,
	outboxUOW *svcoutbox.UnitOfWork,
	initial ScoringSnapshot,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.NewDefault("matching")
	}
	e := &Engine{
		requirements:   requirements,
		availabilities: availabilities,
		commodities:    commodities,
		matches:        matches,
		reserver:       reserver,
		allocator:      allocator,
		insider:        insiderValidator,
		riskEngine:     riskEngine,
		dup:            dup,
		outbox:         outboxUOW,
		log:            log,
	}
	e.snapshot.Store(&initial)
	return e
}

// SetAllocator binds the requirement-side allocation port after
// construction, breaking the construction cycle between this Engine
// (which the requirement service's MatchEnqueuer wraps) and the
// requirement service (which this Engine allocates against): cmd/tradecored
// builds the Engine with a nil Allocator, builds the requirement service
// next, then calls SetAllocator once both exist. RunForRequirement panics
// on a nil allocator, the same contract a nil Reserver/MatchStore would
// produce; the panic comes at the first candidate that reaches
// allocation, not at startup.
func (e *Engine) SetAllocator(allocator Allocator) {
	e.allocator = allocator
}

// Reload atomically swaps the process-wide scoring snapshot. Nothing in
// this module calls it: no CONFIG_CHANGED subscriber is wired, so the
// snapshot stays the one passed to New unless a caller invokes Reload.
func (e *Engine) Reload(snap ScoringSnapshot) {
	e.snapshot.Store(&snap)
}

func (e *Engine) currentSnapshot() ScoringSnapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return SnapshotFromConfig(config.New().Scoring)
}

// RunForRequirement executes the full pipeline for one requirement,
// triggered by trigger (an event type or "safety_sweep"). Re-runs within
// the duplicate window skip every (requirement, availability) pair the
// duplicate checker has already seen with similar quality params; the
// versions stamped on Match rows are not consulted, so a re-run after the
// window can match the same pair again if quantity remains on both sides.
func (e *Engine) RunForRequirement(ctx context.Context, sec security.Context, requirementID, trigger string) ([]*match.Match, error) {
	hooks := metrics.ObservationHooks("matching", "runs", metrics.MatchingRuns, metrics.MatchingDuration, trigger)
	complete := core.StartObservation(ctx, hooks, core.ObservationMeta{Operation: "matching.RunForRequirement", Labels: map[string]string{"requirement_id": requirementID}})
	var runErr error
	defer func() { complete(runErr) }()

	r, err := e.requirements.Get(ctx, requirementID)
	if err != nil {
		runErr = err
		return nil, apperr.Wrap(apperr.KindInternal, "load requirement", err)
	}
	if r.Remaining().LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	c, err := e.commodities.GetCommodity(ctx, r.CommodityID)
	if err != nil {
		runErr = err
		return nil, apperr.Wrap(apperr.KindInternal, "load commodity", err)
	}
	snap := policyFor(e.currentSnapshot(), c)

	candidates, err := e.collectCandidates(ctx, r, snap)
	if err != nil {
		runErr = err
		return nil, err
	}
	metrics.MatchingCandidates.WithLabelValues("location_filter").Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		e.emitNoMatch(ctx, sec, r, match.ReasonNoCandidates)
		return nil, nil
	}

	scored, tally := e.scoreAll(ctx, sec, r, c, candidates, snap)
	metrics.MatchingCandidates.WithLabelValues("scored").Observe(float64(len(scored)))
	if len(scored) == 0 {
		e.emitNoMatch(ctx, sec, r, tally.reason(match.ReasonBelowThreshold))
		return nil, nil
	}

	sortByScoreDesc(scored)
	if snap.MaxNotify > 0 && len(scored) > snap.MaxNotify {
		scored = scored[:snap.MaxNotify]
	}

	matches, allocTally := e.allocateAll(ctx, sec, r, scored, snap)
	if len(matches) == 0 {
		e.emitNoMatch(ctx, sec, r, allocTally.reason(match.ReasonAllocationFail))
	}
	return matches, nil
}

// collectCandidates implements step 1 (location-first hard filter): one
// DB-level query per delivery location, unioned and de-duplicated,
// bounded by MAX_CANDIDATES.
func (e *Engine) collectCandidates(ctx context.Context, r *domreq.Requirement, snap ScoringSnapshot) ([]*domavail.Availability, error) {
	seen := make(map[string]struct{})
	var out []*domavail.Availability
	limit := snap.MaxCandidates
	if limit <= 0 {
		limit = 500
	}
	for _, dl := range r.DeliveryLocations {
		region := dl.Region
		if snap.AllowCrossState {
			region = ""
		}
		rows, err := e.availabilities.ListOpenByCommodityLocation(ctx, r.CommodityID, dl.Country, region, limit)
		if err != nil {
			e.log.WithField("requirement_id", r.ID).WithField("error", err).Warn("candidate query failed, skipping delivery location")
			continue
		}
		for _, a := range rows {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// scoreAll implements steps 2-6: duplicate rejection, insider filter,
// four-dimension scoring, penalties/boosts, threshold drop. Any candidate
// whose risk or insider check errors is skipped with a logged warning;
// the overall run continues.
func (e *Engine) scoreAll(ctx context.Context, sec security.Context, r *domreq.Requirement, c *commodity.Commodity, candidates []*domavail.Availability, snap ScoringSnapshot) ([]Candidate, dropTally) {
	var out []Candidate
	var tally dropTally
	for _, a := range candidates {
		if e.dup != nil {
			dup, err := e.dup.CheckAndRecord(ctx, r.ID, a.ID, a.QualityParams, snap.DuplicateWindow, snap.DuplicateSimilarity)
			if err != nil {
				e.log.WithField("availability_id", a.ID).WithField("error", err).Warn("duplicate check failed, skipping candidate")
				continue
			}
			if dup {
				tally.Duplicate++
				continue
			}
		}

		if e.insider != nil {
			reason, err := e.insider.Validate(ctx, r.BuyerID, a.SellerID)
			if err != nil {
				e.log.WithField("availability_id", a.ID).WithField("error", err).Warn("insider check failed, skipping candidate")
				continue
			}
			if reason != "" {
				tally.Insider++
				continue
			}
		}

		quality := scoreQuality(c, r.QualityParams, a.QualityParams, r.QualityTolerance)
		price := scorePriceFor(r, a)
		delivery := scoreDelivery(a, r.DeliveryLocations, snap.DeliveryRadiusKM, snap.AllowCrossState)
		riskStatus := domrisk.Worse(a.RiskPrecheckStatus, r.RiskPrecheckStatus)
		riskSub := scoreRisk(riskStatus)

		base := snap.WeightQuality*quality + snap.WeightPrice*price + snap.WeightDelivery*delivery + snap.WeightRisk*riskSub
		final := base
		if riskStatus == domrisk.StatusWarn {
			final -= snap.RiskWarnPenalty
		}
		if r.IsRecommended(a.SellerID) {
			final += snap.AIRecommendedBoost
		}
		final = clamp01(final)

		threshold := snap.MinScoreThreshold
		if threshold <= 0 {
			threshold = 0.6
		}
		if final < threshold {
			tally.BelowThreshold++
			continue
		}

		out = append(out, Candidate{
			Availability: a,
			Breakdown: match.ScoreBreakdown{
				Quality: quality, Price: price, Delivery: delivery, Risk: riskSub,
				Base: base, Final: final,
			},
		})
	}
	return out, tally
}

// scorePriceFor derives the requirement's reference price from its
// budget ceiling when set, falling back to the availability's own
// price_per_base_unit (perfect score) when the requirement carries none.
func scorePriceFor(r *domreq.Requirement, a *domavail.Availability) float64 {
	if r.BudgetMax == nil {
		return 1
	}
	return scorePrice(*r.BudgetMax, a.PricePerBaseUnit)
}

// allocateAll implements step 7 (atomic allocation, score-descending,
// row-lock retry, partial-fraction acceptance) and step 8 (persist +
// emit MATCH_FOUND).
func (e *Engine) allocateAll(ctx context.Context, sec security.Context, r *domreq.Requirement, scored []Candidate, snap ScoringSnapshot) ([]*match.Match, dropTally) {
	var matches []*match.Match
	var tally dropTally
	remaining := r.Remaining()
	for _, cand := range scored {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		a := cand.Availability

		assessment, err := e.riskEngine.AssessTrade(ctx, risk.TradeInput{
			BuyerID:     r.BuyerID,
			SellerID:    a.SellerID,
			CommodityID: r.CommodityID,
			TradeValue:  a.PricePerBaseUnit.Mul(decimalMin(remaining, a.Available())),
			TradeDay:    time.Now().UTC(),
		})
		if err != nil {
			e.log.WithField("availability_id", a.ID).WithField("error", err).Warn("pairwise risk assessment failed, skipping candidate")
			continue
		}
		if assessment.FinalStatus == domrisk.StatusFail {
			tally.RiskFail++
			continue
		}

		want := decimalMin(remaining, a.Available())
		minPartial := r.Quantity.Mul(decimal.NewFromFloat(snap.MinPartialFraction))
		if want.LessThan(minPartial) {
			continue
		}

		if err := e.reserveWithRetry(ctx, sec, a.ID, want); err != nil {
			e.log.WithField("availability_id", a.ID).WithField("error", err).Warn("reservation failed, skipping candidate")
			continue
		}

		if _, err := e.allocator.Allocate(ctx, sec, r.ID, want); err != nil {
			e.log.WithField("requirement_id", r.ID).WithField("error", err).Warn("requirement allocation failed after reservation")
			continue
		}

		var warnings []string
		if assessment.FinalStatus == domrisk.StatusWarn {
			warnings = append(warnings, "risk tier warned on this pairing")
		}
		if assessment.MLDegraded {
			warnings = append(warnings, "tier-2 risk score degraded to rule-only fallback")
		}

		m := &match.Match{
			ID:                  uuid.NewString(),
			RequirementID:       r.ID,
			AvailabilityID:      a.ID,
			AllocatedQty:        want,
			Score:               cand.Breakdown.Final,
			ScoreBreakdown:      cand.Breakdown,
			RiskStatus:          assessment.FinalStatus,
			Warnings:            warnings,
			RequirementVersion:  r.Version,
			AvailabilityVersion: a.Version,
			CreatedAt:           time.Now().UTC(),
		}
		if err := e.matches.Save(ctx, m); err != nil {
			e.log.WithField("requirement_id", r.ID).WithField("availability_id", a.ID).WithField("error", err).Warn("persist match failed")
			continue
		}
		e.emitMatchFound(ctx, sec, m)
		matches = append(matches, m)
		remaining = remaining.Sub(want)
	}
	return matches, tally
}

const maxReserveRetries = 3

// reserveWithRetry retries a reservation against transient conflicts
// (optimistic version races already retried inside Reserve itself; this
// adds the matcher-level backoff step 7 names: "on conflict,
// retry with exponential backoff up to 3 times before skipping").
func (e *Engine) reserveWithRetry(ctx context.Context, sec security.Context, availabilityID string, qty decimal.Decimal) error {
	backoff := 20 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxReserveRetries; attempt++ {
		_, err := e.reserver.Reserve(ctx, sec, availabilityID, qty)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperr.Is(err, apperr.KindBusy) && !apperr.Is(err, apperr.KindConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// sortByScoreDesc orders candidates by score descending, ties broken by
// earlier ValidFrom then lexicographically lower AvailabilityID.
func sortByScoreDesc(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Breakdown.Final != c[j].Breakdown.Final {
			return c[i].Breakdown.Final > c[j].Breakdown.Final
		}
		ai, aj := c[i].Availability, c[j].Availability
		if !ai.ValidFrom.Equal(aj.ValidFrom) {
			return ai.ValidFrom.Before(aj.ValidFrom)
		}
		return ai.ID < aj.ID
	})
}

func (e *Engine) emitMatchFound(ctx context.Context, sec security.Context, m *match.Match) {
	if e.outbox == nil {
		return
	}
	payload, err := svcoutbox.EncodePayload(m)
	if err != nil {
		e.log.WithField("match_id", m.ID).WithField("error", err).Warn("encode MATCH_FOUND payload failed")
		return
	}
	_ = e.outbox.Stage(ctx, domoutbox.Event{
		AggregateID:   m.ID,
		AggregateType: "match",
		EventType:     domoutbox.EventMatchFound,
		SchemaVersion: 1,
		Topic:         "match.events",
		Payload:       payload,
		Metadata:      domoutbox.Metadata{Actor: sec.ActorID, RequestID: sec.RequestID, TraceID: sec.TraceID},
	})
}

func (e *Engine) emitNoMatch(ctx context.Context, sec security.Context, r *domreq.Requirement, reason match.NoMatchReason) {
	if e.outbox == nil {
		return
	}
	payload, err := svcoutbox.EncodePayload(struct {
		RequirementID string              `json:"requirement_id"`
		Reason        match.NoMatchReason `json:"reason"`
	}{r.ID, reason})
	if err != nil {
		return
	}
	_ = e.outbox.Stage(ctx, domoutbox.Event{
		AggregateID:   r.ID,
		AggregateType: "requirement",
		EventType:     domoutbox.EventNoMatchFound,
		SchemaVersion: 1,
		Topic:         "match.events",
		Payload:       payload,
		Metadata:      domoutbox.Metadata{Actor: sec.ActorID, RequestID: sec.RequestID, TraceID: sec.TraceID},
	})
}
