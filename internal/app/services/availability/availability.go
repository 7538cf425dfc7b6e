// Package availability implements the seller-side posting lifecycle:
// create, reserve, release, mark-sold, update/cancel, and the TTL sweeper
// that expires lapsed postings.
package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Store is the persistence seam for availabilities, covering both
// PostgreSQL (optimistic concurrency via the Version column, checked
// "WHERE id=$1 AND version=$2") and the in-memory test double.
type Store interface {
	Create(ctx context.Context, a *domavail.Availability) error
	Get(ctx context.Context, id string) (*domavail.Availability, error)
	// UpdateWithVersion persists a's current field values, conditioned on
	// a.Version still matching the stored row; it bumps Version by one on
	// success. ok=false means a concurrent writer won the race.
	UpdateWithVersion(ctx context.Context, a *domavail.Availability) (ok bool, err error)
	// ListExpiring returns AVAILABLE/PARTIALLY_SOLD rows whose ValidUntil
	// is at or before cutoff, for the TTL sweeper.
	ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*domavail.Availability, error)
}

// CommodityLookup resolves the catalog entry a posting references.
type CommodityLookup interface {
	GetCommodity(ctx context.Context, commodityID string) (*commodity.Commodity, error)
}

// LocationResolver resolves a registered PartnerLocation, for the
// exactly-one-of registered/ad-hoc location rule.
type LocationResolver interface {
	GetLocation(ctx context.Context, locationID string) (*party.PartnerLocation, error)
}

// PartnerLookup loads the seller partner for role/capability checks.
type PartnerLookup interface {
	GetPartner(ctx context.Context, partnerID string) (*party.Partner, error)
}

// CreateInput is what CreateAvailability accepts.
type CreateInput struct {
	SellerID       string
	SellerBranchID *string
	CommodityID    string

	LocationID   *string
	AdHocAddress string
	AdHocLat     float64
	AdHocLon     float64
	Country      string
	Region       string

	Quantity  decimal.Decimal
	TradeUnit unit.Unit

	BasePrice decimal.Decimal
	PriceUnit unit.Unit

	QualityParams commodity.QualityParams

	ValidFrom        time.Time
	ValidUntil       time.Time
	MarketVisibility domavail.Visibility
	RestrictedBuyers []string

	DensityKgPerLiter *decimal.Decimal
}

const maxOptimisticRetries = 3

// Service implements the posting lifecycle.
type Service struct {
	store      Store
	commodity  CommodityLookup
	locations  LocationResolver
	partners   PartnerLookup
	converter  *unit.Converter
	riskEngine *risk.Engine
	outbox     *svcoutbox.UnitOfWork
	log        *logger.Logger
}

// New builds a Service. log may be nil.
func New(store Store, commodityLookup CommodityLookup, locations LocationResolver, partners PartnerLookup, riskEngine *risk.Engine, outboxUOW *svcoutbox.UnitOfWork, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("availability")
	}
	return &Service{
		store:      store,
		commodity:  commodityLookup,
		locations:  locations,
		partners:   partners,
		converter:  unit.NewConverter(),
		riskEngine: riskEngine,
		outbox:     outboxUOW,
		log:        log,
	}
}

// CreateAvailability validates and persists a new posting: exactly one of registered/ad-hoc location, commodity quality
// validation, unit normalization, Tier-1 risk precheck, then a staged
// AVAILABILITY_CREATED event alongside the insert.
func (s *Service) CreateAvailability(ctx context.Context, sec security.Context, in CreateInput) (*domavail.Availability, error) {
	hasLocation := in.LocationID != nil && *in.LocationID != ""
	hasAdHoc := in.AdHocAddress != "" || in.Country != ""
	if hasLocation == hasAdHoc {
		return nil, apperr.Validation("exactly one of location_id or ad-hoc address must be supplied")
	}

	country, region, city, lat, lon := in.Country, in.Region, "", in.AdHocLat, in.AdHocLon
	if hasLocation {
		loc, err := s.locations.GetLocation(ctx, *in.LocationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "resolve location", err)
		}
		country, region, city, lat, lon = loc.Country, loc.State, loc.City, loc.Lat, loc.Lon
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
	pricePerBase, err := s.converter.Convert(in.BasePrice, in.PriceUnit, unit.Unit(c.BaseUnit), in.DensityKgPerLiter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "convert price to base unit", err)
	}

	var precheckStatus domrisk.Status
	var precheckScore float64
	if s.riskEngine != nil {
		assessment, err := s.riskEngine.AssessPosting(ctx, risk.PostingInput{
			PartnerID:   in.SellerID,
			CommodityID: in.CommodityID,
			Country:     country,
			Direction:   capabilityDirectionSell,
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
		precheckStatus, precheckScore = assessment.FinalStatus, assessment.FinalScore
	}

	restricted := make(map[string]struct{}, len(in.RestrictedBuyers))
	for _, b := range in.RestrictedBuyers {
		restricted[b] = struct{}{}
	}

	now := time.Now().UTC()
	a := &domavail.Availability{
		ID:                uuid.NewString(),
		Version:           1,
		SellerID:          in.SellerID,
		SellerBranchID:    in.SellerBranchID,
		CommodityID:       in.CommodityID,
		LocationID:        in.LocationID,
		AdHocAddress:      in.AdHocAddress,
		AdHocLat:          in.AdHocLat,
		AdHocLon:          in.AdHocLon,
		Country:           country,
		Region:            region,
		City:              city,
		Lat:               lat,
		Lon:               lon,
		Total:             in.Quantity,
		TradeUnit:         string(in.TradeUnit),
		QtyInBaseUnit:     qtyInBase,
		BasePrice:         in.BasePrice,
		PriceUnit:         string(in.PriceUnit),
		PricePerBaseUnit:  pricePerBase,
		QualityParams:     in.QualityParams,
		ValidFrom:         in.ValidFrom,
		ValidUntil:        in.ValidUntil,
		MarketVisibility:  in.MarketVisibility,
		RestrictedBuyers:  restricted,
		Status:            domavail.StatusAvailable,
		RiskPrecheckStatus: precheckStatus,
		RiskPrecheckScore:  precheckScore,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist availability", err)
	}

	if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilityCreated, a); err != nil {
		return nil, err
	}
	s.log.WithField("availability_id", a.ID).WithField("seller_id", a.SellerID).Info("availability created")
	return a, nil
}

// Reserve allocates qty against an availability, retrying on optimistic
// version conflicts up to maxOptimisticRetries times. The first successful
// reservation stamps FirstReservedAt, locking posting-defining fields.
func (s *Service) Reserve(ctx context.Context, sec security.Context, availabilityID string, qty decimal.Decimal) (*domavail.Availability, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		a, err := s.store.Get(ctx, availabilityID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "load availability", err)
		}
		if a.Status != domavail.StatusAvailable && a.Status != domavail.StatusPartiallySold {
			return nil, apperr.New(apperr.KindConflict, "availability is not open for reservation")
		}
		if a.Available().LessThan(qty) {
			return nil, apperr.New(apperr.KindInsufficientQuantity, "requested quantity exceeds remaining availability")
		}

		a.Reserved = a.Reserved.Add(qty)
		if a.FirstReservedAt == nil {
			now := time.Now().UTC()
			a.FirstReservedAt = &now
		}
		if a.Available().IsZero() {
			a.Status = domavail.StatusPartiallySold
		}
		if !a.Invariant() {
			return nil, apperr.New(apperr.KindOverSold, "reservation would oversell this posting")
		}

		ok, err := s.store.UpdateWithVersion(ctx, a)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "persist reservation", err)
		}
		if !ok {
			continue // lost the optimistic race; reload and retry
		}
		if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilityReserved, a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.New(apperr.KindBusy, "too many concurrent reservation attempts, try again")
}

// Release returns qty from Reserved back to the available pool (expired
// holds, cancelled matches).
func (s *Service) Release(ctx context.Context, sec security.Context, availabilityID string, qty decimal.Decimal) (*domavail.Availability, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		a, err := s.store.Get(ctx, availabilityID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "load availability", err)
		}
		if a.Reserved.LessThan(qty) {
			return nil, apperr.New(apperr.KindConflict, "cannot release more than is reserved")
		}
		a.Reserved = a.Reserved.Sub(qty)
		if a.Status == domavail.StatusPartiallySold && a.Available().GreaterThan(decimal.Zero) {
			a.Status = domavail.StatusAvailable
		}
		ok, err := s.store.UpdateWithVersion(ctx, a)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "persist release", err)
		}
		if !ok {
			continue
		}
		if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilityReleased, a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.New(apperr.KindBusy, "too many concurrent release attempts, try again")
}

// MarkSold converts qty from Reserved to Sold on trade settlement.
func (s *Service) MarkSold(ctx context.Context, sec security.Context, availabilityID string, qty decimal.Decimal) (*domavail.Availability, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		a, err := s.store.Get(ctx, availabilityID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "load availability", err)
		}
		if a.Reserved.LessThan(qty) {
			return nil, apperr.New(apperr.KindConflict, "cannot sell more than is reserved")
		}
		a.Reserved = a.Reserved.Sub(qty)
		a.Sold = a.Sold.Add(qty)
		if a.Available().IsZero() && a.Reserved.IsZero() {
			a.Status = domavail.StatusSold
		}
		if !a.Invariant() {
			return nil, apperr.New(apperr.KindOverSold, "sale would oversell this posting")
		}
		ok, err := s.store.UpdateWithVersion(ctx, a)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "persist sale", err)
		}
		if !ok {
			continue
		}
		if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilitySold, a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.New(apperr.KindBusy, "too many concurrent sale attempts, try again")
}

// Cancel withdraws a posting that has not yet received any reservation
// (immutable once FirstReservedAt is set).
func (s *Service) Cancel(ctx context.Context, sec security.Context, availabilityID string) (*domavail.Availability, error) {
	a, err := s.store.Get(ctx, availabilityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load availability", err)
	}
	if a.IsImmutableLocked() {
		return nil, apperr.New(apperr.KindImmutable, "cannot cancel an availability that has already been reserved against")
	}
	a.Status = domavail.StatusCancelled
	ok, err := s.store.UpdateWithVersion(ctx, a)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist cancellation", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "availability was modified concurrently")
	}
	if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilityCancelled, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SweepExpired transitions lapsed AVAILABLE/PARTIALLY_SOLD postings to
// EXPIRED (the TTL sweeper's body; the system.Service wrapper lives in
// sweeper.go).
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	rows, err := s.store.ListExpiring(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "list expiring availabilities", err)
	}
	expired := 0
	sec := security.System("availability-ttl-sweeper")
	for _, a := range rows {
		a.Status = domavail.StatusExpired
		ok, err := s.store.UpdateWithVersion(ctx, a)
		if err != nil {
			s.log.WithField("availability_id", a.ID).WithField("error", err).Error("expire availability failed")
			continue
		}
		if !ok {
			continue // someone else mutated it first; leave it for the next sweep
		}
		if err := s.stageEvent(ctx, sec, a.ID, outboxEventAvailabilityExpired, a); err != nil {
			s.log.WithField("availability_id", a.ID).WithField("error", err).Error("stage expiry event failed")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) stageEvent(ctx context.Context, sec security.Context, availabilityID string, eventType string, a *domavail.Availability) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := svcoutbox.EncodePayload(a)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode event payload", err)
	}
	return s.outbox.Stage(ctx, outboxEvent(availabilityID, eventType, payload, sec))
}
