package matching_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/match"
	domoutbox "github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	svcavail "github.com/rnrlcrm/tradecore/internal/app/services/availability"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	"github.com/rnrlcrm/tradecore/internal/app/services/matching"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
)

type harness struct {
	engine   *matching.Engine
	avail    *svcavail.Service
	req      *requirement.Service
	matches  *memory.MatchStore
	partners *memory.PartnerStore
	uow      *svcoutbox.UnitOfWork
	sec      security.Context
}

func newHarness(t *testing.T, snap matching.ScoringSnapshot) *harness {
	t.Helper()

	partners := memory.NewPartnerStore()
	sellerCaps := party.Zero()
	sellerCaps[party.CapDomesticSellIndia] = true
	partners.Put(&party.Partner{ID: "seller-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: sellerCaps})
	buyerCaps := party.Zero()
	buyerCaps[party.CapDomesticBuyIndia] = true
	partners.Put(&party.Partner{ID: "buyer-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: buyerCaps})

	commodities := memory.NewCommodityStore()
	commodities.Put(&commodity.Commodity{
		ID:       "wheat",
		Name:     "Wheat",
		BaseUnit: "KG",
		Parameters: []commodity.ParameterSpec{
			{Name: "moisture", Type: commodity.ParamNumeric, Mandatory: true},
		},
	})

	avStore := memory.NewAvailabilityStore()
	reqStore := memory.NewRequirementStore()
	matchStore := memory.NewMatchStore()

	validator := insider.New(partners)
	riskEngine := risk.New(partners, validator, nil, nil, nil, risk.DefaultConfig(), nil)
	uow := svcoutbox.NewUnitOfWork()

	availSvc := svcavail.New(avStore, commodities, memory.NewLocationStore(), partners, riskEngine, uow, nil)
	reqSvc := requirement.New(reqStore, commodities, partners, nil, nil, nil, riskEngine, uow, nil, nil)

	engine := matching.New(
		reqStore, avStore, commodities, matchStore,
		availSvc, reqSvc,
		validator, riskEngine,
		matching.NewFingerprintCache(),
		uow,
		snap,
		nil,
	)

	return &harness{
		engine:   engine,
		avail:    availSvc,
		req:      reqSvc,
		matches:  matchStore,
		partners: partners,
		uow:      uow,
		sec:      security.System("test"),
	}
}

func defaultSnapshot() matching.ScoringSnapshot {
	return matching.ScoringSnapshot{
		WeightQuality:       0.3,
		WeightPrice:         0.3,
		WeightDelivery:      0.2,
		WeightRisk:          0.2,
		MinScoreThreshold:   0.5,
		RiskWarnPenalty:     0.1,
		AIRecommendedBoost:  0.05,
		MaxCandidates:       50,
		MaxNotify:           10,
		MinPartialFraction:  0.1,
		DuplicateWindow:     time.Minute,
		DuplicateSimilarity: 0.95,
		DeliveryRadiusKM:    100,
		AllowCrossState:     false,
	}
}

func (h *harness) createAvailability(t *testing.T, qty int64, price int64) string {
	t.Helper()
	a, err := h.avail.CreateAvailability(context.Background(), h.sec, svcavail.CreateInput{
		SellerID:     "seller-1",
		CommodityID:  "wheat",
		AdHocAddress: "Warehouse 1",
		Country:      "IN",
		Region:       "MH",
		Quantity:     decimal.NewFromInt(qty),
		TradeUnit:    unit.KG,
		BasePrice:    decimal.NewFromInt(price),
		PriceUnit:    unit.KG,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12)),
		},
		ValidFrom:        time.Now().Add(-time.Hour),
		ValidUntil:       time.Now().Add(48 * time.Hour),
		MarketVisibility: domavail.VisibilityPublic,
	})
	require.NoError(t, err)
	return a.ID
}

func (h *harness) createRequirement(t *testing.T, qty int64, budget *decimal.Decimal) string {
	t.Helper()
	r, err := h.req.CreateRequirement(context.Background(), h.sec, requirement.CreateInput{
		BuyerID:     "buyer-1",
		CommodityID: "wheat",
		Quantity:    decimal.NewFromInt(qty),
		TradeUnit:   unit.KG,
		DeliveryLocations: []domreq.DeliveryLocation{
			{Country: "IN", Region: "MH", City: "Pune"},
		},
		QualityTolerance: 0.1,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12)),
		},
		BudgetMax: budget,
		Intent:    domreq.IntentBrowse,
	})
	require.NoError(t, err)
	return r.ID
}

func TestRunForRequirementSuccessfulMatch(t *testing.T) {
	h := newHarness(t, defaultSnapshot())
	h.createAvailability(t, 100, 20)
	budget := decimal.NewFromInt(20)
	reqID := h.createRequirement(t, 50, &budget)

	matches, err := h.engine.RunForRequirement(context.Background(), h.sec, reqID, "test")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.True(t, matches[0].AllocatedQty.Equal(decimal.NewFromInt(50)))

	stored, ok := h.matches.Get(context.Background(), matches[0].ID)
	require.True(t, ok)
	require.Equal(t, reqID, stored.RequirementID)
}

func TestRunForRequirementNoCandidates(t *testing.T) {
	h := newHarness(t, defaultSnapshot())
	budget := decimal.NewFromInt(20)
	reqID := h.createRequirement(t, 50, &budget)

	matches, err := h.engine.RunForRequirement(context.Background(), h.sec, reqID, "test")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRunForRequirementBelowThresholdOnPriceMismatch(t *testing.T) {
	snap := defaultSnapshot()
	snap.MinScoreThreshold = 0.95 // require an almost-perfect score
	h := newHarness(t, snap)
	h.createAvailability(t, 100, 50) // far from the requirement's budget
	budget := decimal.NewFromInt(20)
	reqID := h.createRequirement(t, 50, &budget)

	matches, err := h.engine.RunForRequirement(context.Background(), h.sec, reqID, "test")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRunForRequirementUnknownRequirementErrors(t *testing.T) {
	h := newHarness(t, defaultSnapshot())
	_, err := h.engine.RunForRequirement(context.Background(), h.sec, "does-not-exist", "test")
	require.Error(t, err)
}

// TestRunForRequirementInsiderBlockEmitsInsiderReason checks that a buyer
// and seller sharing a corporate_group_id produce zero matches and a
// NO_MATCH_FOUND event carrying reason INSIDER, even though
// location/quality/price all line up perfectly.
func TestRunForRequirementInsiderBlockEmitsInsiderReason(t *testing.T) {
	h := newHarness(t, defaultSnapshot())

	group := "group-1"
	seller, err := h.partners.GetPartner(context.Background(), "seller-1")
	require.NoError(t, err)
	seller.CorporateGroupID = &group
	h.partners.Put(seller)
	buyer, err := h.partners.GetPartner(context.Background(), "buyer-1")
	require.NoError(t, err)
	buyer.CorporateGroupID = &group
	h.partners.Put(buyer)

	h.createAvailability(t, 100, 20)
	budget := decimal.NewFromInt(20)
	reqID := h.createRequirement(t, 50, &budget)

	matches, err := h.engine.RunForRequirement(context.Background(), h.sec, reqID, "test")
	require.NoError(t, err)
	require.Empty(t, matches)

	var found bool
	for _, ev := range h.uow.Events() {
		if ev.EventType != domoutbox.EventNoMatchFound {
			continue
		}
		var payload struct {
			Reason string `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		require.Equal(t, string(match.ReasonInsider), payload.Reason)
		found = true
	}
	require.True(t, found, "expected a NO_MATCH_FOUND event")
}
