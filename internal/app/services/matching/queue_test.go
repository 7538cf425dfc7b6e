package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	svcavail "github.com/rnrlcrm/tradecore/internal/app/services/availability"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	svcreq "github.com/rnrlcrm/tradecore/internal/app/services/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
)

func TestEnqueueRejectsWhenInflightSaturated(t *testing.T) {
	q := NewQueue(nil, 1, 1, nil)

	require.NoError(t, q.Enqueue(context.Background(), "req-1", "t", PriorityLow))

	err := q.Enqueue(context.Background(), "req-2", "t", PriorityLow)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindBusy))
}

func TestEnqueueRoutesToRequestedLane(t *testing.T) {
	q := NewQueue(nil, 10, 1, nil)
	require.NoError(t, q.Enqueue(context.Background(), "req-1", "t", PriorityHigh))
	require.Len(t, q.high, 1)
	require.Len(t, q.medium, 0)
	require.Len(t, q.low, 0)
}

func TestEnqueueMatchUsesHighPriority(t *testing.T) {
	q := NewQueue(nil, 10, 1, nil)
	require.NoError(t, q.EnqueueMatch(context.Background(), "req-1"))
	require.Len(t, q.high, 1)
}

// buildQueueTestEngine wires a minimal end-to-end Engine, the same way
// newHarness in matching_test.go does, so Start/Stop can be exercised
// against a real match run rather than a stub.
func buildQueueTestEngine(t *testing.T) (*Engine, *svcavail.Service, *svcreq.Service, *memory.MatchStore) {
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
	reqSvc := svcreq.New(reqStore, commodities, partners, nil, nil, nil, riskEngine, uow, nil, nil)

	engine := New(
		reqStore, avStore, commodities, matchStore,
		availSvc, reqSvc,
		validator, riskEngine,
		NewFingerprintCache(),
		uow,
		ScoringSnapshot{
			WeightQuality:      0.3,
			WeightPrice:        0.3,
			WeightDelivery:     0.2,
			WeightRisk:         0.2,
			MinScoreThreshold:  0.5,
			MaxCandidates:      50,
			MaxNotify:          10,
			MinPartialFraction: 0.1,
			DuplicateWindow:    time.Minute,
			DeliveryRadiusKM:   100,
		},
		nil,
	)
	return engine, availSvc, reqSvc, matchStore
}

func TestQueueStartStopDrainsEnqueuedJob(t *testing.T) {
	engine, availSvc, reqSvc, matchStore := buildQueueTestEngine(t)
	q := NewQueue(engine, DefaultMaxInflight, 2, nil)
	sec := security.System("test")

	a, err := availSvc.CreateAvailability(context.Background(), sec, svcavail.CreateInput{
		SellerID:     "seller-1",
		CommodityID:  "wheat",
		AdHocAddress: "Warehouse 1",
		Country:      "IN",
		Region:       "MH",
		Quantity:     decimal.NewFromInt(100),
		TradeUnit:    unit.KG,
		BasePrice:    decimal.NewFromInt(20),
		PriceUnit:    unit.KG,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12)),
		},
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	_ = a

	budget := decimal.NewFromInt(20)
	r, err := reqSvc.CreateRequirement(context.Background(), sec, svcreq.CreateInput{
		BuyerID:     "buyer-1",
		CommodityID: "wheat",
		Quantity:    decimal.NewFromInt(50),
		TradeUnit:   unit.KG,
		DeliveryLocations: []domreq.DeliveryLocation{
			{Country: "IN", Region: "MH", City: "Pune"},
		},
		QualityTolerance: 0.1,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12)),
		},
		BudgetMax: &budget,
		Intent:    domreq.IntentBrowse,
	})
	require.NoError(t, err)

	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Enqueue(context.Background(), r.ID, "test", PriorityLow))

	require.Eventually(t, func() bool {
		return len(matchStore.ListByRequirement(context.Background(), r.ID)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Stop(context.Background()))
}
