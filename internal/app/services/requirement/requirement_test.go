package requirement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
)

type stubEnqueuer struct{ called []string }

func (e *stubEnqueuer) EnqueueMatch(_ context.Context, requirementID string) error {
	e.called = append(e.called, requirementID)
	return nil
}

type stubForwarder struct{ called []domreq.Intent }

func (f *stubForwarder) Forward(_ context.Context, _ string, intent domreq.Intent) error {
	f.called = append(f.called, intent)
	return nil
}

func newService(t *testing.T) (*requirement.Service, *memory.RequirementStore, *stubEnqueuer, *stubForwarder, *svcoutbox.UnitOfWork) {
	t.Helper()
	partners := memory.NewPartnerStore()
	caps := party.Zero()
	caps[party.CapDomesticBuyIndia] = true
	partners.Put(&party.Partner{ID: "buyer-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: caps})

	commodities := memory.NewCommodityStore()
	commodities.Put(&commodity.Commodity{
		ID:       "wheat",
		BaseUnit: "KG",
		Parameters: []commodity.ParameterSpec{
			{Name: "moisture", Type: commodity.ParamNumeric, Mandatory: true},
		},
	})

	reqStore := memory.NewRequirementStore()
	validator := insider.New(partners)
	riskEngine := risk.New(partners, validator, nil, nil, nil, risk.DefaultConfig(), nil)
	uow := svcoutbox.NewUnitOfWork()
	enqueuer := &stubEnqueuer{}
	forwarder := &stubForwarder{}

	svc := requirement.New(reqStore, commodities, partners, nil, enqueuer, forwarder, riskEngine, uow, nil, nil)
	return svc, reqStore, enqueuer, forwarder, uow
}

func validInput() requirement.CreateInput {
	return requirement.CreateInput{
		BuyerID:     "buyer-1",
		CommodityID: "wheat",
		Quantity:    decimal.NewFromInt(100),
		TradeUnit:   unit.KG,
		DeliveryLocations: []domreq.DeliveryLocation{
			{Country: "IN", Region: "MH", City: "Mumbai"},
		},
		QualityTolerance: 0.05,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12)),
		},
		Intent: domreq.IntentDirectBuy,
	}
}

func TestCreateRequirementDirectBuyEnqueuesMatch(t *testing.T) {
	svc, _, enqueuer, forwarder, uow := newService(t)
	r, err := svc.CreateRequirement(context.Background(), security.System("test"), validInput())
	require.NoError(t, err)
	require.Equal(t, domreq.StatusDraft, r.Status)
	require.Len(t, enqueuer.called, 1)
	require.Empty(t, forwarder.called)
	require.Len(t, uow.Events(), 1)
	require.NotNil(t, r.AIScoreVector)
	require.NotNil(t, r.AISuggestedTolerance)
}

func TestCreateRequirementNegotiateForwards(t *testing.T) {
	svc, _, enqueuer, forwarder, _ := newService(t)
	in := validInput()
	in.Intent = domreq.IntentNegotiate
	_, err := svc.CreateRequirement(context.Background(), security.System("test"), in)
	require.NoError(t, err)
	require.Empty(t, enqueuer.called)
	require.Len(t, forwarder.called, 1)
	require.Equal(t, domreq.IntentNegotiate, forwarder.called[0])
}

func TestCreateRequirementBrowsePersistsOnly(t *testing.T) {
	svc, _, enqueuer, forwarder, _ := newService(t)
	in := validInput()
	in.Intent = domreq.IntentBrowse
	_, err := svc.CreateRequirement(context.Background(), security.System("test"), in)
	require.NoError(t, err)
	require.Empty(t, enqueuer.called)
	require.Empty(t, forwarder.called)
}

func TestCreateRequirementFailsQualityValidation(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	in := validInput()
	in.QualityParams = commodity.QualityParams{}
	_, err := svc.CreateRequirement(context.Background(), security.System("test"), in)
	require.Error(t, err)
}

func TestPublishThenCancel(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	sec := security.System("test")
	r, err := svc.CreateRequirement(context.Background(), sec, validInput())
	require.NoError(t, err)

	published, err := svc.Publish(context.Background(), sec, r.ID)
	require.NoError(t, err)
	require.Equal(t, domreq.StatusPublished, published.Status)

	cancelled, err := svc.Cancel(context.Background(), sec, r.ID)
	require.NoError(t, err)
	require.Equal(t, domreq.StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), sec, r.ID)
	require.Error(t, err, "cancelling a terminal requirement must fail")
}

func TestAllocateTransitionsToFulfilled(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	sec := security.System("test")
	r, err := svc.CreateRequirement(context.Background(), sec, validInput())
	require.NoError(t, err)

	allocated, err := svc.Allocate(context.Background(), sec, r.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, domreq.StatusFulfilled, allocated.Status)
	require.True(t, allocated.Remaining().IsZero())
}

func TestAllocateRejectsOverAllocation(t *testing.T) {
	svc, _, _, _, _ := newService(t)
	sec := security.System("test")
	r, err := svc.CreateRequirement(context.Background(), sec, validInput())
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), sec, r.ID, decimal.NewFromInt(200))
	require.Error(t, err)
}

type failingPriceHistory struct{}

func (failingPriceHistory) RecentAveragePrice(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("price feed unavailable")
}

func TestEnhancementPipelineDegradesOnStepError(t *testing.T) {
	steps := []requirement.EnhancementStep{
		requirement.NewPriceSuggestionStep(failingPriceHistory{}),
		requirement.ToleranceWideningStep,
		requirement.PseudoEmbeddingStep,
	}
	partners := memory.NewPartnerStore()
	caps := party.Zero()
	caps[party.CapDomesticBuyIndia] = true
	partners.Put(&party.Partner{ID: "buyer-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: caps})
	commodities := memory.NewCommodityStore()
	commodities.Put(&commodity.Commodity{ID: "wheat", BaseUnit: "KG"})
	svc := requirement.New(memory.NewRequirementStore(), commodities, partners, nil, nil, nil, nil, nil, steps, nil)

	r, err := svc.CreateRequirement(context.Background(), security.System("test"), requirement.CreateInput{
		BuyerID:           "buyer-1",
		CommodityID:       "wheat",
		Quantity:          decimal.NewFromInt(10),
		TradeUnit:         unit.KG,
		DeliveryLocations: []domreq.DeliveryLocation{{Country: "IN", Region: "MH"}},
		Intent:            domreq.IntentBrowse,
	})
	require.NoError(t, err)
	require.Nil(t, r.AISuggestedPrice, "failing price step must degrade to no-op, not fail creation")
	require.NotNil(t, r.AIScoreVector, "later steps must still run after an earlier step degrades")
}
