package availability_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	"github.com/rnrlcrm/tradecore/internal/app/domain/unit"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	svcavail "github.com/rnrlcrm/tradecore/internal/app/services/availability"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
)

func newService(t *testing.T) (*svcavail.Service, *memory.AvailabilityStore, *svcoutbox.UnitOfWork) {
	t.Helper()
	partners := memory.NewPartnerStore()
	caps := party.Zero()
	caps[party.CapDomesticSellIndia] = true
	partners.Put(&party.Partner{ID: "seller-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: caps})

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
	validator := insider.New(partners)
	riskEngine := risk.New(partners, validator, nil, nil, nil, risk.DefaultConfig(), nil)
	uow := svcoutbox.NewUnitOfWork()

	svc := svcavail.New(avStore, commodities, memory.NewLocationStore(), partners, riskEngine, uow, nil)
	return svc, avStore, uow
}

func validInput() svcavail.CreateInput {
	return svcavail.CreateInput{
		SellerID:    "seller-1",
		CommodityID: "wheat",
		AdHocAddress: "Warehouse 1",
		Country:      "IN",
		Region:       "MH",
		Quantity:     decimal.NewFromInt(100),
		TradeUnit:    unit.KG,
		BasePrice:    decimal.NewFromInt(20),
		PriceUnit:    unit.KG,
		QualityParams: commodity.QualityParams{
			"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12.5)),
		},
		ValidFrom:        time.Now().Add(-time.Hour),
		ValidUntil:       time.Now().Add(48 * time.Hour),
		MarketVisibility: domavail.VisibilityPublic,
	}
}

func TestCreateAvailabilitySucceeds(t *testing.T) {
	svc, _, uow := newService(t)
	sec := security.System("test")

	a, err := svc.CreateAvailability(context.Background(), sec, validInput())
	require.NoError(t, err)
	require.Equal(t, domavail.StatusAvailable, a.Status)
	require.True(t, a.Total.Equal(decimal.NewFromInt(100)))
	require.Len(t, uow.Events(), 1)
}

func TestCreateAvailabilityRejectsBothLocationKinds(t *testing.T) {
	svc, _, _ := newService(t)
	in := validInput()
	locID := "loc-1"
	in.LocationID = &locID

	_, err := svc.CreateAvailability(context.Background(), security.System("test"), in)
	require.Error(t, err)
}

func TestCreateAvailabilityFailsQualityValidation(t *testing.T) {
	svc, _, _ := newService(t)
	in := validInput()
	in.QualityParams = commodity.QualityParams{} // missing mandatory "moisture"

	_, err := svc.CreateAvailability(context.Background(), security.System("test"), in)
	require.Error(t, err)
}

func TestReserveThenInvariantHolds(t *testing.T) {
	svc, _, _ := newService(t)
	sec := security.System("test")
	a, err := svc.CreateAvailability(context.Background(), sec, validInput())
	require.NoError(t, err)

	reserved, err := svc.Reserve(context.Background(), sec, a.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	require.True(t, reserved.Reserved.Equal(decimal.NewFromInt(40)))
	require.True(t, reserved.Invariant())
	require.NotNil(t, reserved.FirstReservedAt)
}

func TestReserveRejectsOversell(t *testing.T) {
	svc, _, _ := newService(t)
	sec := security.System("test")
	a, err := svc.CreateAvailability(context.Background(), sec, validInput())
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), sec, a.ID, decimal.NewFromInt(200))
	require.Error(t, err)
}

func TestCancelAfterReservationIsImmutable(t *testing.T) {
	svc, _, _ := newService(t)
	sec := security.System("test")
	a, err := svc.CreateAvailability(context.Background(), sec, validInput())
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), sec, a.ID, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), sec, a.ID)
	require.Error(t, err)
}

func TestReserveReleaseMarkSoldRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	sec := security.System("test")
	a, err := svc.CreateAvailability(context.Background(), sec, validInput())
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), sec, a.ID, decimal.NewFromInt(50))
	require.NoError(t, err)

	sold, err := svc.MarkSold(context.Background(), sec, a.ID, decimal.NewFromInt(30))
	require.NoError(t, err)
	require.True(t, sold.Sold.Equal(decimal.NewFromInt(30)))
	require.True(t, sold.Reserved.Equal(decimal.NewFromInt(20)))

	released, err := svc.Release(context.Background(), sec, a.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	require.True(t, released.Reserved.IsZero())
	require.Equal(t, domavail.StatusAvailable, released.Status)
}

func TestSweepExpiredTransitionsLapsedPostings(t *testing.T) {
	svc, store, _ := newService(t)
	sec := security.System("test")
	in := validInput()
	in.ValidUntil = time.Now().Add(-time.Minute) // already lapsed
	a, err := svc.CreateAvailability(context.Background(), sec, in)
	require.NoError(t, err)

	n, err := svc.SweepExpired(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stored, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, domavail.StatusExpired, stored.Status)
}
