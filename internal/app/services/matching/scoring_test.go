package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

func TestHaversineKMZeroForSamePoint(t *testing.T) {
	require.InDelta(t, 0, haversineKM(19.07, 72.87, 19.07, 72.87), 0.0001)
}

func TestHaversineKMKnownDistance(t *testing.T) {
	// Mumbai to Pune, roughly 120km apart.
	d := haversineKM(19.0760, 72.8777, 18.5204, 73.8567)
	require.InDelta(t, 120, d, 40)
}

func TestScoreQualityPerfectMatch(t *testing.T) {
	c := &commodity.Commodity{
		Parameters: []commodity.ParameterSpec{
			{Name: "moisture", Type: commodity.ParamNumeric, Mandatory: true, Min: decPtr(0), Max: decPtr(20)},
		},
	}
	params := commodity.QualityParams{"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12))}
	require.Equal(t, 1.0, scoreQuality(c, params, params, 0.1))
}

func TestScoreQualityMandatoryMissingFails(t *testing.T) {
	c := &commodity.Commodity{
		Parameters: []commodity.ParameterSpec{
			{Name: "moisture", Type: commodity.ParamNumeric, Mandatory: true},
		},
	}
	req := commodity.QualityParams{"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12))}
	avail := commodity.QualityParams{}
	require.Equal(t, 0.0, scoreQuality(c, req, avail, 0.1))
}

func TestScoreQualityNoParametersIsPerfect(t *testing.T) {
	c := &commodity.Commodity{}
	require.Equal(t, 1.0, scoreQuality(c, nil, nil, 0.1))
}

func TestScorePriceWithinFullCreditBand(t *testing.T) {
	req := decimal.NewFromInt(100)
	avail := decimal.NewFromInt(102) // 2% deviation, within +-3%
	require.Equal(t, 1.0, scorePrice(req, avail))
}

func TestScorePriceBeyondZeroCreditBand(t *testing.T) {
	req := decimal.NewFromInt(100)
	avail := decimal.NewFromInt(120) // 20% deviation, beyond +-15%
	require.Equal(t, 0.0, scorePrice(req, avail))
}

func TestScorePriceMidBandIsMonotone(t *testing.T) {
	req := decimal.NewFromInt(100)
	near := scorePrice(req, decimal.NewFromInt(105))  // 5% deviation
	far := scorePrice(req, decimal.NewFromInt(110))   // 10% deviation
	require.Greater(t, near, far)
	require.Greater(t, far, 0.0)
	require.Less(t, near, 1.0)
}

func TestScoreDeliveryExactCity(t *testing.T) {
	a := &domavail.Availability{Country: "IN", Region: "MH", City: "Pune", Lat: 18.5204, Lon: 73.8567}
	deliveries := []domreq.DeliveryLocation{{Country: "IN", Region: "MH", City: "Pune"}}
	require.Equal(t, 1.0, scoreDelivery(a, deliveries, 100, false))
}

func TestScoreDeliveryOutsideRadiusIsZero(t *testing.T) {
	a := &domavail.Availability{Country: "IN", Region: "MH", City: "Pune", Lat: 18.5204, Lon: 73.8567}
	deliveries := []domreq.DeliveryLocation{{Country: "IN", Region: "MH", City: "Mumbai", Lat: 19.0760, Lon: 72.8777}}
	require.Equal(t, 0.0, scoreDelivery(a, deliveries, 10, false))
}

func TestScoreDeliveryCrossStateRejectedByDefault(t *testing.T) {
	a := &domavail.Availability{Country: "IN", Region: "GJ", City: "Surat"}
	deliveries := []domreq.DeliveryLocation{{Country: "IN", Region: "MH", City: "Pune"}}
	require.Equal(t, 0.0, scoreDelivery(a, deliveries, 100, false))
}

func TestScoreRiskMapsStatusToSubscore(t *testing.T) {
	require.Equal(t, 1.0, scoreRisk(risk.StatusPass))
	require.Equal(t, 0.5, scoreRisk(risk.StatusWarn))
	require.Equal(t, 0.0, scoreRisk(risk.StatusFail))
}

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}
