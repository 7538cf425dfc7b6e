package matching

import (
	"math"

	"github.com/shopspring/decimal"

	domavail "github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance between two lat/lon pairs
// in kilometers, used by scoreDelivery's distance decay.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// scoreQuality implements step 4 "Quality": weighted
// presence + proximity within tolerance per parameter; missing optional
// params do not penalise; violating any mandatory parameter drives the
// sub-score to zero.
func scoreQuality(c *commodity.Commodity, reqParams, availParams commodity.QualityParams, tolerance float64) float64 {
	if len(c.Parameters) == 0 {
		return 1.0
	}
	var total, weight float64
	for _, spec := range c.Parameters {
		w := 1.0
		if spec.Mandatory {
			w = 2.0
		}
		availVal, haveAvail := availParams[spec.Name]
		reqVal, haveReq := reqParams[spec.Name]
		switch {
		case !haveAvail || !haveReq:
			if spec.Mandatory {
				return 0
			}
			// optional and absent on either side: skip, no penalty.
			continue
		default:
			total += w * paramMatchScore(spec, reqVal, availVal)
			weight += w
		}
	}
	if weight == 0 {
		return 1.0
	}
	return total / weight
}

// paramMatchScore scores one parameter's closeness in [0,1]. Text values
// must match exactly; numeric/range values score 1.0 within tolerance and
// decay linearly to 0 at 3x tolerance.
func paramMatchScore(spec commodity.ParameterSpec, req, avail commodity.Param) float64 {
	if req.Kind != avail.Kind {
		return 0
	}
	switch spec.Type {
	case commodity.ParamText:
		if req.Text == avail.Text {
			return 1
		}
		return 0
	case commodity.ParamNumeric:
		return numericCloseness(req.Numeric, avail.Numeric, tolerance(spec))
	case commodity.ParamRange:
		reqMid := req.RangeMin.Add(req.RangeMax).Div(decimal.NewFromInt(2))
		availMid := avail.RangeMin.Add(avail.RangeMax).Div(decimal.NewFromInt(2))
		return numericCloseness(reqMid, availMid, tolerance(spec))
	default:
		return 0
	}
}

func tolerance(spec commodity.ParameterSpec) decimal.Decimal {
	if spec.Min != nil && spec.Max != nil {
		span := spec.Max.Sub(*spec.Min)
		if span.IsPositive() {
			return span.Mul(decimal.NewFromFloat(0.10))
		}
	}
	return decimal.NewFromFloat(0.1)
}

func numericCloseness(req, avail, tol decimal.Decimal) float64 {
	if tol.IsZero() {
		if req.Equal(avail) {
			return 1
		}
		return 0
	}
	diff := req.Sub(avail).Abs()
	ratio, _ := diff.Div(tol).Float64()
	if ratio <= 1 {
		return 1
	}
	if ratio >= 3 {
		return 0
	}
	return 1 - (ratio-1)/2
}

// scorePrice implements step 4 "Price": piecewise linear on
// |price_avail-price_req|/price_req, full credit within ±3%, zero beyond
// ±15%, monotone non-increasing in between.
func scorePrice(priceReq, priceAvail decimal.Decimal) float64 {
	if priceReq.IsZero() {
		if priceAvail.IsZero() {
			return 1
		}
		return 0
	}
	deviation, _ := priceAvail.Sub(priceReq).Abs().Div(priceReq).Float64()
	const fullCredit = 0.03
	const zeroCredit = 0.15
	switch {
	case deviation <= fullCredit:
		return 1
	case deviation >= zeroCredit:
		return 0
	default:
		return 1 - (deviation-fullCredit)/(zeroCredit-fullCredit)
	}
}

// scoreDelivery implements step 4 "Delivery": 1.0 for exact
// city, linear decay to 0.0 over the configured radius; cross-state is 0
// (the location-first filter should already have excluded cross-state
// candidates unless the commodity allows it, so this is a second,
// cheaper-to-skip guard).
func scoreDelivery(a *domavail.Availability, deliveries []domreq.DeliveryLocation, radiusKM float64, allowCrossState bool) float64 {
	best := 0.0
	for _, dl := range deliveries {
		if dl.Country != a.Country {
			continue
		}
		if dl.Region != a.Region && !allowCrossState {
			continue
		}
		var s float64
		switch {
		case dl.City != "" && dl.City == a.City:
			s = 1.0
		case radiusKM <= 0:
			s = 1.0
		default:
			dist := haversineKM(dl.Lat, dl.Lon, a.Lat, a.Lon)
			if dist >= radiusKM {
				s = 0
			} else {
				s = 1 - dist/radiusKM
			}
		}
		if s > best {
			best = s
		}
	}
	return best
}

// scoreRisk implements step 4 "Risk": 1.0 for PASS, 0.5 for
// WARN, 0.0 for FAIL.
func scoreRisk(status risk.Status) float64 {
	switch status {
	case risk.StatusPass:
		return 1.0
	case risk.StatusWarn:
		return 0.5
	default:
		return 0.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
