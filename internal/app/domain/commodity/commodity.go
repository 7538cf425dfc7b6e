// Package commodity models the catalog entry and its quality-parameter
// specs, and the typed sum type calls for in place of
// "dynamic JSON quality parameters": Param is Numeric(value) | Range(min,
// max) | Text(value), dispatched on Kind rather than type-switched JSON.
package commodity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParamType is the kind of a CommodityParameter spec.
type ParamType string

const (
	ParamNumeric ParamType = "NUMERIC"
	ParamText    ParamType = "TEXT"
	ParamRange   ParamType = "RANGE"
)

// ParameterSpec declares one quality parameter a commodity accepts.
type ParameterSpec struct {
	Name      string
	Type      ParamType
	Min       *decimal.Decimal
	Max       *decimal.Decimal
	Mandatory bool
}

// Param is the tagged-union value a posting supplies for one parameter.
// Exactly one of Numeric/RangeMin+RangeMax/Text is populated, selected by
// Kind.
type Param struct {
	Kind     ParamType
	Numeric  decimal.Decimal
	RangeMin decimal.Decimal
	RangeMax decimal.Decimal
	Text     string
}

// NewNumericParam builds a NUMERIC param.
func NewNumericParam(v decimal.Decimal) Param { return Param{Kind: ParamNumeric, Numeric: v} }

// NewRangeParam builds a RANGE param.
func NewRangeParam(min, max decimal.Decimal) Param {
	return Param{Kind: ParamRange, RangeMin: min, RangeMax: max}
}

// NewTextParam builds a TEXT param.
func NewTextParam(v string) Param { return Param{Kind: ParamText, Text: v} }

// QualityParams is the mapping a posting stores: parameter name -> value.
type QualityParams map[string]Param

// Commodity is a catalog entry.
type Commodity struct {
	ID                    string
	Name                  string
	BaseUnit              string
	TradeUnit             string
	RateUnit              string
	StandardWeightPerUnit decimal.Decimal
	DensityKgPerLiter     *decimal.Decimal
	Parameters            []ParameterSpec

	// Matching is this commodity's override of the matcher's process-wide
	// defaults. Nil means the caller's process-wide
	// ScoringSnapshot applies unmodified.
	Matching *MatchingPolicy
}

// ScoreWeights is the quality/price/delivery/risk weight vector §4.8 step 4
// combines into base_score. Weights are expected to sum to 1.0 but this is
// not enforced here; a commodity operator who wants emphasis shifts owns
// that tradeoff.
type ScoreWeights struct {
	Quality  float64
	Price    float64
	Delivery float64
	Risk     float64
}

// MatchingPolicy is a commodity's override of the matcher's location and
// scoring defaults.
type MatchingPolicy struct {
	// SameCityOnly narrows the location-first filter
	// to exact city matches instead of same-state.
	SameCityOnly bool
	// WithinKM, when set, is the delivery sub-score's decay radius. It
	// does not change the candidate query, which stays same-state unless
	// AllowCrossState is set; candidates beyond the radius are scored,
	// not excluded.
	WithinKM *float64
	// AllowCrossState overrides the default "cross-state matches are
	// disallowed" rule.
	AllowCrossState bool

	Weights           *ScoreWeights
	MinScoreThreshold *float64
}

// ValidateQuality checks params against c's parameter specs: every mandatory spec must be present; numeric/range values
// must fall within [min, max]. It returns the field names that failed.
func (c *Commodity) ValidateQuality(params QualityParams) []string {
	var failures []string
	for _, spec := range c.Parameters {
		val, present := params[spec.Name]
		if !present {
			if spec.Mandatory {
				failures = append(failures, spec.Name)
			}
			continue
		}
		if err := validateOne(spec, val); err != nil {
			failures = append(failures, spec.Name)
		}
	}
	return failures
}

func validateOne(spec ParameterSpec, val Param) error {
	switch spec.Type {
	case ParamText:
		if val.Kind != ParamText {
			return fmt.Errorf("parameter %s: expected TEXT", spec.Name)
		}
		return nil
	case ParamNumeric:
		if val.Kind != ParamNumeric {
			return fmt.Errorf("parameter %s: expected NUMERIC", spec.Name)
		}
		return checkBounds(spec, val.Numeric)
	case ParamRange:
		if val.Kind != ParamRange {
			return fmt.Errorf("parameter %s: expected RANGE", spec.Name)
		}
		if val.RangeMin.GreaterThan(val.RangeMax) {
			return fmt.Errorf("parameter %s: min > max", spec.Name)
		}
		if err := checkBounds(spec, val.RangeMin); err != nil {
			return err
		}
		return checkBounds(spec, val.RangeMax)
	default:
		return fmt.Errorf("parameter %s: unknown spec type %q", spec.Name, spec.Type)
	}
}

func checkBounds(spec ParameterSpec, v decimal.Decimal) error {
	if spec.Min != nil && v.LessThan(*spec.Min) {
		return fmt.Errorf("parameter %s: %s below min %s", spec.Name, v, spec.Min)
	}
	if spec.Max != nil && v.GreaterThan(*spec.Max) {
		return fmt.Errorf("parameter %s: %s above max %s", spec.Name, v, spec.Max)
	}
	return nil
}

// Similarity returns a crude [0,1] similarity between two quality-param
// maps, used by the matcher's duplicate-detection step: of all keys present
// in either map, the fraction that are present in both with values that
// compare equal (numeric closeness within 1%, exact match for text/range);
// a key missing from one map counts as a mismatch.
func Similarity(a, b QualityParams) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 1
	}
	matches := 0.0
	for k := range keys {
		va, oka := a[k]
		vb, okb := b[k]
		if !oka || !okb {
			continue
		}
		if paramsClose(va, vb) {
			matches++
		}
	}
	return matches / float64(len(keys))
}

func paramsClose(a, b Param) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ParamText:
		return a.Text == b.Text
	case ParamNumeric:
		if a.Numeric.IsZero() {
			return a.Numeric.Equal(b.Numeric)
		}
		diff := a.Numeric.Sub(b.Numeric).Abs()
		tolerance := a.Numeric.Abs().Mul(decimal.NewFromFloat(0.01))
		return diff.LessThanOrEqual(tolerance)
	case ParamRange:
		return a.RangeMin.Equal(b.RangeMin) && a.RangeMax.Equal(b.RangeMax)
	default:
		return false
	}
}
