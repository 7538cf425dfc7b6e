// Package unit implements the canonical unit catalog and converter (§4.1):
// exact decimal conversion factors between a commodity's trade/price unit
// and its base unit, with no floating-point drift, using shopspring/decimal
// for any value that must round-trip exactly rather than merely "close
// enough".
package unit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit is a closed enum of the units the catalog knows how to convert.
type Unit string

const (
	KG      Unit = "KG"
	TONNE   Unit = "TONNE"
	QUINTAL Unit = "QUINTAL"
	CANDY   Unit = "CANDY"
	BALE    Unit = "BALE"
	LITER   Unit = "LITER"
	GALLON  Unit = "GALLON"
)

// dimension groups units that are convertible among themselves without an
// override density. KG/TONNE/QUINTAL/CANDY/BALE are all mass; LITER/GALLON
// are volume. Converting across dimensions requires a commodity-provided
// density override.
type dimension int

const (
	dimMass dimension = iota
	dimVolume
)

var unitDimension = map[Unit]dimension{
	KG:      dimMass,
	TONNE:   dimMass,
	QUINTAL: dimMass,
	CANDY:   dimMass,
	BALE:    dimMass,
	LITER:   dimVolume,
	GALLON:  dimVolume,
}

// UnknownUnitError is returned when a unit has no entry in the catalog.
type UnknownUnitError struct{ Unit Unit }

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unit: unknown unit %q", e.Unit)
}

// IncompatibleUnitError is returned when from/to belong to different
// dimensions and no density override was supplied.
type IncompatibleUnitError struct{ From, To Unit }

func (e *IncompatibleUnitError) Error() string {
	return fmt.Sprintf("unit: %q and %q are dimensionally incompatible", e.From, e.To)
}

// factorToBase holds, for every mass/volume unit, the exact decimal factor
// such that 1 <unit> = factor KG (or LITER for volume units). This is the
// "closed table" requires: CANDY is stored as exactly
// 355.6222, never rounded to 356.
var factorToBase = map[Unit]decimal.Decimal{
	KG:      decimal.NewFromInt(1),
	TONNE:   decimal.NewFromInt(1000),
	QUINTAL: decimal.NewFromInt(100),
	CANDY:   decimal.RequireFromString("355.6222"),
	BALE:    decimal.RequireFromString("170.0975"),
	LITER:   decimal.NewFromInt(1),
	GALLON:  decimal.RequireFromString("3.785412"),
}

// Converter converts quantities between catalog units, optionally using a
// per-commodity density override to bridge mass and volume.
type Converter struct{}

// NewConverter returns the default, stateless Converter. It has no fields
// today; the constructor exists so call sites don't need to know that.
func NewConverter() *Converter { return &Converter{} }

// Factor returns the exact decimal factor F such that 1 `from` = F `to`.
// densityKgPerLiter, if non-nil, bridges a mass<->volume conversion
// (a commodity-specific override); pass nil when the units share a
// dimension.
func (c *Converter) Factor(from, to Unit, densityKgPerLiter *decimal.Decimal) (decimal.Decimal, error) {
	fromBase, ok := factorToBase[from]
	if !ok {
		return decimal.Zero, &UnknownUnitError{Unit: from}
	}
	toBase, ok := factorToBase[to]
	if !ok {
		return decimal.Zero, &UnknownUnitError{Unit: to}
	}
	fromDim, toDim := unitDimension[from], unitDimension[to]
	if fromDim == toDim {
		return fromBase.Div(toBase), nil
	}
	if densityKgPerLiter == nil || densityKgPerLiter.IsZero() {
		return decimal.Zero, &IncompatibleUnitError{From: from, To: to}
	}
	// Normalize both units to KG via their base factor and the density
	// bridge, then take the ratio.
	var fromInKG, toInKG decimal.Decimal
	if fromDim == dimVolume {
		fromInKG = fromBase.Mul(*densityKgPerLiter)
	} else {
		fromInKG = fromBase
	}
	if toDim == dimVolume {
		toInKG = toBase.Mul(*densityKgPerLiter)
	} else {
		toInKG = toBase
	}
	return fromInKG.Div(toInKG), nil
}

// Convert returns value expressed in `to`, given it is currently expressed
// in `from`. It converts via a single multiply-then-divide against the two
// units' base factors (rather than pre-dividing into a ratio first) so that
// Convert(Convert(x, A, B), B, A) round-trips exactly for the catalog's own
// entries: the only rounding happens once, in the final division.
func (c *Converter) Convert(value decimal.Decimal, from, to Unit, densityKgPerLiter *decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return value, nil
	}
	fromBase, ok := factorToBase[from]
	if !ok {
		return decimal.Zero, &UnknownUnitError{Unit: from}
	}
	toBase, ok := factorToBase[to]
	if !ok {
		return decimal.Zero, &UnknownUnitError{Unit: to}
	}
	fromDim, toDim := unitDimension[from], unitDimension[to]
	if fromDim != toDim {
		if densityKgPerLiter == nil || densityKgPerLiter.IsZero() {
			return decimal.Zero, &IncompatibleUnitError{From: from, To: to}
		}
		if fromDim == dimVolume {
			fromBase = fromBase.Mul(*densityKgPerLiter)
		}
		if toDim == dimVolume {
			toBase = toBase.Mul(*densityKgPerLiter)
		}
	}
	return value.Mul(fromBase).Div(toBase), nil
}

// Known reports whether u has a catalog entry.
func Known(u Unit) bool {
	_, ok := factorToBase[u]
	return ok
}
