package unit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConvertCandyToKGExact(t *testing.T) {
	c := NewConverter()
	got, err := c.Convert(decimal.NewFromInt(100), CANDY, KG, nil)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("35562.22")), "got %s", got)
}

func TestConvertRoundTripExact(t *testing.T) {
	c := NewConverter()
	x := decimal.NewFromInt(100)
	toKG, err := c.Convert(x, CANDY, KG, nil)
	require.NoError(t, err)
	back, err := c.Convert(toKG, KG, CANDY, nil)
	require.NoError(t, err)
	require.True(t, x.Equal(back), "round trip mismatch: %s != %s", x, back)
}

func TestConvertUnknownUnit(t *testing.T) {
	c := NewConverter()
	_, err := c.Convert(decimal.NewFromInt(1), Unit("FOO"), KG, nil)
	var unknown *UnknownUnitError
	require.ErrorAs(t, err, &unknown)
}

func TestConvertIncompatibleWithoutDensity(t *testing.T) {
	c := NewConverter()
	_, err := c.Convert(decimal.NewFromInt(1), KG, LITER, nil)
	var incompatible *IncompatibleUnitError
	require.ErrorAs(t, err, &incompatible)
}

func TestConvertIncompatibleWithDensityOverride(t *testing.T) {
	c := NewConverter()
	density := decimal.RequireFromString("1.05")
	got, err := c.Convert(decimal.NewFromInt(10), LITER, KG, &density)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("10.5")), "got %s", got)
}

func TestConvertSameUnitIsIdentity(t *testing.T) {
	c := NewConverter()
	x := decimal.RequireFromString("42.5")
	got, err := c.Convert(x, KG, KG, nil)
	require.NoError(t, err)
	require.True(t, got.Equal(x))
}
