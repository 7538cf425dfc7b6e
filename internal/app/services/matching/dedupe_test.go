package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
)

func TestFingerprintCacheRejectsSimilarWithinWindow(t *testing.T) {
	c := NewFingerprintCache()
	params := commodity.QualityParams{"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12))}

	dup, err := c.CheckAndRecord(context.Background(), "req-1", "avail-1", params, time.Minute, 0.9)
	require.NoError(t, err)
	require.False(t, dup, "first sighting is never a duplicate")

	dup, err = c.CheckAndRecord(context.Background(), "req-1", "avail-1", params, time.Minute, 0.9)
	require.NoError(t, err)
	require.True(t, dup, "identical params within the window should be flagged")
}

func TestFingerprintCacheAllowsAfterExpiry(t *testing.T) {
	c := NewFingerprintCache()
	params := commodity.QualityParams{"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12))}

	_, err := c.CheckAndRecord(context.Background(), "req-1", "avail-1", params, time.Nanosecond, 0.9)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	dup, err := c.CheckAndRecord(context.Background(), "req-1", "avail-1", params, time.Minute, 0.9)
	require.NoError(t, err)
	require.False(t, dup, "an expired entry should not suppress a fresh match")
}

func TestFingerprintCacheDistinctPairsIndependent(t *testing.T) {
	c := NewFingerprintCache()
	params := commodity.QualityParams{"moisture": commodity.NewNumericParam(decimal.NewFromFloat(12))}

	_, err := c.CheckAndRecord(context.Background(), "req-1", "avail-1", params, time.Minute, 0.9)
	require.NoError(t, err)

	dup, err := c.CheckAndRecord(context.Background(), "req-1", "avail-2", params, time.Minute, 0.9)
	require.NoError(t, err)
	require.False(t, dup, "a different availability is not a duplicate of the first")
}
