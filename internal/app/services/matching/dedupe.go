package matching

import (
	"context"
	"sync"
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
)

// FingerprintCache is the short-TTL in-memory duplicate-detection cache
// step 2 calls for: "duplicate checks use a short-TTL
// fingerprint cache shared across workers" so the same requirement
// doesn't re-match the same availability on every trigger within the
// window. A process-wide deployment would back this with Redis (the
// external.IdempotencyCache contract, which nothing in this module
// calls); this implementation keeps the same CheckAndRecord seam so swapping the
// backing store later needs no caller change.
type FingerprintCache struct {
	mu      sync.Mutex
	entries map[string]fingerprintEntry
}

type fingerprintEntry struct {
	params    commodity.QualityParams
	expiresAt time.Time
}

// NewFingerprintCache returns an empty cache.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{entries: make(map[string]fingerprintEntry)}
}

// CheckAndRecord implements DuplicateChecker.
func (c *FingerprintCache) CheckAndRecord(_ context.Context, requirementID, availabilityID string, params commodity.QualityParams, window time.Duration, simThreshold float64) (bool, error) {
	key := requirementID + "|" + availabilityID
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && now.Before(existing.expiresAt) {
		if commodity.Similarity(existing.params, params) >= simThreshold {
			return true, nil
		}
	}
	c.entries[key] = fingerprintEntry{params: params, expiresAt: now.Add(window)}
	c.sweepLocked(now)
	return false, nil
}

// sweepLocked drops expired entries so a long-lived process doesn't
// accumulate one entry per (requirement, availability) pair forever.
// Called with mu already held.
func (c *FingerprintCache) sweepLocked(now time.Time) {
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
