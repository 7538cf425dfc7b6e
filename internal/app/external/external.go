// Package external declares the outbound collaborator interfaces: the
// event bus, ML inference, idempotency cache, rate limiter, and document
// verifier. The core depends only on these
// interfaces; concrete adapters (redis, the outbox-backed publisher) live
// beside them or in pkg/eventbus.
package external

import (
	"context"
	"time"
)

// EventPublisher publishes one payload under key to topic, preserving
// per-key ordering.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// MLInferenceResult is what the Tier-2 risk scorer gets back from a model call.
type MLInferenceResult struct {
	Score      float64
	Confidence float64
}

// MLInference is the Tier-2 risk scoring inference contract. Implementations must honor ctx's deadline and return a timeout
// error (use context.DeadlineExceeded) rather than blocking past it.
type MLInference interface {
	Predict(ctx context.Context, modelKind string, features map[string]float64) (MLInferenceResult, error)
}

// IdempotencyCache is a Redis-like get/setex cache used to dedupe
// externally-retried requests. The core's own
// idempotency_key dedup at the outbox layer does not depend on this; this
// interface exists for callers upstream of the core (out of scope here).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
}

// RateLimiter gates how often scope/key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, scope, key string) (bool, error)
}

// DocumentVerifiedEvent is what the external DocumentVerifier emits; the
// Capability Detector subscribes to these to trigger recomputation.
type DocumentVerifiedEvent struct {
	PartnerID string
	DocKind   string
	Country   string // jurisdiction the document is scoped to, when applicable
	VerifiedAt time.Time
}

// DocumentVerifier is the external collaborator whose DOCUMENT_VERIFIED
// events drive capability recomputation. The core
// only consumes its events via Subscribe; verification itself (OCR, GST
// lookups) is out of scope.
type DocumentVerifier interface {
	Subscribe(handler func(context.Context, DocumentVerifiedEvent) error) (unsubscribe func(), err error)
}
