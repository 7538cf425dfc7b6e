package core

import "context"

// Tracer starts a span named name carrying attrs, returning the span-scoped
// context and a finish function that records the outcome. Implementations
// must tolerate a nil error (success).
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// NoopTracer discards every span; it is the default when tracing is not configured.
var NoopTracer Tracer = noopTracer{}
