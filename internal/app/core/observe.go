package core

import (
	"context"
	"time"
)

// ObservationMeta carries identifying labels for one observed operation.
type ObservationMeta struct {
	Operation string
	Labels    map[string]string
}

// ObservationHooks lets a caller attach start/complete instrumentation to an
// operation without that operation knowing about metrics or tracing.
type ObservationHooks struct {
	OnStart    func(meta ObservationMeta)
	OnComplete func(meta ObservationMeta, elapsed time.Duration, err error)
}

// NoopObservationHooks does nothing; it is the default when a caller does
// not wire metrics in (tests, one-off scripts).
var NoopObservationHooks = ObservationHooks{
	OnStart:    func(ObservationMeta) {},
	OnComplete: func(ObservationMeta, time.Duration, error) {},
}

// StartObservation invokes hooks.OnStart and returns a closure to call on
// completion, which invokes hooks.OnComplete with the elapsed duration.
func StartObservation(_ context.Context, hooks ObservationHooks, meta ObservationMeta) func(error) {
	if hooks.OnStart == nil {
		hooks.OnStart = NoopObservationHooks.OnStart
	}
	if hooks.OnComplete == nil {
		hooks.OnComplete = NoopObservationHooks.OnComplete
	}
	hooks.OnStart(meta)
	start := time.Now()
	return func(err error) {
		hooks.OnComplete(meta, time.Since(start), err)
	}
}
