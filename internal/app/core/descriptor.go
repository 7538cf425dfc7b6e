// Package core holds the small cross-cutting contracts every service in
// this module depends on: a Descriptor/Layer pair for self-description, a
// Tracer seam, retry/backoff helpers, and observation hooks for metrics.
// None of it is domain-specific; it keeps services instrumented and
// discoverable without a shared framework package.
package core

// Layer names where a component sits in the request/event path. It is
// metadata only: nothing in this package enforces layering rules.
type Layer string

const (
	LayerIngress Layer = "ingress"
	LayerAdapter Layer = "adapter"
	LayerEngine  Layer = "engine"
	LayerData    Layer = "data"
	LayerSecurity Layer = "security"
)

// Descriptor self-describes a service for registration, health reporting,
// and capability discovery.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of d with Capabilities replaced.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	d.Capabilities = append([]string(nil), caps...)
	return d
}

// DescriptorProvider is implemented by anything that can describe itself.
type DescriptorProvider interface {
	Descriptor() Descriptor
}
