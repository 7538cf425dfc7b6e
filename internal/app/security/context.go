// Package security defines the request-scoped security context every
// service takes explicitly as a parameter. This is distinct
// from context.Context: Context here is domain data threaded alongside
// the standard library context, never stashed in it as an untyped value.
package security

import (
	"time"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
)

// Context carries the caller identity and scoping a service needs to
// authorize and attribute an operation, independent of any transport.
type Context struct {
	ActorID      string
	PartnerID    string
	TenantID     string // additive hook Open Questions; unused by core matching/risk today
	Capabilities party.Capabilities
	Deadline     time.Time
	TraceID      string
	RequestID    string
}

// HasCapability reports whether the caller's partner carries cap.
func (c Context) HasCapability(cap party.Capability) bool {
	if c.Capabilities == nil {
		return false
	}
	return c.Capabilities[cap]
}

// System returns a Context representing a process-internal actor (a
// sweeper, the publisher worker) rather than a request-scoped caller.
func System(actor string) Context {
	return Context{ActorID: actor}
}
