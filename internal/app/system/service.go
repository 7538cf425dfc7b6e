// Package system defines the lifecycle contract shared by every background
// worker in this module (the outbox publisher, the matching safety sweep,
// the availability expiry sweeper): a name for logging/metrics, and explicit
// Start/Stop hooks driven by the process's top-level context.
package system

import (
	"context"

	core "github.com/rnrlcrm/tradecore/internal/app/core"
)

// Service is implemented by any long-running component started and stopped
// by cmd/tradecored.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider is implemented by services that can describe their
// domain/layer/capabilities for discovery or health reporting.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
