package availability

import (
	"encoding/json"

	domoutbox "github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/security"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
)

// capabilityDirectionSell is this package's one use of the capability
// Direction type, kept as a private alias so callers of this service never
// need to import the capability package themselves.
const capabilityDirectionSell = capability.Sell

const (
	outboxEventAvailabilityCreated   = string(domoutbox.EventAvailabilityCreated)
	outboxEventAvailabilityReserved  = string(domoutbox.EventAvailabilityReserved)
	outboxEventAvailabilityReleased  = string(domoutbox.EventAvailabilityReleased)
	outboxEventAvailabilitySold      = string(domoutbox.EventAvailabilitySold)
	outboxEventAvailabilityExpired   = string(domoutbox.EventAvailabilityExpired)
	outboxEventAvailabilityCancelled = string(domoutbox.EventAvailabilityCancelled)
)

func outboxEvent(availabilityID, eventType string, payload json.RawMessage, sec security.Context) domoutbox.Event {
	return domoutbox.Event{
		AggregateID:   availabilityID,
		AggregateType: "availability",
		EventType:     domoutbox.EventType(eventType),
		SchemaVersion: 1,
		Topic:         "availability.events",
		Payload:       payload,
		Metadata:      domoutbox.Metadata{Actor: sec.ActorID, RequestID: sec.RequestID, TraceID: sec.TraceID},
	}
}
