// Package eventbus adapts pkg/pgnotify's generic NOTIFY/LISTEN bus to the
// domain-facing external.EventPublisher contract: publish
// one payload under a key to a topic, preserving per-key ordering. The
// outbox publisher worker is the only writer. Subscribe is available to
// consumers, but nothing in this module subscribes: the matcher is fed by
// the requirement service's DIRECT_BUY routing and the safety sweep, not by
// bus topics.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/rnrlcrm/tradecore/internal/app/external"
	"github.com/rnrlcrm/tradecore/pkg/pgnotify"
)

// envelope is what actually crosses the wire: the logical key and headers
// travel alongside the payload so subscribers can recover them, since
// pg_notify only carries a channel name and one text payload.
type envelope struct {
	Key     string            `json:"key"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

// Publisher publishes onto a pgnotify.Bus. Per-key ordering is preserved
// by the outbox publisher worker's hash(aggregate_id) mod N partitioning
// rather than by this type: Publisher itself issues one
// pg_notify per call in the order its caller invokes Publish, and
// PostgreSQL delivers NOTIFY payloads to a given LISTEN connection in the
// order they were sent within one session.
type Publisher struct {
	bus *pgnotify.Bus
}

// New wraps bus as an external.EventPublisher.
func New(bus *pgnotify.Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish implements external.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	env := envelope{Key: key, Headers: headers, Payload: json.RawMessage(payload)}
	return p.bus.Publish(ctx, topic, env)
}

var _ external.EventPublisher = (*Publisher)(nil)

// Subscribe registers handler for topic, decoding the envelope and handing
// the caller back the key, headers, and raw payload.
func (p *Publisher) Subscribe(topic string, handler func(ctx context.Context, key string, headers map[string]string, payload []byte) error) error {
	return p.bus.Subscribe(topic, func(ctx context.Context, event pgnotify.Event) error {
		var env envelope
		if err := json.Unmarshal(event.Payload, &env); err != nil {
			return err
		}
		return handler(ctx, env.Key, env.Headers, env.Payload)
	})
}
