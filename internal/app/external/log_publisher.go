package external

import (
	"context"

	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// LogPublisher is the EventPublisher used when no durable bus is
// configured (no PostgreSQL DSN, so pkg/eventbus's pgnotify-backed
// publisher has nothing to attach to): it logs every publish at info
// level instead of delivering it, a "no-op collaborator with visible
// logging" fallback shared with the other external collaborators in
// in-memory mode.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher builds a LogPublisher. log may be nil.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.NewDefault("log-publisher")
	}
	return &LogPublisher{log: log}
}

// Publish implements EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.log.WithField("topic", topic).WithField("key", key).WithField("bytes", len(payload)).Info("published event (no durable bus configured)")
	return nil
}

var _ EventPublisher = (*LogPublisher)(nil)
