package requirement

import (
	"context"

	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// LogForwarder is the ExternalForwarder used when the NEGOTIATE/AUCTION
// modules it would hand off to are not wired into this deployment (both
// are out of scope ): it logs the handoff so the omission
// is visible in the audit trail instead of silently dropping the intent.
type LogForwarder struct {
	log *logger.Logger
}

// NewLogForwarder builds a LogForwarder. log may be nil.
func NewLogForwarder(log *logger.Logger) *LogForwarder {
	if log == nil {
		log = logger.NewDefault("requirement-forwarder")
	}
	return &LogForwarder{log: log}
}

// Forward implements ExternalForwarder.
func (f *LogForwarder) Forward(_ context.Context, requirementID string, intent domreq.Intent) error {
	f.log.WithField("requirement_id", requirementID).WithField("intent", string(intent)).Info("forwarded requirement to out-of-scope module")
	return nil
}

var _ ExternalForwarder = (*LogForwarder)(nil)
