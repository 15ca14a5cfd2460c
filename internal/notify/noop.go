package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// NoOp logs what would have been sent and reports success. Used when
// notifications are disabled and for crawl-only runs.
type NoOp struct {
	logger *zap.Logger
}

// NewNoOp builds the logging notifier.
func NewNoOp(logger *zap.Logger) *NoOp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoOp{logger: logger}
}

// Send logs the ticket and succeeds.
func (n *NoOp) Send(_ context.Context, t ticket.Ticket) error {
	n.logger.Info("notification suppressed",
		zap.String("source", string(t.Source)),
		zap.String("title", t.Title),
		zap.String("open_date", t.OpenDateLabel()))
	return nil
}
