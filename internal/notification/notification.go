package notification

import (
	"context"
	"log/slog"
)

// Event kinds mirror the platform triggers that follow a completed ledger
// mutation.
const (
	KindCoinsEarned    = "coins_earned"
	KindCoinsReceived  = "coins_received"
	KindEscrowReleased = "escrow_released"
	KindRefundIssued   = "refund_issued"
	KindTopUpConfirmed = "topup_confirmed"
)

// Message describes a notification payload addressed to one owner. Delivery
// is best effort: a failed send is logged by the caller and never rolls back
// the ledger entry that produced it.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. Used in dev
// mode and tests.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"title", message.Title,
		"body", message.Body)
	return nil
}
