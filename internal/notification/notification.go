package notification

import (
	"context"
	"log/slog"

	"github.com/congo-pay/wallet-ledger/internal/logging"
)

const (
	// KindP2PTransfer tells a recipient that a transfer arrived.
	KindP2PTransfer = "p2p_transfer"

	// KindDeposit tells an owner that an external payment was credited.
	KindDeposit = "deposit"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Reference   string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	logging.FromContext(ctx, n.logger).Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
		slog.String("reference", message.Reference),
	)
	return nil
}

// Deliver sends message and logs instead of failing when delivery errors.
// A nil notifier is a no-op.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil {
		logging.FromContext(ctx, logger).Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("destination", message.Destination),
			slog.Any("error", err),
		)
	}
}
