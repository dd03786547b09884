package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
	"github.com/congo-pay/wallet-ledger/internal/logging"
	"github.com/congo-pay/wallet-ledger/internal/notification"
)

// Transferer moves money between wallets.
type Transferer interface {
	Transfer(ctx context.Context, fromOwnerID, toIdentifier string, amount decimal.Decimal) (ledger.TransferResult, error)
	Currency() string
}

// Service runs P2P transfers and notifies recipients.
type Service struct {
	ledger   Transferer
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service.
func NewService(l Transferer, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: l, notifier: notifier, logger: logger}
}

// TransferInput captures the data needed to move funds to another user.
type TransferInput struct {
	FromUserID string
	To         string
	Amount     decimal.Decimal
}

// Transfer moves funds from the caller to the user named by input.To. The
// recipient is notified after the transfer commits; a failed notification
// does not undo it.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (ledger.TransferResult, error) {
	res, err := s.ledger.Transfer(ctx, input.FromUserID, input.To, input.Amount)
	if err != nil {
		return ledger.TransferResult{}, err
	}

	from := input.FromUserID
	if cp := res.Credit.Counterparty; cp != nil && cp.Handle != "" {
		from = "@" + cp.Handle
	}
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindP2PTransfer,
		Destination: res.Credit.OwnerID,
		Body:        fmt.Sprintf("You received %s %s from %s", input.Amount.StringFixed(2), s.ledger.Currency(), from),
		Reference:   res.Credit.ID,
	})
	return res, nil
}
