package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
	"github.com/congo-pay/wallet-ledger/internal/logging"
	"github.com/congo-pay/wallet-ledger/internal/notification"
)

const depositDescription = "Deposit via Stripe"

var (
	// ErrInvalidSignature is returned when the webhook cannot be authenticated.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMissingOwner is returned for billable events that name no wallet owner.
	ErrMissingOwner = errors.New("payment event has no owner reference")

	// ErrCurrencyMismatch is returned when an event is not in the ledger currency.
	ErrCurrencyMismatch = errors.New("payment currency does not match ledger currency")
)

// PayloadError reports a signed webhook whose body could not be interpreted.
type PayloadError struct {
	EventID string
	Reason  string
}

func (e *PayloadError) Error() string {
	if e.EventID == "" {
		return "malformed payment event: " + e.Reason
	}
	return fmt.Sprintf("malformed payment event %s: %s", e.EventID, e.Reason)
}

// Outcome is the result of reconciling one provider event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes how an event was reconciled.
type Result struct {
	Outcome       Outcome
	EventID       string
	EventType     string
	OwnerID       string
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	TransactionID string
}

// Depositor credits external payments to wallets.
type Depositor interface {
	ApplyDeposit(ctx context.Context, in ledger.Deposit) (ledger.DepositResult, error)
	Currency() string
}

// Service turns provider webhooks into ledger deposits.
type Service struct {
	provider  Provider
	depositor Depositor
	notifier  notification.Notifier
	logger    *slog.Logger
}

// NewService constructs a reconciliation service.
func NewService(provider Provider, depositor Depositor, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{provider: provider, depositor: depositor, notifier: notifier, logger: logger}
}

// Reconcile authenticates payload, and for billable events credits the
// owner's wallet exactly once per provider event id.
func (s *Service) Reconcile(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := s.provider.Parse(payload, signature)
	if err != nil {
		return Result{}, err
	}
	log := logging.FromContext(ctx, s.logger).With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	res := Result{EventID: event.ID, EventType: event.Type, OwnerID: event.OwnerID}
	if !event.Billable {
		log.Info("payment event ignored")
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	if event.ID == "" {
		return Result{}, &PayloadError{Reason: "missing event id"}
	}
	if event.OwnerID == "" {
		return Result{}, ErrMissingOwner
	}
	if !strings.EqualFold(event.Currency, s.depositor.Currency()) {
		return Result{}, fmt.Errorf("%w: got %q, want %q", ErrCurrencyMismatch, event.Currency, s.depositor.Currency())
	}
	if event.AmountMinor <= 0 {
		return Result{}, &PayloadError{EventID: event.ID, Reason: "amount must be positive"}
	}

	res.Amount = decimal.New(event.AmountMinor, -2)
	applied, err := s.depositor.ApplyDeposit(ctx, ledger.Deposit{
		OwnerID:     event.OwnerID,
		Amount:      res.Amount,
		Description: depositDescription,
		EventID:     event.ID,
	})
	if errors.Is(err, ledger.ErrDuplicateDeposit) {
		log.Info("payment event already applied")
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}

	res.Outcome = OutcomeApplied
	res.Balance = applied.Balance
	res.TransactionID = applied.Record.ID

	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindDeposit,
		Destination: event.OwnerID,
		Body:        fmt.Sprintf("You received %s %s via Stripe", res.Amount.StringFixed(2), s.depositor.Currency()),
		Reference:   applied.Record.ID,
	})
	return res, nil
}
