package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-ledger/internal/logging"
)

const (
	defaultCurrency     = "USD"
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 25 * time.Millisecond
	defaultDescription  = "Deposit"
)

// DefaultSeedBalance is credited to every wallet when it is first created.
var DefaultSeedBalance = decimal.New(10000, -2)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithCurrency sets the single currency code stamped on new wallets.
func WithCurrency(code string) ServiceOption {
	return func(s *Service) {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			s.currency = code
		}
	}
}

// WithSeedBalance sets the opening balance of lazily created wallets.
func WithSeedBalance(amount decimal.Decimal) ServiceOption {
	return func(s *Service) {
		if !amount.IsNegative() {
			s.seed = amount
		}
	}
}

// WithRetry bounds how many times a conflicting unit of work is re-run and
// the base delay between attempts. The delay grows linearly per attempt.
func WithRetry(maxAttempts int, backoff time.Duration) ServiceOption {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger wires the structured logger used for operation events.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements wallet operations on top of a Store. It keeps no
// in-process locks; all serialization is delegated to the store.
type Service struct {
	store       Store
	directory   Directory
	currency    string
	seed        decimal.Decimal
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewService builds a ledger service.
func NewService(store Store, directory Directory, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		directory:   directory,
		currency:    defaultCurrency,
		seed:        DefaultSeedBalance,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Currency returns the currency code all wallets are denominated in.
func (s *Service) Currency() string {
	return s.currency
}

// GetOrCreateWallet returns the owner's wallet, creating it with the seed
// balance on first access.
func (s *Service) GetOrCreateWallet(ctx context.Context, ownerID string) (Wallet, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Wallet{}, ErrInvalidOwner
	}

	w, err := s.store.Wallet(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, err
	}

	err = s.atomically(ctx, "get_or_create_wallet", func(ctx context.Context, tx Tx) error {
		w, err = tx.GetOrCreateWallet(ctx, ownerID, s.seedWallet(ownerID))
		return err
	})
	if err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// ApplyDeposit credits an external payment to the owner's wallet and appends
// one credit record.
func (s *Service) ApplyDeposit(ctx context.Context, in Deposit) (DepositResult, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return DepositResult{}, ErrInvalidOwner
	}
	if err := ValidateAmount(in.Amount); err != nil {
		return DepositResult{}, err
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = defaultDescription
	}

	var res DepositResult
	err := s.atomically(ctx, "deposit", func(ctx context.Context, tx Tx) error {
		now := s.now()
		if in.EventID != "" {
			if err := tx.ClaimDeposit(ctx, DepositClaim{
				EventID:   in.EventID,
				OwnerID:   in.OwnerID,
				Amount:    in.Amount,
				ClaimedAt: now,
			}); err != nil {
				return err
			}
		}

		w, err := tx.GetOrCreateWallet(ctx, in.OwnerID, s.seedWallet(in.OwnerID))
		if err != nil {
			return err
		}
		w.Balance = w.Balance.Add(in.Amount)
		w.UpdatedAt = now
		if w, err = tx.PutWallet(ctx, w); err != nil {
			return err
		}

		rec, err := tx.AppendTransaction(ctx, TransactionRecord{
			OwnerID:     in.OwnerID,
			Kind:        KindCredit,
			Amount:      in.Amount,
			Description: description,
			Timestamp:   now,
		})
		if err != nil {
			return err
		}

		res = DepositResult{Record: rec, Balance: w.Balance}
		return nil
	})
	if err != nil {
		return DepositResult{}, err
	}

	s.logger.InfoContext(ctx, "deposit applied",
		slog.String("owner_id", in.OwnerID),
		slog.String("amount", in.Amount.StringFixed(2)),
		slog.String("event_id", in.EventID),
		slog.String("transaction_id", res.Record.ID),
	)
	return res, nil
}

// Transfer moves amount from the sender's wallet to the user identified by
// toIdentifier, a handle with or without a leading @.
func (s *Service) Transfer(ctx context.Context, fromOwnerID, toIdentifier string, amount decimal.Decimal) (TransferResult, error) {
	if strings.TrimSpace(fromOwnerID) == "" {
		return TransferResult{}, ErrInvalidOwner
	}
	if err := ValidateAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if strings.TrimSpace(toIdentifier) == "" {
		return TransferResult{}, ErrRecipientNotFound
	}

	recipient, err := s.directory.ResolveHandle(ctx, toIdentifier)
	if err != nil {
		if errors.Is(err, ErrPartyNotFound) {
			return TransferResult{}, ErrRecipientNotFound
		}
		return TransferResult{}, fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient.ID == fromOwnerID {
		return TransferResult{}, ErrSelfTransfer
	}

	sender, err := s.directory.Profile(ctx, fromOwnerID)
	if err != nil {
		if !errors.Is(err, ErrPartyNotFound) {
			return TransferResult{}, fmt.Errorf("load sender profile: %w", err)
		}
		sender = Counterparty{ID: fromOwnerID}
	}

	var res TransferResult
	err = s.atomically(ctx, "transfer", func(ctx context.Context, tx Tx) error {
		now := s.now()
		from, to, err := s.lockPair(ctx, tx, fromOwnerID, recipient.ID)
		if err != nil {
			return err
		}
		if from.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		from.Balance = from.Balance.Sub(amount)
		from.UpdatedAt = now
		to.Balance = to.Balance.Add(amount)
		to.UpdatedAt = now
		if from, err = tx.PutWallet(ctx, from); err != nil {
			return err
		}
		if to, err = tx.PutWallet(ctx, to); err != nil {
			return err
		}

		recipientRef, senderRef := recipient, sender
		debit, err := tx.AppendTransaction(ctx, TransactionRecord{
			OwnerID:      fromOwnerID,
			Kind:         KindDebit,
			Amount:       amount,
			Description:  "Transfer to " + label(recipient),
			Timestamp:    now,
			Counterparty: &recipientRef,
		})
		if err != nil {
			return err
		}
		credit, err := tx.AppendTransaction(ctx, TransactionRecord{
			OwnerID:      recipient.ID,
			Kind:         KindCredit,
			Amount:       amount,
			Description:  "Transfer from " + label(sender),
			Timestamp:    now,
			Counterparty: &senderRef,
		})
		if err != nil {
			return err
		}

		res = TransferResult{
			Debit:            debit,
			Credit:           credit,
			SenderBalance:    from.Balance,
			RecipientBalance: to.Balance,
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.logger.InfoContext(ctx, "transfer committed",
		slog.String("from_owner_id", fromOwnerID),
		slog.String("to_owner_id", recipient.ID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("debit_id", res.Debit.ID),
		slog.String("credit_id", res.Credit.ID),
	)
	return res, nil
}

// ListTransactions returns the most recent limit records for ownerID, newest
// first. It never creates a wallet.
func (s *Service) ListTransactions(ctx context.Context, ownerID string, limit int) ([]TransactionRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidOwner
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	return s.store.Transactions(ctx, ownerID, limit)
}

// Bounds applied before any arithmetic touches an amount. Amounts are stored
// as NUMERIC(20,2), so anything at or above 10^18 cannot be persisted.
const (
	minAmountExponent = -20
	maxAmountExponent = 18
	maxAmountBits     = 128
)

var maxAmount = decimal.New(1, maxAmountExponent)

// ValidateAmount accepts strictly positive amounts below 10^18 expressed in
// whole cents.
func ValidateAmount(amount decimal.Decimal) error {
	if exp := amount.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if amount.Coefficient().BitLen() > maxAmountBits {
		return fmt.Errorf("%w: too many digits", ErrInvalidAmount)
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.LessThan(maxAmount) {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
	}
	return nil
}

// lockPair acquires both wallets in ascending owner order so that opposing
// transfers cannot deadlock.
func (s *Service) lockPair(ctx context.Context, tx Tx, senderID, recipientID string) (Wallet, Wallet, error) {
	first, second := senderID, recipientID
	if second < first {
		first, second = second, first
	}
	a, err := tx.GetOrCreateWallet(ctx, first, s.seedWallet(first))
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	b, err := tx.GetOrCreateWallet(ctx, second, s.seedWallet(second))
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	if first == senderID {
		return a, b, nil
	}
	return b, a, nil
}

func (s *Service) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.store.Atomically(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		s.logger.DebugContext(ctx, "unit of work conflicted",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == s.maxAttempts {
			break
		}
		if werr := wait(ctx, time.Duration(attempt)*s.backoff); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, err)
}

func (s *Service) seedWallet(ownerID string) Wallet {
	return Wallet{
		OwnerID:   ownerID,
		Balance:   s.seed,
		Currency:  s.currency,
		Version:   1,
		UpdatedAt: s.now(),
	}
}

func label(p Counterparty) string {
	switch {
	case p.Handle != "":
		return "@" + p.Handle
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.ID
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
