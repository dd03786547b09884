package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount occurs when an amount is not strictly positive or carries
	// more precision than whole cents.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRecipientNotFound indicates the transfer target could not be resolved to a user.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrSelfTransfer indicates the transfer target resolved to the sender.
	ErrSelfTransfer = errors.New("self transfer not allowed")

	// ErrInvalidOwner is returned for a blank owner identifier.
	ErrInvalidOwner = errors.New("invalid owner")

	// ErrInvalidLimit is returned when a history read asks for fewer than one record.
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrWalletNotFound is returned by point reads for owners that never touched the ledger.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrDuplicateDeposit indicates the provider event was already applied; the
	// deposit is treated as a no-op.
	ErrDuplicateDeposit = errors.New("duplicate deposit")

	// ErrConflict is reported by a store when a concurrent write invalidated the
	// unit of work. The whole unit is safe to run again.
	ErrConflict = errors.New("concurrent modification")

	// ErrRetriesExhausted wraps the last conflict once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrStoreUnavailable marks transient infrastructure failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartyNotFound is returned by a Directory for unknown handles or ids.
	ErrPartyNotFound = errors.New("party not found")
)

// Kind tags a transaction record as money in or money out.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// Wallet is the per-owner balance record.
type Wallet struct {
	OwnerID   string
	Balance   decimal.Decimal
	Currency  string
	Version   int64
	UpdatedAt time.Time
}

// Counterparty references the other side of a transfer.
type Counterparty struct {
	ID          string
	DisplayName string
	Handle      string
}

// TransactionRecord is an immutable entry in an owner's transaction log.
type TransactionRecord struct {
	ID           string
	OwnerID      string
	Kind         Kind
	Amount       decimal.Decimal
	Description  string
	Timestamp    time.Time
	Counterparty *Counterparty
}

// Deposit describes an external credit. EventID is the payment provider's
// event identifier; when set, replays of the same event are rejected with
// ErrDuplicateDeposit and leave the wallet untouched.
type Deposit struct {
	OwnerID     string
	Amount      decimal.Decimal
	Description string
	EventID     string
}

// DepositClaim records that a provider event has been applied.
type DepositClaim struct {
	EventID   string
	OwnerID   string
	Amount    decimal.Decimal
	ClaimedAt time.Time
}

// DepositResult captures the outcome of an applied deposit.
type DepositResult struct {
	Record  TransactionRecord
	Balance decimal.Decimal
}

// TransferResult captures the outcome of a committed transfer.
type TransferResult struct {
	Debit            TransactionRecord
	Credit           TransactionRecord
	SenderBalance    decimal.Decimal
	RecipientBalance decimal.Decimal
}
