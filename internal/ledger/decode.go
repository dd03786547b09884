package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DecodeError reports a stored value that does not satisfy the ledger schema.
// Stores return it instead of handing malformed data to callers.
type DecodeError struct {
	Entity string
	Key    string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %s: %s", e.Entity, e.Key, e.Field, e.Reason)
}

// walletRow is the raw shape of a stored wallet with numerics kept as text.
type walletRow struct {
	OwnerID   string
	Balance   string
	Currency  string
	Version   int64
	UpdatedAt time.Time
}

// recordRow is the raw shape of a stored transaction record.
type recordRow struct {
	ID                 string
	OwnerID            string
	Kind               string
	Amount             string
	Description        string
	CounterpartyID     *string
	CounterpartyName   *string
	CounterpartyHandle *string
	CreatedAt          time.Time
}

func decodeWallet(row walletRow) (Wallet, error) {
	balance, err := decimal.NewFromString(strings.TrimSpace(row.Balance))
	if err != nil {
		return Wallet{}, &DecodeError{Entity: "wallet", Key: row.OwnerID, Field: "balance", Reason: err.Error()}
	}
	w := Wallet{
		OwnerID:   row.OwnerID,
		Balance:   balance,
		Currency:  strings.TrimSpace(row.Currency),
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := validateWallet(w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func decodeRecord(row recordRow) (TransactionRecord, error) {
	fail := func(field, reason string) error {
		return &DecodeError{Entity: "transaction", Key: row.ID, Field: field, Reason: reason}
	}

	if _, err := uuid.Parse(row.ID); err != nil {
		return TransactionRecord{}, fail("id", err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(row.Amount))
	if err != nil {
		return TransactionRecord{}, fail("amount", err.Error())
	}

	rec := TransactionRecord{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Kind:        Kind(row.Kind),
		Amount:      amount,
		Description: row.Description,
		Timestamp:   row.CreatedAt.UTC(),
	}

	switch {
	case row.CounterpartyID == nil && row.CounterpartyName == nil && row.CounterpartyHandle == nil:
	case row.CounterpartyID == nil || *row.CounterpartyID == "":
		return TransactionRecord{}, fail("counterparty", "name or handle without id")
	default:
		rec.Counterparty = &Counterparty{
			ID:          *row.CounterpartyID,
			DisplayName: deref(row.CounterpartyName),
			Handle:      deref(row.CounterpartyHandle),
		}
	}

	if err := validateRecord(rec); err != nil {
		return TransactionRecord{}, err
	}
	return rec, nil
}

func validateWallet(w Wallet) error {
	fail := func(field, reason string) error {
		return &DecodeError{Entity: "wallet", Key: w.OwnerID, Field: field, Reason: reason}
	}
	switch {
	case w.OwnerID == "":
		return fail("owner_id", "blank")
	case w.Balance.IsNegative():
		return fail("balance", "negative")
	case w.Currency == "":
		return fail("currency", "blank")
	case w.Version < 1:
		return fail("version", "must be positive")
	}
	return nil
}

func validateRecord(rec TransactionRecord) error {
	fail := func(field, reason string) error {
		return &DecodeError{Entity: "transaction", Key: rec.ID, Field: field, Reason: reason}
	}
	switch {
	case rec.OwnerID == "":
		return fail("owner_id", "blank")
	case !rec.Kind.Valid():
		return fail("kind", fmt.Sprintf("unknown kind %q", rec.Kind))
	case !rec.Amount.IsPositive():
		return fail("amount", "must be positive")
	case rec.Timestamp.IsZero():
		return fail("timestamp", "zero")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
