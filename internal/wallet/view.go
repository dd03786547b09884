package wallet

import (
	"time"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
)

// Response is the JSON shape of a wallet.
type Response struct {
	OwnerID   string    `json:"owner_id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CounterpartyResponse is the other side of a transfer record.
type CounterpartyResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
}

// TransactionResponse is the JSON shape of a transaction record.
type TransactionResponse struct {
	ID           string                `json:"id"`
	Kind         string                `json:"kind"`
	Amount       string                `json:"amount"`
	Description  string                `json:"description"`
	Timestamp    time.Time             `json:"timestamp"`
	Counterparty *CounterpartyResponse `json:"counterparty,omitempty"`
}

// NewResponse renders w with a fixed two-digit balance.
func NewResponse(w ledger.Wallet) Response {
	return Response{
		OwnerID:   w.OwnerID,
		Balance:   w.Balance.StringFixed(2),
		Currency:  w.Currency,
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
	}
}

// NewTransactionResponse renders a single record.
func NewTransactionResponse(rec ledger.TransactionRecord) TransactionResponse {
	out := TransactionResponse{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Amount:      rec.Amount.StringFixed(2),
		Description: rec.Description,
		Timestamp:   rec.Timestamp,
	}
	if cp := rec.Counterparty; cp != nil {
		out.Counterparty = &CounterpartyResponse{ID: cp.ID, DisplayName: cp.DisplayName, Handle: cp.Handle}
	}
	return out
}
