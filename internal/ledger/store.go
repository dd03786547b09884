package ledger

import "context"

// Store is the persistence boundary of the ledger. Every mutation runs inside
// Atomically: either all writes made through the Tx become visible together
// or none of them do.
type Store interface {
	// Atomically runs fn as one unit of work. A non-nil error from fn discards
	// every write made through tx. Implementations report lost races as
	// ErrConflict.
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Wallet is a point read outside of any unit of work.
	Wallet(ctx context.Context, ownerID string) (Wallet, error)

	// Transactions returns up to limit records for ownerID, newest first.
	Transactions(ctx context.Context, ownerID string, limit int) ([]TransactionRecord, error)
}

// Tx is the view of the store available inside a unit of work.
type Tx interface {
	// GetOrCreateWallet returns the owner's wallet, inserting seed when the
	// owner has none, and holds it for update until the unit ends.
	GetOrCreateWallet(ctx context.Context, ownerID string, seed Wallet) (Wallet, error)

	// PutWallet writes w if the stored version still equals w.Version and
	// returns the wallet with its bumped version.
	PutWallet(ctx context.Context, w Wallet) (Wallet, error)

	// AppendTransaction stores rec and returns it with the store-assigned ID.
	AppendTransaction(ctx context.Context, rec TransactionRecord) (TransactionRecord, error)

	// ClaimDeposit marks a provider event as applied. A second claim for the
	// same event returns ErrDuplicateDeposit.
	ClaimDeposit(ctx context.Context, claim DepositClaim) error
}

// Directory resolves user handles and profiles for transfer counterparties.
type Directory interface {
	ResolveHandle(ctx context.Context, handle string) (Counterparty, error)
	Profile(ctx context.Context, ownerID string) (Counterparty, error)
}
