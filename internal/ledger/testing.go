package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the balance of an owner's wallet
// when using the in-memory store, creating the wallet if needed.
func SeedBalance(s Store, ownerID string, amount decimal.Decimal) {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	w, exists := mem.wallets[ownerID]
	if !exists {
		w = Wallet{OwnerID: ownerID, Currency: defaultCurrency, Version: 1}
	}
	w.Balance = amount
	mem.wallets[ownerID] = w
}
