package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type storedRecord struct {
	seq int64
	rec TransactionRecord
}

type inMemoryStore struct {
	mu       sync.Mutex
	wallets  map[string]Wallet
	records  map[string][]storedRecord
	deposits map[string]DepositClaim
	seq      int64
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development. Units of work are serialized by a single mutex and
// their writes are staged until the unit returns successfully.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:  make(map[string]Wallet),
		records:  make(map[string][]storedRecord),
		deposits: make(map[string]DepositClaim),
	}
}

func (s *inMemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		wallets:  make(map[string]Wallet),
		deposits: make(map[string]DepositClaim),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

func (s *inMemoryStore) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	if err := ctx.Err(); err != nil {
		return Wallet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *inMemoryStore) Transactions(ctx context.Context, ownerID string, limit int) ([]TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.Lock()
	stored := append([]storedRecord(nil), s.records[ownerID]...)
	s.mu.Unlock()

	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.rec.Timestamp.Equal(b.rec.Timestamp) {
			return a.rec.Timestamp.After(b.rec.Timestamp)
		}
		return a.seq > b.seq
	})
	if len(stored) > limit {
		stored = stored[:limit]
	}

	out := make([]TransactionRecord, 0, len(stored))
	for _, sr := range stored {
		out = append(out, cloneRecord(sr.rec))
	}
	return out, nil
}

type memoryTx struct {
	store    *inMemoryStore
	wallets  map[string]Wallet
	pending  []TransactionRecord
	deposits map[string]DepositClaim
}

func (t *memoryTx) current(ownerID string) (Wallet, bool) {
	if w, ok := t.wallets[ownerID]; ok {
		return w, true
	}
	w, ok := t.store.wallets[ownerID]
	return w, ok
}

func (t *memoryTx) GetOrCreateWallet(_ context.Context, ownerID string, seed Wallet) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, ErrInvalidOwner
	}
	if w, ok := t.current(ownerID); ok {
		return w, nil
	}
	seed.OwnerID = ownerID
	seed.Version = 1
	if err := validateWallet(seed); err != nil {
		return Wallet{}, err
	}
	t.wallets[ownerID] = seed
	return seed, nil
}

func (t *memoryTx) PutWallet(_ context.Context, w Wallet) (Wallet, error) {
	existing, ok := t.current(w.OwnerID)
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	if existing.Version != w.Version {
		return Wallet{}, ErrConflict
	}
	if err := validateWallet(w); err != nil {
		return Wallet{}, err
	}
	w.Version++
	t.wallets[w.OwnerID] = w
	return w, nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, rec TransactionRecord) (TransactionRecord, error) {
	if err := validateRecord(rec); err != nil {
		return TransactionRecord{}, err
	}
	rec.ID = uuid.NewString()
	rec = cloneRecord(rec)
	t.pending = append(t.pending, rec)
	return cloneRecord(rec), nil
}

func (t *memoryTx) ClaimDeposit(_ context.Context, claim DepositClaim) error {
	if _, ok := t.store.deposits[claim.EventID]; ok {
		return ErrDuplicateDeposit
	}
	if _, ok := t.deposits[claim.EventID]; ok {
		return ErrDuplicateDeposit
	}
	t.deposits[claim.EventID] = claim
	return nil
}

func (t *memoryTx) commit() {
	s := t.store
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	for _, rec := range t.pending {
		s.seq++
		s.records[rec.OwnerID] = append(s.records[rec.OwnerID], storedRecord{seq: s.seq, rec: rec})
	}
	for id, claim := range t.deposits {
		s.deposits[id] = claim
	}
}

func cloneRecord(rec TransactionRecord) TransactionRecord {
	if rec.Counterparty != nil {
		cp := *rec.Counterparty
		rec.Counterparty = &cp
	}
	return rec
}
