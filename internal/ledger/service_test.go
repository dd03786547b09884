package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	parties []Counterparty
}

func (d stubDirectory) ResolveHandle(_ context.Context, handle string) (Counterparty, error) {
	handle = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	for _, p := range d.parties {
		if p.Handle == handle {
			return p, nil
		}
	}
	return Counterparty{}, ErrPartyNotFound
}

func (d stubDirectory) Profile(_ context.Context, ownerID string) (Counterparty, error) {
	for _, p := range d.parties {
		if p.ID == ownerID {
			return p, nil
		}
	}
	return Counterparty{}, ErrPartyNotFound
}

var (
	alice = Counterparty{ID: "u-alice", DisplayName: "Alice Martin", Handle: "alice"}
	bob   = Counterparty{ID: "u-bob", DisplayName: "Bob Stone", Handle: "bob"}
	carol = Counterparty{ID: "u-carol", DisplayName: "Carol Diaz", Handle: "carol"}
)

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, Store) {
	t.Helper()
	store := NewInMemory()
	base := []ServiceOption{
		WithClock(steppingClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))),
		WithRetry(5, 0),
	}
	svc := NewService(store, stubDirectory{parties: []Counterparty{alice, bob, carol}}, append(base, opts...)...)
	return svc, store
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, amount(want).Equal(got), "expected %s, got %s", want, got.StringFixed(2))
}

func balanceOf(t *testing.T, svc *Service, ownerID string) decimal.Decimal {
	t.Helper()
	w, err := svc.GetOrCreateWallet(context.Background(), ownerID)
	require.NoError(t, err)
	return w.Balance
}

func TestGetOrCreateWalletSeedsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.GetOrCreateWallet(ctx, alice.ID)
	require.NoError(t, err)
	requireAmount(t, "100.00", w.Balance)
	assert.Equal(t, "USD", w.Currency)
	assert.Equal(t, int64(1), w.Version)

	again, err := svc.GetOrCreateWallet(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, w, again)
}

func TestGetOrCreateWalletConcurrentCallersShareOneWallet(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetOrCreateWallet(ctx, bob.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := store.Wallet(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Version)
	requireAmount(t, "100.00", w.Balance)
}

func TestGetOrCreateWalletRejectsBlankOwner(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetOrCreateWallet(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestWithSeedBalance(t *testing.T) {
	svc, _ := newTestService(t, WithSeedBalance(decimal.Zero), WithCurrency("eur"))
	w, err := svc.GetOrCreateWallet(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.Equal(t, "EUR", w.Currency)
}

func TestTransferAliceToBob(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bobBefore := balanceOf(t, svc, bob.ID)

	res, err := svc.Transfer(ctx, alice.ID, "bob", amount("30.00"))
	require.NoError(t, err)
	requireAmount(t, "70.00", res.SenderBalance)
	requireAmount(t, bobBefore.Add(amount("30.00")).String(), res.RecipientBalance)

	requireAmount(t, "70.00", balanceOf(t, svc, alice.ID))
	requireAmount(t, "130.00", balanceOf(t, svc, bob.ID))

	aliceLog, err := svc.ListTransactions(ctx, alice.ID, 1)
	require.NoError(t, err)
	require.Len(t, aliceLog, 1)
	assert.Equal(t, KindDebit, aliceLog[0].Kind)
	requireAmount(t, "30.00", aliceLog[0].Amount)
	require.NotNil(t, aliceLog[0].Counterparty)
	assert.Equal(t, bob, *aliceLog[0].Counterparty)
	assert.Equal(t, "Transfer to @bob", aliceLog[0].Description)

	bobLog, err := svc.ListTransactions(ctx, bob.ID, 1)
	require.NoError(t, err)
	require.Len(t, bobLog, 1)
	assert.Equal(t, KindCredit, bobLog[0].Kind)
	requireAmount(t, "30.00", bobLog[0].Amount)
	require.NotNil(t, bobLog[0].Counterparty)
	assert.Equal(t, alice, *bobLog[0].Counterparty)
	assert.Equal(t, "Transfer from @alice", bobLog[0].Description)

	assert.NotEmpty(t, res.Debit.ID)
	assert.NotEqual(t, res.Debit.ID, res.Credit.ID)
}

func TestTransferAcceptsAtPrefixedHandle(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Transfer(context.Background(), alice.ID, "@Bob", amount("1.50"))
	require.NoError(t, err)
	requireAmount(t, "98.50", balanceOf(t, svc, alice.ID))
}

func TestTransferToSelfIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, alice.ID, "alice", amount("10.00"))
	require.ErrorIs(t, err, ErrSelfTransfer)

	requireAmount(t, "100.00", balanceOf(t, svc, alice.ID))
	log, err := svc.ListTransactions(ctx, alice.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestTransferUnknownRecipient(t *testing.T) {
	svc, _ := newTestService(t)
	for _, to := range []string{"mallory", "", "   "} {
		_, err := svc.Transfer(context.Background(), alice.ID, to, amount("1.00"))
		assert.ErrorIs(t, err, ErrRecipientNotFound, "recipient %q", to)
	}
}

func TestTransferInvalidAmount(t *testing.T) {
	svc, _ := newTestService(t)
	cases := map[string]decimal.Decimal{
		"zero":      decimal.Zero,
		"negative":  amount("-5.00"),
		"sub-cent":  amount("0.001"),
		"precision": amount("10.125"),
		"huge exponent": amount("1e20000000"),
		"tiny exponent": amount("1e-100000000"),
		"schema ceiling": amount("1000000000000000000"),
		"long coefficient": amount("1." + strings.Repeat("0", 60) + "1"),
	}
	for name, amt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), alice.ID, "bob", amt)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestTransferInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, alice.ID, "bob", amount("20.00"))
	require.NoError(t, err)

	aliceBefore, err := store.Wallet(ctx, alice.ID)
	require.NoError(t, err)
	bobBefore, err := store.Wallet(ctx, bob.ID)
	require.NoError(t, err)
	aliceLogBefore, err := store.Transactions(ctx, alice.ID, 100)
	require.NoError(t, err)
	bobLogBefore, err := store.Transactions(ctx, bob.ID, 100)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, alice.ID, "bob", amount("80.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	aliceAfter, err := store.Wallet(ctx, alice.ID)
	require.NoError(t, err)
	bobAfter, err := store.Wallet(ctx, bob.ID)
	require.NoError(t, err)
	aliceLogAfter, err := store.Transactions(ctx, alice.ID, 100)
	require.NoError(t, err)
	bobLogAfter, err := store.Transactions(ctx, bob.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, aliceBefore, aliceAfter)
	assert.Equal(t, bobBefore, bobAfter)
	assert.Equal(t, aliceLogBefore, aliceLogAfter)
	assert.Equal(t, bobLogBefore, bobLogAfter)
}

func TestTransferDrainsExactBalance(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Transfer(context.Background(), alice.ID, "carol", amount("100.00"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, svc, alice.ID).IsZero())
}

func TestTransfersConserveValue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	users := []Counterparty{alice, bob, carol}

	total := decimal.Zero
	for _, u := range users {
		total = total.Add(balanceOf(t, svc, u.ID))
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		amt := decimal.New(int64(rng.Intn(5000)+1), -2)

		_, err := svc.Transfer(ctx, from.ID, to.Handle, amt)
		switch {
		case err == nil:
		case from.ID == to.ID:
			require.ErrorIs(t, err, ErrSelfTransfer)
		default:
			require.ErrorIs(t, err, ErrInsufficientFunds)
		}

		sum := decimal.Zero
		for _, u := range users {
			bal := balanceOf(t, svc, u.ID)
			require.False(t, bal.IsNegative())
			sum = sum.Add(bal)
		}
		require.Truef(t, total.Equal(sum), "step %d: total drifted to %s", i, sum)
	}
}

func TestConcurrentTransfersDoNotDoubleSpend(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.GetOrCreateWallet(ctx, alice.ID)
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		start        = make(chan struct{})
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for _, to := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			<-start
			_, err := svc.Transfer(ctx, alice.ID, to, amount("60.00"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(to)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), insufficient.Load())
	requireAmount(t, "40.00", balanceOf(t, svc, alice.ID))
}

func TestConcurrentTransfersSerializeOnSharedWallet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice.ID, "bob"
			if i%2 == 1 {
				from, to = bob.ID, "alice"
			}
			if _, err := svc.Transfer(ctx, from, to, amount("7.25")); err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(workers), succeeded.Load())
	sum := balanceOf(t, svc, alice.ID).Add(balanceOf(t, svc, bob.ID))
	requireAmount(t, "200.00", sum)
}

func TestApplyDeposit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	before := balanceOf(t, svc, alice.ID)
	res, err := svc.ApplyDeposit(ctx, Deposit{OwnerID: alice.ID, Amount: amount("50.00"), Description: "Deposit via Stripe"})
	require.NoError(t, err)
	requireAmount(t, before.Add(amount("50.00")).String(), res.Balance)
	requireAmount(t, "150.00", balanceOf(t, svc, alice.ID))

	log, err := svc.ListTransactions(ctx, alice.ID, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, KindCredit, log[0].Kind)
	requireAmount(t, "50.00", log[0].Amount)
	assert.Equal(t, "Deposit via Stripe", log[0].Description)
	assert.Nil(t, log[0].Counterparty)
	assert.Equal(t, res.Record.ID, log[0].ID)
}

func TestApplyDepositCreatesWalletLazily(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyDeposit(ctx, Deposit{OwnerID: "u-new", Amount: amount("5.00")})
	require.NoError(t, err)

	w, err := store.Wallet(ctx, "u-new")
	require.NoError(t, err)
	requireAmount(t, "105.00", w.Balance)

	log, err := svc.ListTransactions(ctx, "u-new", 5)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "Deposit", log[0].Description)
}

func TestApplyDepositValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyDeposit(ctx, Deposit{OwnerID: alice.ID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.ApplyDeposit(ctx, Deposit{OwnerID: "", Amount: amount("1.00")})
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"0.01", true},
		{"1.50", true},
		{"1.5000", true},
		{"250", true},
		{"999999999999999999.99", true},
		{"1e3", true},
		{"0", false},
		{"-0.01", false},
		{"0.001", false},
		{"1000000000000000000", false},
		{"1e18", false},
		{"1e20000000", false},
		{"1e-100000000", false},
		{"-1e20000000", false},
	}
	for _, tc := range cases {
		started := time.Now()
		err := ValidateAmount(amount(tc.in))
		if tc.ok {
			assert.NoError(t, err, tc.in)
		} else {
			assert.ErrorIs(t, err, ErrInvalidAmount, tc.in)
		}
		assert.Less(t, time.Since(started), 100*time.Millisecond, tc.in)
	}
}

func TestApplyDepositRejectsAmountAboveStorageCeiling(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApplyDeposit(context.Background(), Deposit{OwnerID: alice.ID, Amount: amount("1e18"), EventID: "evt_big"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	requireAmount(t, "100.00", balanceOf(t, svc, alice.ID))
}

func TestApplyDepositReplayIsNoOp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	dep := Deposit{OwnerID: alice.ID, Amount: amount("12.34"), Description: "Deposit via Stripe", EventID: "evt_123"}

	_, err := svc.ApplyDeposit(ctx, dep)
	require.NoError(t, err)
	_, err = svc.ApplyDeposit(ctx, dep)
	require.ErrorIs(t, err, ErrDuplicateDeposit)

	requireAmount(t, "112.34", balanceOf(t, svc, alice.ID))
	log, err := svc.ListTransactions(ctx, alice.ID, 10)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestApplyDepositConcurrentReplays(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyDeposit(ctx, Deposit{OwnerID: bob.ID, Amount: amount("10.00"), EventID: "evt_same"})
			if err == nil {
				applied.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrDuplicateDeposit)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	requireAmount(t, "110.00", balanceOf(t, svc, bob.ID))
}

func TestListTransactionsOrderingAndLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := svc.ApplyDeposit(ctx, Deposit{OwnerID: alice.ID, Amount: decimal.NewFromInt(int64(i)), Description: fmt.Sprintf("deposit %d", i)})
		require.NoError(t, err)
	}

	log, err := svc.ListTransactions(ctx, alice.ID, 3)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, "deposit 5", log[0].Description)
	assert.Equal(t, "deposit 4", log[1].Description)
	assert.Equal(t, "deposit 3", log[2].Description)
	for i := 1; i < len(log); i++ {
		assert.True(t, log[i-1].Timestamp.After(log[i].Timestamp))
	}

	again, err := svc.ListTransactions(ctx, alice.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, log, again)

	all, err := svc.ListTransactions(ctx, alice.ID, 50)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestListTransactionsHasNoSideEffects(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	log, err := svc.ListTransactions(ctx, "u-ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, log)

	_, err = store.Wallet(ctx, "u-ghost")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = svc.ListTransactions(ctx, alice.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

// conflictingStore reports ErrConflict for the first n units of work.
type conflictingStore struct {
	Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func (s *conflictingStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.calls.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return ErrConflict
	}
	return s.Store.Atomically(ctx, fn)
}

func TestTransferRetriesOnConflict(t *testing.T) {
	store := &conflictingStore{Store: NewInMemory()}
	store.remaining.Store(2)
	svc := NewService(store, stubDirectory{parties: []Counterparty{alice, bob}}, WithRetry(5, 0))

	_, err := svc.Transfer(context.Background(), alice.ID, "bob", amount("10.00"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	requireAmount(t, "90.00", balanceOf(t, svc, alice.ID))
}

func TestTransferGivesUpAfterMaxAttempts(t *testing.T) {
	store := &conflictingStore{Store: NewInMemory()}
	store.remaining.Store(100)
	svc := NewService(store, stubDirectory{parties: []Counterparty{alice, bob}}, WithRetry(3, time.Millisecond))

	_, err := svc.Transfer(context.Background(), alice.ID, "bob", amount("10.00"))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(3), store.calls.Load())

	_, err = store.Store.Wallet(context.Background(), alice.ID)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	store := &conflictingStore{Store: NewInMemory()}
	store.remaining.Store(100)
	svc := NewService(store, stubDirectory{parties: []Counterparty{alice, bob}}, WithRetry(10, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Transfer(ctx, alice.ID, "bob", amount("10.00"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestTransferSenderWithoutProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, "u-anon", "bob", amount("1.00"))
	require.NoError(t, err)

	log, err := svc.ListTransactions(ctx, bob.ID, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.NotNil(t, log[0].Counterparty)
	assert.Equal(t, "u-anon", log[0].Counterparty.ID)
	assert.Equal(t, "Transfer from u-anon", log[0].Description)
}
