package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
	"github.com/congo-pay/wallet-ledger/internal/logging"
)

const minPINLength = 4

var handlePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

// WalletOpener creates the wallet that goes with a new account.
type WalletOpener interface {
	GetOrCreateWallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
}

// Account is a freshly registered user together with its opened wallet.
type Account struct {
	User   User
	Wallet ledger.Wallet
}

// Service manages identity lifecycle.
type Service struct {
	repo    Repository
	wallets WalletOpener
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a new identity service. wallets may be nil, in which
// case wallets are opened lazily on first use.
func NewService(repo Repository, wallets WalletOpener, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, wallets: wallets, now: time.Now, logger: logger}
}

// NormalizeHandle lowercases h and strips surrounding space and a leading @.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// Register creates a user with a hashed PIN and opens the user's wallet.
func (s *Service) Register(ctx context.Context, reg Registration) (Account, error) {
	handle := NormalizeHandle(reg.Handle)
	if !handlePattern.MatchString(handle) {
		return Account{}, ErrInvalidHandle
	}
	if !validPIN(reg.PIN) {
		return Account{}, ErrWeakPIN
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash pin: %w", err)
	}

	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName = handle
	}

	user := User{
		ID:          uuid.NewString(),
		Handle:      handle,
		DisplayName: displayName,
		PINHash:     hash,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return Account{}, err
	}

	acct := Account{User: user}
	if s.wallets != nil {
		// The user row is already committed; the wallet is opened lazily on
		// first access if this fails.
		w, err := s.wallets.GetOrCreateWallet(ctx, user.ID)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("identity.register wallet open failed",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		} else {
			acct.Wallet = w
		}
	}

	logging.FromContext(ctx, s.logger).Info("identity.register completed",
		slog.String("user_id", user.ID),
		slog.String("handle", user.Handle),
	)
	return acct, nil
}

// Authenticate verifies a handle and PIN pair and records the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByHandle(ctx, NormalizeHandle(creds.Handle))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func validPIN(pin string) bool {
	if len(pin) < minPINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
