package identity

import (
	"context"
	"errors"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
)

type directory struct {
	repo Repository
}

// NewDirectory exposes registered users as ledger counterparties.
func NewDirectory(repo Repository) ledger.Directory {
	return directory{repo: repo}
}

func (d directory) ResolveHandle(ctx context.Context, handle string) (ledger.Counterparty, error) {
	handle = NormalizeHandle(handle)
	if !handlePattern.MatchString(handle) {
		return ledger.Counterparty{}, ledger.ErrPartyNotFound
	}
	return d.lookup(d.repo.FindByHandle(ctx, handle))
}

func (d directory) Profile(ctx context.Context, ownerID string) (ledger.Counterparty, error) {
	return d.lookup(d.repo.FindByID(ctx, ownerID))
}

func (directory) lookup(user User, err error) (ledger.Counterparty, error) {
	if errors.Is(err, ErrUserNotFound) {
		return ledger.Counterparty{}, ledger.ErrPartyNotFound
	}
	if err != nil {
		return ledger.Counterparty{}, err
	}
	return ledger.Counterparty{ID: user.ID, DisplayName: user.DisplayName, Handle: user.Handle}, nil
}
