package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const (
	selectWallet = `SELECT owner_id, balance::text, currency, version, updated_at
        FROM wallets WHERE owner_id = $1`
	selectWalletForUpdate = selectWallet + ` FOR UPDATE`
)

// PostgresStore persists wallets and their transaction logs in PostgreSQL.
// Units of work run in a single database transaction; wallets are row-locked
// on first touch and written with a version check.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Atomically runs fn inside a database transaction.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return unavailable(ctx, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// Wallet reads the wallet for ownerID without locking it.
func (s *PostgresStore) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, selectWallet, ownerID))
	if err != nil {
		return Wallet{}, unavailable(ctx, err)
	}
	return w, nil
}

// Transactions returns the newest limit records of ownerID.
func (s *PostgresStore) Transactions(ctx context.Context, ownerID string, limit int) ([]TransactionRecord, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	const query = `
        SELECT id::text, owner_id, kind, amount::text, description,
               counterparty_id, counterparty_name, counterparty_handle, created_at
        FROM wallet_transactions
        WHERE owner_id = $1
        ORDER BY created_at DESC, seq DESC
        LIMIT $2`

	rows, err := s.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, unavailable(ctx, err)
	}
	defer rows.Close()

	records := make([]TransactionRecord, 0, limit)
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(
			&row.ID, &row.OwnerID, &row.Kind, &row.Amount, &row.Description,
			&row.CounterpartyID, &row.CounterpartyName, &row.CounterpartyHandle, &row.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(ctx, err)
	}
	return records, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetOrCreateWallet(ctx context.Context, ownerID string, seed Wallet) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, ErrInvalidOwner
	}
	seed.OwnerID = ownerID
	seed.Version = 1
	if err := validateWallet(seed); err != nil {
		return Wallet{}, err
	}

	if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (owner_id, balance, currency, version, created_at, updated_at)
        VALUES ($1, $2::numeric, $3, 1, $4, $4)
        ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, seed.Balance.StringFixed(2), seed.Currency, seed.UpdatedAt.UTC()); err != nil {
		return Wallet{}, err
	}

	return scanWallet(t.tx.QueryRow(ctx, selectWalletForUpdate, ownerID))
}

func (t *postgresTx) PutWallet(ctx context.Context, w Wallet) (Wallet, error) {
	if err := validateWallet(w); err != nil {
		return Wallet{}, err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE wallets
        SET balance = $1::numeric, version = version + 1, updated_at = $2
        WHERE owner_id = $3 AND version = $4`,
		w.Balance.StringFixed(2), w.UpdatedAt.UTC(), w.OwnerID, w.Version)
	if err != nil {
		return Wallet{}, err
	}
	if tag.RowsAffected() == 0 {
		return Wallet{}, ErrConflict
	}
	w.Version++
	return w, nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, rec TransactionRecord) (TransactionRecord, error) {
	if err := validateRecord(rec); err != nil {
		return TransactionRecord{}, err
	}

	var cpID, cpName, cpHandle *string
	if rec.Counterparty != nil {
		cpID = nullable(rec.Counterparty.ID)
		cpName = nullable(rec.Counterparty.DisplayName)
		cpHandle = nullable(rec.Counterparty.Handle)
	}

	id := uuid.New()
	if _, err := t.tx.Exec(ctx, `INSERT INTO wallet_transactions
        (id, owner_id, kind, amount, description, counterparty_id, counterparty_name, counterparty_handle, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		id, rec.OwnerID, string(rec.Kind), rec.Amount.StringFixed(2), rec.Description,
		cpID, cpName, cpHandle, rec.Timestamp.UTC()); err != nil {
		return TransactionRecord{}, err
	}

	rec.ID = id.String()
	return cloneRecord(rec), nil
}

func (t *postgresTx) ClaimDeposit(ctx context.Context, claim DepositClaim) error {
	tag, err := t.tx.Exec(ctx, `INSERT INTO deposit_events (event_id, owner_id, amount, claimed_at)
        VALUES ($1, $2, $3::numeric, $4)
        ON CONFLICT (event_id) DO NOTHING`,
		claim.EventID, claim.OwnerID, claim.Amount.StringFixed(2), claim.ClaimedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateDeposit
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var raw walletRow
	if err := row.Scan(&raw.OwnerID, &raw.Balance, &raw.Currency, &raw.Version, &raw.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return decodeWallet(raw)
}

// mapPgError translates lost races into ErrConflict so the service can re-run
// the unit of work.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
