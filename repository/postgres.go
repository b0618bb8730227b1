package repository

import (
	"context"
	_ "embed"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore keeps the ledger in four tables, see schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

type pgTxKey struct{}

// querier is what pgxpool.Pool and pgx.Tx have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// db returns the transaction carried by ctx, or the pool.
func (s *PostgresStore) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

// insert runs a statement that may hit a unique constraint. Inside a
// transaction it gets its own savepoint, so a duplicate leaves the outer
// transaction usable for a retry.
func (s *PostgresStore) insert(ctx context.Context, sql string, args ...any) error {
	q := s.db(ctx)
	if _, ok := q.(pgx.Tx); !ok {
		_, err := q.Exec(ctx, sql, args...)
		return mapPgError(err)
	}
	err := pgx.BeginFunc(ctx, q, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, sql, args...)
		return err
	})
	return mapPgError(err)
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) InsertAccount(ctx context.Context, a *entity.Account) error {
	return s.insert(ctx, `
		INSERT INTO accounts (address, balance, is_multisig, required_signatures, key_fingerprint, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.Address, a.Balance, a.IsMultisig, a.RequiredSignatures, a.KeyFingerprint, a.Version, a.CreatedAt, a.UpdatedAt)
}

func (s *PostgresStore) GetAccount(ctx context.Context, address string) (*entity.Account, error) {
	var a entity.Account
	err := s.db(ctx).QueryRow(ctx, `
		SELECT address, balance, is_multisig, required_signatures, key_fingerprint, version, created_at, updated_at
		FROM accounts WHERE address = $1`, address,
	).Scan(&a.Address, &a.Balance, &a.IsMultisig, &a.RequiredSignatures, &a.KeyFingerprint, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &a, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, address string, balance, expectedVersion int64) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE accounts SET balance = $2, version = version + 1, updated_at = $4
		WHERE address = $1 AND version = $3`,
		address, balance, expectedVersion, time.Now().UTC())
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetAccount(ctx, address); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) InsertOwners(ctx context.Context, wallet string, owners []string) error {
	now := time.Now().UTC()
	err := pgx.BeginFunc(ctx, s.db(ctx), func(tx pgx.Tx) error {
		for i, o := range owners {
			if _, err := tx.Exec(ctx, `
				INSERT INTO owners (wallet_address, owner_address, position, added_at)
				VALUES ($1, $2, $3, $4)`, wallet, o, i, now); err != nil {
				return err
			}
		}
		return nil
	})
	return mapPgError(err)
}

func (s *PostgresStore) Owners(ctx context.Context, wallet string) ([]string, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT owner_address FROM owners WHERE wallet_address = $1 ORDER BY position`, wallet)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) InsertTransfer(ctx context.Context, t *entity.Transfer) error {
	return s.insert(ctx, `
		INSERT INTO transfers (hash, sender, receiver, amount, status, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Hash, t.Sender, t.Receiver, t.Amount, string(t.Status), t.Seq, t.CreatedAt, t.UpdatedAt)
}

const transferColumns = `hash, sender, receiver, amount, status, seq, created_at, updated_at`

func scanTransfer(row pgx.Row) (*entity.Transfer, error) {
	var (
		t      entity.Transfer
		status string
	)
	if err := row.Scan(&t.Hash, &t.Sender, &t.Receiver, &t.Amount, &status, &t.Seq, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = entity.Status(status)
	return &t, nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, hash string) (*entity.Transfer, error) {
	t, err := scanTransfer(s.db(ctx).QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE hash = $1`, hash))
	if err != nil {
		return nil, mapPgError(err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTransferStatus(ctx context.Context, hash string, from, to entity.Status) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE transfers SET status = $3, updated_at = $4 WHERE hash = $1 AND status = $2`,
		hash, string(from), string(to), time.Now().UTC())
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTransfer(ctx, hash); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) queryTransfers(ctx context.Context, where string, limit int, args ...interface{}) ([]*entity.Transfer, error) {
	sql := `SELECT ` + transferColumns + ` FROM transfers ` + where + ` ORDER BY seq DESC, hash DESC`
	if limit > 0 {
		args = append(args, limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := s.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*entity.Transfer, error) {
		return scanTransfer(row)
	})
}

func (s *PostgresStore) ListTransfers(ctx context.Context, address string, limit int) ([]*entity.Transfer, error) {
	return s.queryTransfers(ctx, `WHERE sender = $1 OR receiver = $1`, limit, address)
}

func (s *PostgresStore) RecentTransfers(ctx context.Context, limit int) ([]*entity.Transfer, error) {
	return s.queryTransfers(ctx, ``, limit)
}

func (s *PostgresStore) CountTransfers(ctx context.Context, address string) (int64, int64, error) {
	var sent, received int64
	err := s.db(ctx).QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE sender = $1), count(*) FILTER (WHERE receiver = $1)
		FROM transfers WHERE sender = $1 OR receiver = $1`, address).Scan(&sent, &received)
	return sent, received, err
}

func (s *PostgresStore) PendingTransfers(ctx context.Context, sender string) ([]*entity.Transfer, error) {
	return s.queryTransfers(ctx, `WHERE sender = $1 AND status = $2`, 0, sender, string(entity.StatusPending))
}

func (s *PostgresStore) InsertSignature(ctx context.Context, sig *entity.Signature) error {
	return s.insert(ctx, `
		INSERT INTO signatures (transfer_hash, signer, payload, signed_at) VALUES ($1, $2, $3, $4)`,
		sig.TransferHash, sig.Signer, sig.Payload, sig.SignedAt)
}

func (s *PostgresStore) HasSignature(ctx context.Context, hash, signer string) (bool, error) {
	var ok bool
	err := s.db(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM signatures WHERE transfer_hash = $1 AND signer = $2)`, hash, signer).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) CountSignatures(ctx context.Context, hash string) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT count(*) FROM signatures WHERE transfer_hash = $1`, hash).Scan(&n)
	return n, err
}
