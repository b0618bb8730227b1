package repository

import (
	"context"
	"errors"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict means a compare-and-set lost: the version or status on
	// record no longer matches what the caller read.
	ErrConflict = errors.New("write conflict")
)

type AccountRepository interface {
	InsertAccount(ctx context.Context, account *entity.Account) error
	GetAccount(ctx context.Context, address string) (*entity.Account, error)
	// SetBalance writes balance and bumps the version only if the stored
	// version still equals expectedVersion.
	SetBalance(ctx context.Context, address string, balance, expectedVersion int64) error
}

type OwnerRepository interface {
	InsertOwners(ctx context.Context, wallet string, owners []string) error
	// Owners returns the owner addresses of wallet in insertion order.
	Owners(ctx context.Context, wallet string) ([]string, error)
}

type TransferRepository interface {
	InsertTransfer(ctx context.Context, transfer *entity.Transfer) error
	GetTransfer(ctx context.Context, hash string) (*entity.Transfer, error)
	UpdateTransferStatus(ctx context.Context, hash string, from, to entity.Status) error
	// ListTransfers returns transfers sent or received by address, newest
	// first. limit <= 0 returns everything.
	ListTransfers(ctx context.Context, address string, limit int) ([]*entity.Transfer, error)
	RecentTransfers(ctx context.Context, limit int) ([]*entity.Transfer, error)
	CountTransfers(ctx context.Context, address string) (sent, received int64, err error)
	PendingTransfers(ctx context.Context, sender string) ([]*entity.Transfer, error)
}

type SignatureRepository interface {
	InsertSignature(ctx context.Context, sig *entity.Signature) error
	HasSignature(ctx context.Context, hash, signer string) (bool, error)
	CountSignatures(ctx context.Context, hash string) (int, error)
}

// TxRunner groups writes into one unit of work. Every write made through the
// ctx handed to fn commits together, or none does when fn returns an error.
// Readers outside the unit never observe part of it. Calling RunInTx with a
// ctx that already carries a unit of work joins it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the persistence handle passed to the ledger services.
type Store interface {
	TxRunner
	AccountRepository
	OwnerRepository
	TransferRepository
	SignatureRepository
}
