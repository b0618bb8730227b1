package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/domain"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/notify"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

// WalletView is what callers see after creating an account. PrivateKey is
// only ever filled in on creation.
type WalletView struct {
	Address            string          `json:"address"`
	PrivateKey         string          `json:"private_key,omitempty"`
	Balance            decimal.Decimal `json:"balance"`
	IsMultisig         bool            `json:"is_multisig"`
	RequiredSignatures int             `json:"required_signatures,omitempty"`
	Owners             []string        `json:"owners,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func newWalletView(c *CreatedAccount) *WalletView {
	v := &WalletView{
		Address:    c.Account.Address,
		PrivateKey: c.PrivateKey,
		Balance:    utils.FromUnits(c.Account.Balance),
		IsMultisig: c.Account.IsMultisig,
		Owners:     c.Owners,
		CreatedAt:  c.Account.CreatedAt,
	}
	if v.IsMultisig {
		v.RequiredSignatures = c.Account.RequiredSignatures
	}
	return v
}

// WalletService is the public face of the ledger used by the HTTP layer.
type WalletService struct {
	Accounts *AccountStore
	Ledger   *Ledger
	Multisig *Coordinator
}

func NewWalletService(store repository.Store, notifier notify.Notifier, cfg config.LedgerConfig, logger zerolog.Logger) *WalletService {
	accounts := NewAccountStore(store, cfg, logger)
	return &WalletService{
		Accounts: accounts,
		Ledger:   NewLedger(store, accounts, notifier, cfg, logger),
		Multisig: NewCoordinator(store, accounts, notifier, cfg, logger),
	}
}

func (s *WalletService) CreateAccount(ctx context.Context, initialBalance decimal.Decimal) (*WalletView, error) {
	created, err := s.Accounts.Create(ctx, initialBalance)
	if err != nil {
		return nil, err
	}
	return newWalletView(created), nil
}

func (s *WalletService) CreateMultisigAccount(ctx context.Context, owners []string, required int, initialBalance decimal.Decimal) (*WalletView, error) {
	created, err := s.Multisig.CreateMultisigAccount(ctx, owners, required, initialBalance)
	if err != nil {
		return nil, err
	}
	return newWalletView(created), nil
}

func (s *WalletService) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	account, err := s.Accounts.Get(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return utils.FromUnits(account.Balance), nil
}

func (s *WalletService) SubmitTransfer(ctx context.Context, sender, receiver string, amount decimal.Decimal, privateKey string) (*entity.Transfer, error) {
	return s.Ledger.Submit(ctx, sender, receiver, amount, privateKey)
}

func (s *WalletService) GetTransfer(ctx context.Context, hash string) (*entity.Transfer, error) {
	return s.Ledger.Get(ctx, hash)
}

func (s *WalletService) GetHistory(ctx context.Context, address string, limit int) ([]*entity.Transfer, error) {
	return s.Ledger.History(ctx, address, limit)
}

// AddSignature returns true once the signature is recorded.
func (s *WalletService) AddSignature(ctx context.Context, hash, signer, signature string) (bool, error) {
	if _, err := s.Multisig.AddSignature(ctx, hash, signer, signature); err != nil {
		return false, err
	}
	return true, nil
}

func (s *WalletService) GetPending(ctx context.Context, address string) ([]PendingTransfer, error) {
	return s.Multisig.PendingFor(ctx, address)
}

// VerifyOwnership fails only for a malformed address or a missing account;
// a wrong or garbled key is a plain false.
func (s *WalletService) VerifyOwnership(ctx context.Context, address, privateKey string) (bool, error) {
	if err := domain.ValidateAddress(address); err != nil {
		return false, err
	}
	account, err := s.Accounts.Get(ctx, address)
	if err != nil {
		return false, err
	}
	return s.Accounts.CheckOwnership(account, privateKey), nil
}

func (s *WalletService) GetTransferCount(ctx context.Context, address string) (*TransferCount, error) {
	return s.Ledger.Count(ctx, address)
}

func (s *WalletService) GetOwners(ctx context.Context, address string) ([]string, error) {
	return s.Multisig.Owners(ctx, address)
}

func (s *WalletService) GetRecent(ctx context.Context, limit int) ([]*entity.Transfer, error) {
	return s.Ledger.Recent(ctx, limit)
}
