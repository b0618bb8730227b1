package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/domain"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

// CreatedAccount carries the private key, which is shown exactly once.
type CreatedAccount struct {
	Account    *entity.Account
	PrivateKey string
	Owners     []string
}

// AccountStore owns every balance mutation. Writes hold the per-address lock
// and land through a version compare-and-set in the store.
type AccountStore struct {
	store  repository.Store
	locks  *keyedLocker
	cfg    config.LedgerConfig
	logger zerolog.Logger
	keygen func() (string, string, error)
}

func NewAccountStore(store repository.Store, cfg config.LedgerConfig, logger zerolog.Logger) *AccountStore {
	return &AccountStore{
		store:  store,
		locks:  newKeyedLocker(),
		cfg:    withDefaults(cfg),
		logger: logger.With().Str("component", "accounts").Logger(),
		keygen: domain.GenerateKeypair,
	}
}

// toUnits converts an API amount to ledger units. Negative values and values
// beyond int64 are InvalidInput. Zero passes; callers decide if it is allowed.
func toUnits(op string, amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, apperrors.New(apperrors.InvalidInput, op, "amount %s is negative", amount.String())
	}
	units, err := utils.ToUnits(amount)
	if err != nil {
		return 0, apperrors.WrapWithCode(apperrors.InvalidInput, op, err)
	}
	return units, nil
}

func (s *AccountStore) Create(ctx context.Context, initialBalance decimal.Decimal) (*CreatedAccount, error) {
	return s.create(ctx, initialBalance, nil, 0)
}

// create inserts a new account. A non-empty owners list makes it multisig;
// the account and its owners are written as one unit of work.
func (s *AccountStore) create(ctx context.Context, initialBalance decimal.Decimal, owners []string, required int) (*CreatedAccount, error) {
	const op = "AccountStore.Create"
	units, err := toUnits(op, initialBalance)
	if err != nil {
		return nil, err
	}
	multisig := len(owners) > 0

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		priv, pub, err := s.keygen()
		if err != nil {
			return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
		}
		address, err := domain.DeriveAddress(pub)
		if err != nil {
			return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
		}
		fingerprint, err := domain.Fingerprint(priv, s.cfg.FingerprintIterations)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		account := &entity.Account{
			Address:            address,
			Balance:            units,
			IsMultisig:         multisig,
			RequiredSignatures: required,
			KeyFingerprint:     fingerprint,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if !multisig {
			account.RequiredSignatures = 1
		}

		err = s.store.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.InsertAccount(ctx, account); err != nil {
				return err
			}
			if !multisig {
				return nil
			}
			if err := s.store.InsertOwners(ctx, address, owners); err != nil {
				return apperrors.WrapWithCode(apperrors.Fatal, op, fmt.Errorf("store owners: %w", err))
			}
			return nil
		})
		var appErr *apperrors.AppError
		if errors.Is(err, repository.ErrDuplicate) && !errors.As(err, &appErr) {
			s.logger.Warn().Str("address", address).Int("attempt", attempt).Msg("derived address already taken, regenerating")
			continue
		}
		if err != nil {
			if !errors.As(err, &appErr) {
				err = apperrors.WrapWithCode(apperrors.Fatal, op, err)
			}
			return nil, err
		}
		s.logger.Info().Str("address", address).Bool("multisig", multisig).Msg("account created")
		created := &CreatedAccount{Account: account, PrivateKey: priv}
		if multisig {
			created.Owners = append([]string(nil), owners...)
		}
		return created, nil
	}
	return nil, apperrors.New(apperrors.DuplicateAddress, op, "no free address after %d attempts", s.cfg.MaxRetries)
}

func (s *AccountStore) Get(ctx context.Context, address string) (*entity.Account, error) {
	const op = "AccountStore.Get"
	if err := domain.ValidateAddress(address); err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, address)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.NotFound, op, "account %s not found", address)
	}
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	return account, nil
}

// CheckOwnership runs the fingerprint pre-check, then proves the key by
// regenerating the address.
func (s *AccountStore) CheckOwnership(account *entity.Account, privateKey string) bool {
	if account.KeyFingerprint != "" && !domain.MatchFingerprint(account.KeyFingerprint, privateKey) {
		return false
	}
	return domain.VerifyOwnership(account.Address, privateKey)
}

func (s *AccountStore) Debit(ctx context.Context, address string, units int64) (*entity.Account, error) {
	if units <= 0 {
		return nil, apperrors.New(apperrors.InvalidInput, "AccountStore.Debit", "amount must be positive")
	}
	defer s.locks.lock(address)()
	return s.apply(ctx, address, -units)
}

func (s *AccountStore) Credit(ctx context.Context, address string, units int64) (*entity.Account, error) {
	if units <= 0 {
		return nil, apperrors.New(apperrors.InvalidInput, "AccountStore.Credit", "amount must be positive")
	}
	defer s.locks.lock(address)()
	return s.apply(ctx, address, units)
}

// apply adds delta to the balance with a version CAS, re-reading on
// conflict. The caller holds the address lock.
func (s *AccountStore) apply(ctx context.Context, address string, delta int64) (*entity.Account, error) {
	const op = "AccountStore.apply"
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		account, err := s.Get(ctx, address)
		if err != nil {
			return nil, err
		}
		next := account.Balance + delta
		if next < 0 {
			return nil, apperrors.New(apperrors.InsufficientBalance, op, "balance of %s is %s", address, utils.FormatUnits(account.Balance))
		}
		if delta > 0 && next < account.Balance {
			return nil, apperrors.New(apperrors.InvalidInput, op, "balance of %s would overflow", address)
		}

		err = s.store.SetBalance(ctx, address, next, account.Version)
		switch {
		case err == nil:
			account.Balance = next
			account.Version++
			return account, nil
		case errors.Is(err, repository.ErrConflict):
			s.logger.Debug().Str("address", address).Int("attempt", attempt).Msg("balance version conflict")
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.New(apperrors.NotFound, op, "account %s not found", address)
		default:
			return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
		}
	}
	s.logger.Warn().Str("address", address).Int("attempts", s.cfg.MaxRetries).Msg("balance update gave up")
	return nil, apperrors.New(apperrors.Contention, op, "balance of %s kept changing", address)
}

// TransferAtomic moves units from sender to receiver while holding both
// address locks. The debit, the credit and commit run as one unit of work in
// the store: if any of them fails nothing is written and readers never see a
// partial transfer.
func (s *AccountStore) TransferAtomic(ctx context.Context, sender, receiver string, units int64, commit func(context.Context) error) (*entity.Account, *entity.Account, error) {
	const op = "AccountStore.TransferAtomic"
	if units <= 0 {
		return nil, nil, apperrors.New(apperrors.InvalidInput, op, "amount must be positive")
	}
	if sender == receiver {
		return nil, nil, apperrors.New(apperrors.InvalidInput, op, "sender and receiver are the same account")
	}
	defer s.locks.lock(sender, receiver)()

	var from, to *entity.Account
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if from, err = s.apply(ctx, sender, -units); err != nil {
			return err
		}
		if to, err = s.apply(ctx, receiver, units); err != nil {
			return err
		}
		if commit != nil {
			return commit(ctx)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.WrapWithCode(apperrors.Fatal, op, err)
		}
		s.logger.Debug().Err(err).Str("sender", sender).Str("receiver", receiver).Msg("transfer not applied")
		return nil, nil, err
	}
	return from, to, nil
}
