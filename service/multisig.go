package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/domain"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/notify"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
)

const minOwners = 2

var errAlreadySettled = errors.New("transfer already left pending")

// Approval is the signature state of one transfer after a signature or an
// evaluation. Settled is set only by the call that moved the funds.
type Approval struct {
	Transfer   *entity.Transfer `json:"transfer"`
	Signatures int              `json:"signatures_count"`
	Required   int              `json:"required_signatures"`
	Approved   bool             `json:"is_approved"`
	Settled    bool             `json:"settled"`
}

type PendingTransfer struct {
	Transfer           *entity.Transfer `json:"transfer"`
	SignatureCount     int              `json:"signatures_count"`
	RequiredSignatures int              `json:"required_signatures"`
	IsApproved         bool             `json:"is_approved"`
}

// Coordinator runs the multisig approval flow. Signatures and settlement for
// one transfer hash are serialized by a per-hash lock; the hash lock is always
// taken before any account lock.
type Coordinator struct {
	store     repository.Store
	accounts  *AccountStore
	hashLocks *keyedLocker
	events    dispatcher
	cfg       config.LedgerConfig
	logger    zerolog.Logger
}

func NewCoordinator(store repository.Store, accounts *AccountStore, notifier notify.Notifier, cfg config.LedgerConfig, logger zerolog.Logger) *Coordinator {
	logger = logger.With().Str("component", "multisig").Logger()
	return &Coordinator{
		store:     store,
		accounts:  accounts,
		hashLocks: newKeyedLocker(),
		events:    newDispatcher(notifier, logger),
		cfg:       withDefaults(cfg),
		logger:    logger,
	}
}

func (c *Coordinator) CreateMultisigAccount(ctx context.Context, owners []string, required int, initialBalance decimal.Decimal) (*CreatedAccount, error) {
	const op = "Coordinator.CreateMultisigAccount"
	if len(owners) < minOwners {
		return nil, apperrors.New(apperrors.InvalidConfiguration, op, "need at least %d owners, got %d", minOwners, len(owners))
	}
	seen := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		if err := domain.ValidateAddress(o); err != nil {
			return nil, apperrors.WrapWithCode(apperrors.InvalidConfiguration, op, err)
		}
		if _, dup := seen[o]; dup {
			return nil, apperrors.New(apperrors.InvalidConfiguration, op, "owner %s listed twice", o)
		}
		seen[o] = struct{}{}
	}
	for _, o := range owners {
		if _, err := c.accounts.Get(ctx, o); err != nil {
			if apperrors.Is(err, apperrors.NotFound) {
				return nil, apperrors.WrapWithCode(apperrors.InvalidConfiguration, op, err)
			}
			return nil, err
		}
	}
	if required < 1 || required > len(owners) {
		return nil, apperrors.New(apperrors.InvalidConfiguration, op, "required signatures must be between 1 and %d", len(owners))
	}

	created, err := c.accounts.create(ctx, initialBalance, owners, required)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("address", created.Account.Address).Int("owners", len(owners)).Int("required", required).Msg("multisig account created")
	return created, nil
}

// AddSignature records signer's approval of a pending transfer and settles it
// once the threshold is reached.
func (c *Coordinator) AddSignature(ctx context.Context, hash, signer, payload string) (*Approval, error) {
	const op = "Coordinator.AddSignature"
	if hash == "" || signer == "" {
		return nil, apperrors.New(apperrors.InvalidInput, op, "transaction hash and signer are required")
	}
	if err := domain.ValidateAddress(signer); err != nil {
		return nil, err
	}
	defer c.hashLocks.lock(hash)()

	t, err := c.transfer(ctx, op, hash)
	if err != nil {
		return nil, err
	}
	signed, err := c.store.HasSignature(ctx, hash, signer)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	if signed {
		return nil, apperrors.New(apperrors.AlreadySigned, op, "%s already signed %s", signer, hash)
	}
	owner, err := c.IsOwner(ctx, t.Sender, signer)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, apperrors.New(apperrors.NotAnOwner, op, "%s is not an owner of %s", signer, t.Sender)
	}
	if t.Status.Terminal() {
		return nil, apperrors.New(apperrors.TransferNotPending, op, "transfer %s is %s", hash, t.Status)
	}
	if c.cfg.VerifySignatures {
		recovered, err := domain.RecoverSigner(hash, payload)
		if err != nil {
			return nil, apperrors.WrapWithCode(apperrors.Unauthorized, op, err)
		}
		if recovered != signer {
			return nil, apperrors.New(apperrors.Unauthorized, op, "signature was not made by %s", signer)
		}
	}

	err = c.store.InsertSignature(ctx, &entity.Signature{
		TransferHash: hash,
		Signer:       signer,
		Payload:      payload,
		SignedAt:     time.Now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperrors.New(apperrors.AlreadySigned, op, "%s already signed %s", signer, hash)
	}
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	c.logger.Info().Str("hash", hash).Str("signer", signer).Msg("signature added")
	return c.evaluate(ctx, t)
}

// Evaluate settles the transfer if it is pending and has enough signatures.
// Calling it again after settlement changes nothing.
func (c *Coordinator) Evaluate(ctx context.Context, hash string) (*Approval, error) {
	defer c.hashLocks.lock(hash)()
	t, err := c.transfer(ctx, "Coordinator.Evaluate", hash)
	if err != nil {
		return nil, err
	}
	return c.evaluate(ctx, t)
}

func (c *Coordinator) approval(ctx context.Context, t *entity.Transfer) (*Approval, error) {
	sender, err := c.accounts.Get(ctx, t.Sender)
	if err != nil {
		return nil, err
	}
	if !sender.IsMultisig {
		return &Approval{Transfer: t, Signatures: 0, Required: 1, Approved: true}, nil
	}
	n, err := c.store.CountSignatures(ctx, t.Hash)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, "Coordinator.approval", err)
	}
	required := sender.Required()
	return &Approval{Transfer: t, Signatures: n, Required: required, Approved: n >= required}, nil
}

// evaluate runs under the hash lock.
func (c *Coordinator) evaluate(ctx context.Context, t *entity.Transfer) (*Approval, error) {
	const op = "Coordinator.Evaluate"
	ap, err := c.approval(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() || !ap.Approved {
		return ap, nil
	}

	from, to, err := c.accounts.TransferAtomic(ctx, t.Sender, t.Receiver, t.Amount, func(ctx context.Context) error {
		err := c.store.UpdateTransferStatus(ctx, t.Hash, entity.StatusPending, entity.StatusCompleted)
		if errors.Is(err, repository.ErrConflict) {
			return errAlreadySettled
		}
		return apperrors.WrapWithCode(apperrors.Fatal, op, err)
	})
	switch {
	case err == nil:
	case errors.Is(err, errAlreadySettled):
		c.logger.Info().Str("hash", t.Hash).Msg("transfer settled elsewhere")
		return c.reload(ctx, ap)
	case apperrors.Is(err, apperrors.InsufficientBalance):
		if ferr := c.store.UpdateTransferStatus(ctx, t.Hash, entity.StatusPending, entity.StatusFailed); ferr != nil && !errors.Is(ferr, repository.ErrConflict) {
			return nil, apperrors.WrapWithCode(apperrors.Fatal, op, ferr)
		}
		t.Status = entity.StatusFailed
		c.logger.Warn().Str("hash", t.Hash).Str("sender", t.Sender).Msg("approved transfer failed on balance")
		return ap, err
	default:
		return nil, err
	}

	t.Status = entity.StatusCompleted
	t.UpdatedAt = time.Now().UTC()
	ap.Settled = true
	c.logger.Info().Str("hash", t.Hash).Int("signatures", ap.Signatures).Msg("multisig transfer completed")
	c.events.committed(ctx, t, from, to)
	return ap, nil
}

func (c *Coordinator) reload(ctx context.Context, ap *Approval) (*Approval, error) {
	t, err := c.transfer(ctx, "Coordinator.Evaluate", ap.Transfer.Hash)
	if err != nil {
		return nil, err
	}
	ap.Transfer = t
	return ap, nil
}

func (c *Coordinator) transfer(ctx context.Context, op, hash string) (*entity.Transfer, error) {
	t, err := c.store.GetTransfer(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.NotFound, op, "transfer %s not found", hash)
	}
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	return t, nil
}

// PendingFor lists the pending transfers sent by address with their
// approval state.
func (c *Coordinator) PendingFor(ctx context.Context, address string) ([]PendingTransfer, error) {
	const op = "Coordinator.PendingFor"
	if _, err := c.accounts.Get(ctx, address); err != nil {
		return nil, err
	}
	ts, err := c.store.PendingTransfers(ctx, address)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	out := make([]PendingTransfer, 0, len(ts))
	for _, t := range ts {
		ap, err := c.approval(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingTransfer{
			Transfer:           t,
			SignatureCount:     ap.Signatures,
			RequiredSignatures: ap.Required,
			IsApproved:         ap.Approved,
		})
	}
	return out, nil
}

// Owners returns the owners of a multisig account, empty for plain accounts.
func (c *Coordinator) Owners(ctx context.Context, address string) ([]string, error) {
	account, err := c.accounts.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if !account.IsMultisig {
		return []string{}, nil
	}
	owners, err := c.store.Owners(ctx, address)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, "Coordinator.Owners", err)
	}
	return owners, nil
}

func (c *Coordinator) IsOwner(ctx context.Context, wallet, address string) (bool, error) {
	owners, err := c.Owners(ctx, wallet)
	if err != nil {
		return false, err
	}
	for _, o := range owners {
		if o == address {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) SignatureCount(ctx context.Context, hash string) (int, error) {
	const op = "Coordinator.SignatureCount"
	if _, err := c.transfer(ctx, op, hash); err != nil {
		return 0, err
	}
	n, err := c.store.CountSignatures(ctx, hash)
	if err != nil {
		return 0, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	return n, nil
}

// IsApproved reports whether the transfer has reached its threshold. Plain
// senders are always approved.
func (c *Coordinator) IsApproved(ctx context.Context, hash string) (bool, error) {
	t, err := c.transfer(ctx, "Coordinator.IsApproved", hash)
	if err != nil {
		return false, err
	}
	ap, err := c.approval(ctx, t)
	if err != nil {
		return false, err
	}
	return ap.Approved, nil
}
