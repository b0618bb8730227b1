package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/domain"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/notify"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
)

// hybridClock yields strictly increasing values that track wall time in
// nanoseconds but never repeat within the process.
type hybridClock struct {
	mu   sync.Mutex
	last int64
}

func (c *hybridClock) next(now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := now.UnixNano()
	if seq <= c.last {
		seq = c.last + 1
	}
	c.last = seq
	return seq
}

func transferHash(sender, receiver string, units, seq int64, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d|%d|%s",
		sender, receiver, units, seq, now.UnixNano(), uuid.NewString())))
	return hex.EncodeToString(sum[:])
}

type TransferCount struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
	Total    int64 `json:"total"`
}

// Ledger validates, records and answers queries about transfers.
type Ledger struct {
	store    repository.Store
	accounts *AccountStore
	events   dispatcher
	cfg      config.LedgerConfig
	logger   zerolog.Logger
	clock    hybridClock
	hash     func(sender, receiver string, units, seq int64, now time.Time) string
}

func NewLedger(store repository.Store, accounts *AccountStore, notifier notify.Notifier, cfg config.LedgerConfig, logger zerolog.Logger) *Ledger {
	logger = logger.With().Str("component", "ledger").Logger()
	return &Ledger{
		store:    store,
		accounts: accounts,
		events:   newDispatcher(notifier, logger),
		cfg:      withDefaults(cfg),
		logger:   logger,
		hash:     transferHash,
	}
}

type validated struct {
	sender   *entity.Account
	receiver *entity.Account
	units    int64
}

// Validate reports the first failing check without mutating anything:
// addresses, existence, amount, ownership (only when privateKey is set),
// then balance.
func (l *Ledger) Validate(ctx context.Context, sender, receiver string, amount decimal.Decimal, privateKey string) error {
	_, err := l.validate(ctx, sender, receiver, amount, privateKey, false)
	return err
}

func (l *Ledger) validate(ctx context.Context, sender, receiver string, amount decimal.Decimal, privateKey string, requireKey bool) (*validated, error) {
	const op = "Ledger.Validate"
	if sender == "" || receiver == "" {
		return nil, apperrors.New(apperrors.InvalidInput, op, "sender and receiver are required")
	}
	if sender == receiver {
		return nil, apperrors.New(apperrors.InvalidInput, op, "cannot send to the same wallet")
	}
	for _, a := range []string{sender, receiver} {
		if err := domain.ValidateAddress(a); err != nil {
			return nil, err
		}
	}

	from, err := l.accounts.Get(ctx, sender)
	if err != nil {
		return nil, err
	}
	to, err := l.accounts.Get(ctx, receiver)
	if err != nil {
		return nil, err
	}

	units, err := toUnits(op, amount)
	if err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, apperrors.New(apperrors.InvalidInput, op, "amount must be positive")
	}

	if privateKey != "" || requireKey {
		if privateKey == "" || !l.accounts.CheckOwnership(from, privateKey) {
			return nil, apperrors.New(apperrors.Unauthorized, op, "invalid private key for %s", sender)
		}
	}

	if from.Balance < units {
		return nil, apperrors.New(apperrors.InsufficientBalance, op, "insufficient balance in %s", sender)
	}
	return &validated{sender: from, receiver: to, units: units}, nil
}

// Submit validates and records a transfer. Multisig senders get a pending
// record and no balance change; everyone else is settled immediately.
func (l *Ledger) Submit(ctx context.Context, sender, receiver string, amount decimal.Decimal, privateKey string) (*entity.Transfer, error) {
	v, err := l.validate(ctx, sender, receiver, amount, privateKey, true)
	if err != nil {
		return nil, err
	}

	if v.sender.IsMultisig {
		t, err := l.record(ctx, v, entity.StatusPending)
		if err != nil {
			return nil, err
		}
		l.logger.Info().Str("hash", t.Hash).Str("sender", sender).Msg("multisig transfer pending")
		return t, nil
	}

	var t *entity.Transfer
	from, to, err := l.accounts.TransferAtomic(ctx, sender, receiver, v.units, func(ctx context.Context) error {
		var err error
		t, err = l.record(ctx, v, entity.StatusCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("hash", t.Hash).Str("sender", sender).Str("receiver", receiver).Msg("transfer completed")
	l.events.committed(ctx, t, from, to)
	return t, nil
}

// record inserts the transfer, drawing a new hash if the store already has
// the one generated.
func (l *Ledger) record(ctx context.Context, v *validated, status entity.Status) (*entity.Transfer, error) {
	const op = "Ledger.record"
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		now := time.Now().UTC()
		seq := l.clock.next(now)
		t := &entity.Transfer{
			Hash:      l.hash(v.sender.Address, v.receiver.Address, v.units, seq, now),
			Sender:    v.sender.Address,
			Receiver:  v.receiver.Address,
			Amount:    v.units,
			Status:    status,
			Seq:       seq,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := l.store.InsertTransfer(ctx, t)
		if errors.Is(err, repository.ErrDuplicate) {
			l.logger.Warn().Str("hash", t.Hash).Int("attempt", attempt).Msg("transfer hash collision")
			continue
		}
		if err != nil {
			return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
		}
		return t, nil
	}
	return nil, apperrors.New(apperrors.Contention, op, "no unique transfer hash after %d attempts", l.cfg.MaxRetries)
}

func (l *Ledger) Get(ctx context.Context, hash string) (*entity.Transfer, error) {
	const op = "Ledger.Get"
	if hash == "" {
		return nil, apperrors.New(apperrors.InvalidInput, op, "transaction hash is required")
	}
	t, err := l.store.GetTransfer(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.NotFound, op, "transfer %s not found", hash)
	}
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, op, err)
	}
	return t, nil
}

// History lists transfers sent or received by address, newest first.
// limit <= 0 returns the full history.
func (l *Ledger) History(ctx context.Context, address string, limit int) ([]*entity.Transfer, error) {
	if _, err := l.accounts.Get(ctx, address); err != nil {
		return nil, err
	}
	ts, err := l.store.ListTransfers(ctx, address, limit)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, "Ledger.History", err)
	}
	return ts, nil
}

// Recent lists the latest transfers across all accounts.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*entity.Transfer, error) {
	if limit <= 0 {
		limit = l.cfg.DefaultHistoryLimit
	}
	ts, err := l.store.RecentTransfers(ctx, limit)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, "Ledger.Recent", err)
	}
	return ts, nil
}

func (l *Ledger) Count(ctx context.Context, address string) (*TransferCount, error) {
	if _, err := l.accounts.Get(ctx, address); err != nil {
		return nil, err
	}
	sent, received, err := l.store.CountTransfers(ctx, address)
	if err != nil {
		return nil, apperrors.WrapWithCode(apperrors.Fatal, "Ledger.Count", err)
	}
	return &TransferCount{Sent: sent, Received: received, Total: sent + received}, nil
}
