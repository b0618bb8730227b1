package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linlinbupt123-crypto/ledger_service/domain"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
)

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Accounts.Create(ctx, dec("12.345678919"))
	require.NoError(t, err)
	require.NoError(t, domain.ValidateAddress(created.Account.Address))
	assert.Equal(t, int64(1_234_567_892), created.Account.Balance)
	assert.True(t, domain.VerifyOwnership(created.Account.Address, created.PrivateKey))
	assert.True(t, domain.MatchFingerprint(created.Account.KeyFingerprint, created.PrivateKey))
	assert.False(t, created.Account.IsMultisig)

	stored, err := f.svc.Accounts.Get(ctx, created.Account.Address)
	require.NoError(t, err)
	assert.Equal(t, created.Account.Balance, stored.Balance)

	body, err := json.Marshal(stored)
	require.NoError(t, err)
	assert.NotContains(t, string(body), created.PrivateKey)
	assert.NotContains(t, string(body), "pbkdf2")
}

func TestCreateAccountRejectsNegative(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accounts.Create(context.Background(), dec("-1"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCreateAccountDuplicateAddress(t *testing.T) {
	f := newFixture(t)
	priv, pub, err := domain.GenerateKeypair()
	require.NoError(t, err)
	calls := 0
	f.svc.Accounts.keygen = func() (string, string, error) {
		calls++
		return priv, pub, nil
	}

	_, err = f.svc.Accounts.Create(context.Background(), dec("1"))
	require.NoError(t, err)

	_, err = f.svc.Accounts.Create(context.Background(), dec("1"))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateAddress)
	assert.Equal(t, 1+testConfig().MaxRetries, calls)
}

func TestGetAccountErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accounts.Get(context.Background(), "bogus")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Accounts.Get(context.Background(), missingAddress(1))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDebitCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.wallet(t, "10")

	acc, err := f.svc.Accounts.Debit(ctx, a.Address, 400_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000_000), acc.Balance)

	_, err = f.svc.Accounts.Debit(ctx, a.Address, 600_000_001)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
	assert.Equal(t, "6.00000000", f.balance(t, a.Address))

	acc, err = f.svc.Accounts.Credit(ctx, a.Address, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000_001), acc.Balance)

	_, err = f.svc.Accounts.Credit(ctx, a.Address, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConcurrentDoubleDebit(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		a := f.wallet(t, "5")
		b := f.wallet(t, "0")
		c := f.wallet(t, "0")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, to := range []string{b.Address, c.Address} {
			wg.Add(1)
			go func(i int, to string) {
				defer wg.Done()
				_, _, errs[i] = f.svc.Accounts.TransferAtomic(context.Background(), a.Address, to, 500_000_000, nil)
			}(i, to)
		}
		wg.Wait()

		ok, insufficient := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case apperrors.Is(err, apperrors.InsufficientBalance):
				insufficient++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, insufficient)
		assert.Equal(t, "0.00000000", f.balance(t, a.Address))
	}
}

func TestConcurrentTransfersConserveFunds(t *testing.T) {
	f := newFixture(t)
	wallets := []*WalletView{f.wallet(t, "3"), f.wallet(t, "3"), f.wallet(t, "3")}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			from := r.Intn(len(wallets))
			to := (from + 1 + r.Intn(len(wallets)-1)) % len(wallets)
			_, _, err := f.svc.Accounts.TransferAtomic(context.Background(),
				wallets[from].Address, wallets[to].Address, int64(1+r.Intn(200_000_000)), nil)
			if err != nil && !apperrors.Is(err, apperrors.InsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	var total int64
	for _, w := range wallets {
		acc, err := f.svc.Accounts.Get(context.Background(), w.Address)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, acc.Balance, int64(0))
		total += acc.Balance
	}
	assert.Equal(t, int64(900_000_000), total)
}

func TestTransferAtomicRollsBackOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	a := f.wallet(t, "10")
	b := f.wallet(t, "1")

	boom := errors.New("boom")
	_, _, err := f.svc.Accounts.TransferAtomic(context.Background(), a.Address, b.Address, 300_000_000, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "10.00000000", f.balance(t, a.Address))
	assert.Equal(t, "1.00000000", f.balance(t, b.Address))
}

func TestTransferAtomicRollsBackOnCreditFailure(t *testing.T) {
	f := newFixture(t)
	a := f.wallet(t, "10")

	_, _, err := f.svc.Accounts.TransferAtomic(context.Background(), a.Address, missingAddress(7), 300_000_000, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "10.00000000", f.balance(t, a.Address))
}

// conflictStore loses every balance compare-and-set.
type conflictStore struct {
	*repository.MemStore
}

func (conflictStore) SetBalance(context.Context, string, int64, int64) error {
	return repository.ErrConflict
}

func TestApplyContention(t *testing.T) {
	mem := repository.NewMemStore()
	cfg := testConfig()
	accounts := NewAccountStore(conflictStore{mem}, cfg, zerolog.Nop())
	created, err := accounts.Create(context.Background(), dec("1"))
	require.NoError(t, err)

	_, err = accounts.Debit(context.Background(), created.Account.Address, 1)
	assert.ErrorIs(t, err, apperrors.ErrContention)
	assert.True(t, apperrors.CodeOf(err).Retryable())
}

// pausingStore starts a reader on a separate goroutine right before the
// receiver's balance is written, while the sender is already debited.
type pausingStore struct {
	*repository.MemStore
	receiver string
	reader   func()
	once     sync.Once
}

func (p *pausingStore) SetBalance(ctx context.Context, address string, balance, expectedVersion int64) error {
	if address == p.receiver {
		p.once.Do(p.reader)
	}
	return p.MemStore.SetBalance(ctx, address, balance, expectedVersion)
}

func TestTransferNotVisibleHalfApplied(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{MemStore: repository.NewMemStore()}
	svc := NewWalletService(store, newRecordingNotifier(), testConfig(), zerolog.Nop())

	a, err := svc.CreateAccount(ctx, dec("100"))
	require.NoError(t, err)
	b, err := svc.CreateAccount(ctx, dec("0"))
	require.NoError(t, err)

	type view struct {
		sum     string
		history int
	}
	seen := make(chan view, 1)
	store.receiver = b.Address
	store.reader = func() {
		go func() {
			balA, errA := svc.GetBalance(ctx, a.Address)
			balB, errB := svc.GetBalance(ctx, b.Address)
			history, errH := svc.GetHistory(ctx, a.Address, 0)
			if errA != nil || errB != nil || errH != nil {
				seen <- view{}
				return
			}
			seen <- view{sum: balA.Add(balB).StringFixed(8), history: len(history)}
		}()
		time.Sleep(20 * time.Millisecond)
	}

	_, err = svc.SubmitTransfer(ctx, a.Address, b.Address, dec("40"), a.PrivateKey)
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "100.00000000", got.sum)
	assert.Equal(t, 1, got.history)
	assert.Equal(t, "60.00000000", balanceOf(t, svc, a.Address))
	assert.Equal(t, "40.00000000", balanceOf(t, svc, b.Address))
}

func balanceOf(t *testing.T, svc *WalletService, address string) string {
	t.Helper()
	b, err := svc.GetBalance(context.Background(), address)
	require.NoError(t, err)
	return b.StringFixed(8)
}

// failingCommitStore refuses transfer records, so every settlement fails at
// the commit step after both balances were written.
type failingCommitStore struct {
	*repository.MemStore
}

func (failingCommitStore) InsertTransfer(context.Context, *entity.Transfer) error {
	return errors.New("disk full")
}

func TestSubmitLeavesNothingWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	store := failingCommitStore{repository.NewMemStore()}
	svc := NewWalletService(store, newRecordingNotifier(), testConfig(), zerolog.Nop())
	a, err := svc.CreateAccount(ctx, dec("100"))
	require.NoError(t, err)
	b, err := svc.CreateAccount(ctx, dec("0"))
	require.NoError(t, err)

	_, err = svc.SubmitTransfer(ctx, a.Address, b.Address, dec("40"), a.PrivateKey)
	assert.ErrorIs(t, err, apperrors.ErrFatal)
	assert.Equal(t, "100.00000000", balanceOf(t, svc, a.Address))
	assert.Equal(t, "0.00000000", balanceOf(t, svc, b.Address))

	stored, err := store.GetAccount(ctx, a.Address)
	require.NoError(t, err)
	assert.Zero(t, stored.Version)
}
