package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func seedAccount(t *testing.T, s Store, address string, balance int64) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.InsertAccount(context.Background(), &entity.Account{
		Address:   address,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func newTransfer(hash, from, to string, amount, seq int64, status entity.Status) *entity.Transfer {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &entity.Transfer{
		Hash: hash, Sender: from, Receiver: to, Amount: amount,
		Status: status, Seq: seq, CreatedAt: now, UpdatedAt: now,
	}
}

func hashes(ts []*entity.Transfer) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Hash)
	}
	return out
}

// testStoreContract checks the behaviour every Store implementation shares.
// It expects an empty store.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	a, b, c, w := addr(1), addr(2), addr(3), addr(4)
	seedAccount(t, s, a, 100)
	seedAccount(t, s, b, 0)
	seedAccount(t, s, c, 0)
	seedAccount(t, s, w, 50)

	// accounts
	err := s.InsertAccount(ctx, &entity.Account{Address: a, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetAccount(ctx, addr(99))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetBalance(ctx, a, 70, 0))
	got, err := s.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.Balance)
	assert.Equal(t, int64(1), got.Version)

	assert.ErrorIs(t, s.SetBalance(ctx, a, 10, 0), ErrConflict)
	assert.ErrorIs(t, s.SetBalance(ctx, addr(99), 10, 0), ErrNotFound)
	got, err = s.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got.Balance)

	// owners
	require.NoError(t, s.InsertOwners(ctx, w, []string{b, a}))
	owners, err := s.Owners(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, owners)
	assert.ErrorIs(t, s.InsertOwners(ctx, w, []string{a}), ErrDuplicate)
	none, err := s.Owners(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, none)

	// transfers
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("h1", a, b, 10, 1, entity.StatusCompleted)))
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("h2", b, c, 5, 2, entity.StatusCompleted)))
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("h3", w, a, 7, 3, entity.StatusPending)))
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("h4", w, c, 1, 4, entity.StatusPending)))
	assert.ErrorIs(t, s.InsertTransfer(ctx, newTransfer("h1", a, c, 1, 5, entity.StatusCompleted)), ErrDuplicate)

	tr, err := s.GetTransfer(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, b, tr.Sender)
	assert.Equal(t, int64(5), tr.Amount)
	assert.Equal(t, entity.StatusCompleted, tr.Status)
	_, err = s.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListTransfers(ctx, a, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", "h1"}, hashes(list))
	list, err = s.ListTransfers(ctx, a, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"h3"}, hashes(list))
	list, err = s.ListTransfers(ctx, addr(99), 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	recent, err := s.RecentTransfers(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"h4", "h3", "h2"}, hashes(recent))

	sent, received, err := s.CountTransfers(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(1), received)

	pending, err := s.PendingTransfers(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"h4", "h3"}, hashes(pending))

	require.NoError(t, s.UpdateTransferStatus(ctx, "h3", entity.StatusPending, entity.StatusCompleted))
	assert.ErrorIs(t, s.UpdateTransferStatus(ctx, "h3", entity.StatusPending, entity.StatusCompleted), ErrConflict)
	assert.ErrorIs(t, s.UpdateTransferStatus(ctx, "missing", entity.StatusPending, entity.StatusFailed), ErrNotFound)
	pending, err = s.PendingTransfers(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"h4"}, hashes(pending))

	// signatures
	sig := &entity.Signature{TransferHash: "h4", Signer: a, Payload: "p", SignedAt: time.Now().UTC()}
	require.NoError(t, s.InsertSignature(ctx, sig))
	assert.ErrorIs(t, s.InsertSignature(ctx, sig), ErrDuplicate)
	require.NoError(t, s.InsertSignature(ctx, &entity.Signature{TransferHash: "h4", Signer: b, SignedAt: time.Now().UTC()}))

	ok, err := s.HasSignature(ctx, "h4", a)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasSignature(ctx, "h4", c)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountSignatures(ctx, "h4")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CountSignatures(ctx, "h1")
	require.NoError(t, err)
	assert.Zero(t, n)

	testUnitOfWork(t, s)
}

// testUnitOfWork checks that RunInTx commits all of its writes or none.
func testUnitOfWork(t *testing.T, s Store) {
	ctx := context.Background()
	x, y := addr(10), addr(11)
	seedAccount(t, s, x, 100)
	seedAccount(t, s, y, 0)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.SetBalance(ctx, x, 60, 0))
		require.NoError(t, s.SetBalance(ctx, y, 40, 0))
		require.NoError(t, s.InsertTransfer(ctx, newTransfer("tx-undone", x, y, 40, 100, entity.StatusCompleted)))
		require.NoError(t, s.InsertOwners(ctx, y, []string{x}))
		require.NoError(t, s.InsertSignature(ctx, &entity.Signature{TransferHash: "tx-undone", Signer: x, SignedAt: time.Now().UTC()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
	assert.Equal(t, int64(0), got.Version)
	got, err = s.GetAccount(ctx, y)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)
	_, err = s.GetTransfer(ctx, "tx-undone")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := s.ListTransfers(ctx, x, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	owners, err := s.Owners(ctx, y)
	require.NoError(t, err)
	assert.Empty(t, owners)
	n, err := s.CountSignatures(ctx, "tx-undone")
	require.NoError(t, err)
	assert.Zero(t, n)

	// A duplicate inside the unit leaves it usable.
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, s.InsertTransfer(ctx, newTransfer("h1", x, y, 1, 101, entity.StatusCompleted)), ErrDuplicate)
		if err := s.SetBalance(ctx, x, 60, 0); err != nil {
			return err
		}
		if err := s.SetBalance(ctx, y, 40, 0); err != nil {
			return err
		}
		return s.InsertTransfer(ctx, newTransfer("tx-done", x, y, 40, 102, entity.StatusCompleted))
	})
	require.NoError(t, err)

	got, err = s.GetAccount(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Balance)
	got, err = s.GetAccount(ctx, y)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
	list, err = s.ListTransfers(ctx, y, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-done"}, hashes(list))
}

func TestMemStoreContract(t *testing.T) {
	testStoreContract(t, NewMemStore())
}

func TestMemStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	seedAccount(t, s, addr(1), 100)

	got, err := s.GetAccount(ctx, addr(1))
	require.NoError(t, err)
	got.Balance = 0

	again, err := s.GetAccount(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Balance)

	require.NoError(t, s.InsertOwners(ctx, addr(1), []string{addr(2), addr(3)}))
	owners, err := s.Owners(ctx, addr(1))
	require.NoError(t, err)
	owners[0] = "mutated"
	owners, err = s.Owners(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, addr(2), owners[0])
}

func TestMemStoreHistoryOrderingSameSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("aa", addr(1), addr(2), 1, 7, entity.StatusCompleted)))
	require.NoError(t, s.InsertTransfer(ctx, newTransfer("bb", addr(1), addr(2), 1, 7, entity.StatusCompleted)))

	list, err := s.ListTransfers(ctx, addr(2), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"bb", "aa"}, hashes(list))
}

func TestMemStoreReadersWaitForUnitOfWork(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	seedAccount(t, s, addr(1), 100)
	seedAccount(t, s, addr(2), 0)

	seen := make(chan int64, 1)
	err := s.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.SetBalance(txCtx, addr(1), 60, 0))
		go func() {
			a, _ := s.GetAccount(ctx, addr(1))
			b, _ := s.GetAccount(ctx, addr(2))
			seen <- a.Balance + b.Balance
		}()
		select {
		case <-seen:
			t.Error("reader ran inside the unit of work")
		case <-time.After(20 * time.Millisecond):
		}
		return s.SetBalance(txCtx, addr(2), 40, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), <-seen)
}
