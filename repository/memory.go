package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

const btreeDegree = 32

// seqItem orders transfers by logical clock, ties broken by hash.
type seqItem struct {
	seq  int64
	hash string
}

func (a seqItem) Less(b btree.Item) bool {
	o := b.(seqItem)
	if a.seq != o.seq {
		return a.seq < o.seq
	}
	return a.hash < o.hash
}

// MemStore keeps everything in process memory. History queries walk btree
// indexes on the transfer sequence, one global and one per address.
type MemStore struct {
	mu         sync.RWMutex
	accounts   map[string]entity.Account
	owners     map[string][]string
	transfers  map[string]entity.Transfer
	signatures map[string]map[string]entity.Signature
	bySeq      *btree.BTree
	byAddress  map[string]*btree.BTree
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:   make(map[string]entity.Account),
		owners:     make(map[string][]string),
		transfers:  make(map[string]entity.Transfer),
		signatures: make(map[string]map[string]entity.Signature),
		bySeq:      btree.New(btreeDegree),
		byAddress:  make(map[string]*btree.BTree),
	}
}

type memTxKey struct{}

// memTx is a unit of work on a MemStore. The store mutex is held for its
// whole lifetime; undo reverses the writes made so far, newest first.
type memTx struct {
	store *MemStore
	undo  []func()
}

func (tx *memTx) onRollback(f func()) {
	if tx != nil {
		tx.undo = append(tx.undo, f)
	}
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (m *MemStore) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx != nil && tx.store == m {
		return tx
	}
	return nil
}

// RunInTx holds the store lock for the whole of fn, so readers wait until
// the unit of work has committed or been undone.
func (m *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	tx := &memTx{store: m}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
		m.mu.Unlock()
	}()
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

// write takes the store lock unless ctx is inside a unit of work, which
// already holds it. The returned tx is nil outside a unit of work.
func (m *MemStore) write(ctx context.Context) (*memTx, func()) {
	if tx := m.txFrom(ctx); tx != nil {
		return tx, func() {}
	}
	m.mu.Lock()
	return nil, m.mu.Unlock
}

func (m *MemStore) read(ctx context.Context) func() {
	if m.txFrom(ctx) != nil {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MemStore) InsertAccount(ctx context.Context, account *entity.Account) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	if _, ok := m.accounts[account.Address]; ok {
		return ErrDuplicate
	}
	m.accounts[account.Address] = *account
	tx.onRollback(func() { delete(m.accounts, account.Address) })
	return nil
}

func (m *MemStore) GetAccount(ctx context.Context, address string) (*entity.Account, error) {
	defer m.read(ctx)()
	a, ok := m.accounts[address]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemStore) SetBalance(ctx context.Context, address string, balance, expectedVersion int64) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	a, ok := m.accounts[address]
	if !ok {
		return ErrNotFound
	}
	if a.Version != expectedVersion {
		return ErrConflict
	}
	prev := a
	a.Balance = balance
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	m.accounts[address] = a
	tx.onRollback(func() { m.accounts[address] = prev })
	return nil
}

func (m *MemStore) InsertOwners(ctx context.Context, wallet string, owners []string) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	existing := m.owners[wallet]
	seen := make(map[string]struct{}, len(existing)+len(owners))
	for _, o := range existing {
		seen[o] = struct{}{}
	}
	for _, o := range owners {
		if _, dup := seen[o]; dup {
			return ErrDuplicate
		}
		seen[o] = struct{}{}
	}
	_, had := m.owners[wallet]
	m.owners[wallet] = append(append([]string(nil), existing...), owners...)
	tx.onRollback(func() {
		if had {
			m.owners[wallet] = existing
		} else {
			delete(m.owners, wallet)
		}
	})
	return nil
}

func (m *MemStore) Owners(ctx context.Context, wallet string) ([]string, error) {
	defer m.read(ctx)()
	return append([]string(nil), m.owners[wallet]...), nil
}

func (m *MemStore) InsertTransfer(ctx context.Context, t *entity.Transfer) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	if _, ok := m.transfers[t.Hash]; ok {
		return ErrDuplicate
	}
	m.transfers[t.Hash] = *t
	item := seqItem{seq: t.Seq, hash: t.Hash}
	m.bySeq.ReplaceOrInsert(item)
	m.addressIndex(t.Sender).ReplaceOrInsert(item)
	m.addressIndex(t.Receiver).ReplaceOrInsert(item)
	tx.onRollback(func() {
		delete(m.transfers, t.Hash)
		m.bySeq.Delete(item)
		m.byAddress[t.Sender].Delete(item)
		m.byAddress[t.Receiver].Delete(item)
	})
	return nil
}

func (m *MemStore) addressIndex(address string) *btree.BTree {
	idx, ok := m.byAddress[address]
	if !ok {
		idx = btree.New(btreeDegree)
		m.byAddress[address] = idx
	}
	return idx
}

func (m *MemStore) GetTransfer(ctx context.Context, hash string) (*entity.Transfer, error) {
	defer m.read(ctx)()
	t, ok := m.transfers[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemStore) UpdateTransferStatus(ctx context.Context, hash string, from, to entity.Status) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	t, ok := m.transfers[hash]
	if !ok {
		return ErrNotFound
	}
	if t.Status != from {
		return ErrConflict
	}
	prev := t
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	m.transfers[hash] = t
	tx.onRollback(func() { m.transfers[hash] = prev })
	return nil
}

// collect walks idx newest first, keeping transfers accepted by keep.
func (m *MemStore) collect(idx *btree.BTree, limit int, keep func(*entity.Transfer) bool) []*entity.Transfer {
	out := make([]*entity.Transfer, 0)
	if idx == nil {
		return out
	}
	idx.Descend(func(i btree.Item) bool {
		t := m.transfers[i.(seqItem).hash]
		if keep == nil || keep(&t) {
			out = append(out, &t)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (m *MemStore) ListTransfers(ctx context.Context, address string, limit int) ([]*entity.Transfer, error) {
	defer m.read(ctx)()
	return m.collect(m.byAddress[address], limit, nil), nil
}

func (m *MemStore) RecentTransfers(ctx context.Context, limit int) ([]*entity.Transfer, error) {
	defer m.read(ctx)()
	return m.collect(m.bySeq, limit, nil), nil
}

func (m *MemStore) CountTransfers(ctx context.Context, address string) (int64, int64, error) {
	defer m.read(ctx)()
	var sent, received int64
	for _, t := range m.collect(m.byAddress[address], 0, nil) {
		if t.Sender == address {
			sent++
		}
		if t.Receiver == address {
			received++
		}
	}
	return sent, received, nil
}

func (m *MemStore) PendingTransfers(ctx context.Context, sender string) ([]*entity.Transfer, error) {
	defer m.read(ctx)()
	return m.collect(m.byAddress[sender], 0, func(t *entity.Transfer) bool {
		return t.Sender == sender && t.Status == entity.StatusPending
	}), nil
}

func (m *MemStore) InsertSignature(ctx context.Context, sig *entity.Signature) error {
	tx, unlock := m.write(ctx)
	defer unlock()
	bySigner, ok := m.signatures[sig.TransferHash]
	if !ok {
		bySigner = make(map[string]entity.Signature)
		m.signatures[sig.TransferHash] = bySigner
	}
	if _, dup := bySigner[sig.Signer]; dup {
		return ErrDuplicate
	}
	bySigner[sig.Signer] = *sig
	tx.onRollback(func() { delete(bySigner, sig.Signer) })
	return nil
}

func (m *MemStore) HasSignature(ctx context.Context, hash, signer string) (bool, error) {
	defer m.read(ctx)()
	_, ok := m.signatures[hash][signer]
	return ok, nil
}

func (m *MemStore) CountSignatures(ctx context.Context, hash string) (int, error) {
	defer m.read(ctx)()
	return len(m.signatures[hash]), nil
}
