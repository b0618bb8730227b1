package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/repository"
)

func testConfig() config.LedgerConfig {
	return config.LedgerConfig{
		MaxRetries:            5,
		FingerprintIterations: 1000,
		DefaultHistoryLimit:   10,
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	transfers map[string][]string
	fail      bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		balances:  make(map[string]decimal.Decimal),
		transfers: make(map[string][]string),
	}
}

func (r *recordingNotifier) BalanceChanged(_ context.Context, address string, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[address] = balance
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (r *recordingNotifier) TransferCommitted(_ context.Context, address string, t *entity.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[address] = append(r.transfers[address], t.Hash)
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (r *recordingNotifier) transfersFor(address string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transfers[address]...)
}

type fixture struct {
	svc      *WalletService
	store    *repository.MemStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, testConfig())
}

func newFixtureWith(t *testing.T, cfg config.LedgerConfig) *fixture {
	t.Helper()
	store := repository.NewMemStore()
	n := newRecordingNotifier()
	return &fixture{
		svc:      NewWalletService(store, n, cfg, zerolog.Nop()),
		store:    store,
		notifier: n,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) wallet(t *testing.T, balance string) *WalletView {
	t.Helper()
	w, err := f.svc.CreateAccount(context.Background(), dec(balance))
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, address string) string {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), address)
	require.NoError(t, err)
	return b.StringFixed(8)
}

// multisig creates three owners and a multisig wallet needing required of
// them.
func (f *fixture) multisig(t *testing.T, balance string, required int) (*WalletView, []*WalletView) {
	t.Helper()
	owners := []*WalletView{f.wallet(t, "0"), f.wallet(t, "0"), f.wallet(t, "0")}
	addrs := []string{owners[0].Address, owners[1].Address, owners[2].Address}
	m, err := f.svc.CreateMultisigAccount(context.Background(), addrs, required, dec(balance))
	require.NoError(t, err)
	return m, owners
}

func missingAddress(n int) string {
	return fmt.Sprintf("0x%040x", n)
}
