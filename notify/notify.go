// Package notify delivers balance and transfer events to downstream
// consumers after a transfer commits. Delivery is best effort: callers log
// failures and never roll back because of them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

type Notifier interface {
	BalanceChanged(ctx context.Context, address string, balance decimal.Decimal) error
	TransferCommitted(ctx context.Context, address string, t *entity.Transfer) error
}

type Nop struct{}

func (Nop) BalanceChanged(context.Context, string, decimal.Decimal) error { return nil }
func (Nop) TransferCommitted(context.Context, string, *entity.Transfer) error { return nil }

// Multi fans every event out to all sinks and joins their errors.
type Multi []Notifier

func (m Multi) BalanceChanged(ctx context.Context, address string, balance decimal.Decimal) error {
	var errs []error
	for _, n := range m {
		if err := n.BalanceChanged(ctx, address, balance); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) TransferCommitted(ctx context.Context, address string, t *entity.Transfer) error {
	var errs []error
	for _, n := range m {
		if err := n.TransferCommitted(ctx, address, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithTimeout bounds each delivery to d. A zero d leaves n unchanged.
func WithTimeout(n Notifier, d time.Duration) Notifier {
	if d <= 0 {
		return n
	}
	return timeoutNotifier{next: n, timeout: d}
}

type timeoutNotifier struct {
	next    Notifier
	timeout time.Duration
}

func (t timeoutNotifier) BalanceChanged(ctx context.Context, address string, balance decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.BalanceChanged(ctx, address, balance)
}

func (t timeoutNotifier) TransferCommitted(ctx context.Context, address string, tr *entity.Transfer) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.TransferCommitted(ctx, address, tr)
}
