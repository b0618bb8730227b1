package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/linlinbupt123-crypto/ledger_service/config"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/notify"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

func withDefaults(cfg config.LedgerConfig) config.LedgerConfig {
	d := config.DefaultLedgerConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.FingerprintIterations < 1 {
		cfg.FingerprintIterations = d.FingerprintIterations
	}
	if cfg.DefaultHistoryLimit < 1 {
		cfg.DefaultHistoryLimit = d.DefaultHistoryLimit
	}
	return cfg
}

// dispatcher sends post-commit events. Failures are logged and dropped.
type dispatcher struct {
	notifier notify.Notifier
	logger   zerolog.Logger
}

func newDispatcher(n notify.Notifier, logger zerolog.Logger) dispatcher {
	if n == nil {
		n = notify.Nop{}
	}
	return dispatcher{notifier: n, logger: logger}
}

func (d dispatcher) committed(ctx context.Context, t *entity.Transfer, parties ...*entity.Account) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range parties {
		if err := d.notifier.BalanceChanged(ctx, a.Address, utils.FromUnits(a.Balance)); err != nil {
			d.logger.Warn().Err(err).Str("address", a.Address).Msg("balance notification failed")
		}
		if err := d.notifier.TransferCommitted(ctx, a.Address, t); err != nil {
			d.logger.Warn().Err(err).Str("address", a.Address).Str("hash", t.Hash).Msg("transfer notification failed")
		}
	}
}
