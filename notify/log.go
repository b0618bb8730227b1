package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

// LogNotifier writes events to the service log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) BalanceChanged(_ context.Context, address string, balance decimal.Decimal) error {
	n.logger.Info().
		Str("address", address).
		Str("balance", balance.StringFixed(utils.AmountDecimals)).
		Msg("balance changed")
	return nil
}

func (n *LogNotifier) TransferCommitted(_ context.Context, address string, t *entity.Transfer) error {
	n.logger.Info().
		Str("address", address).
		Str("hash", t.Hash).
		Str("status", string(t.Status)).
		Str("amount", utils.FormatUnits(t.Amount)).
		Msg("transfer committed")
	return nil
}
