package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

// RedisNotifier publishes every event on the per-wallet channel
// "wallet:<address>", so a subscriber follows one wallet at a time.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func Channel(address string) string {
	return "wallet:" + address
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(ev.Address), body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Type, err)
	}
	return nil
}

func (n *RedisNotifier) BalanceChanged(ctx context.Context, address string, balance decimal.Decimal) error {
	return n.publish(ctx, Event{
		Type:       EventBalance,
		Address:    address,
		Balance:    balance.StringFixed(utils.AmountDecimals),
		OccurredAt: time.Now().UTC(),
	})
}

func (n *RedisNotifier) TransferCommitted(ctx context.Context, address string, t *entity.Transfer) error {
	return n.publish(ctx, transferEvent(address, t))
}
