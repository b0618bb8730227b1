package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

const (
	RoutingBalance  = "balance.changed"
	RoutingTransfer = "transaction.completed"
)

// AMQPNotifier publishes persistent JSON events to a topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{"connection_name": "ledger_service_notifier"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) publish(ctx context.Context, routingKey string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = n.channel.PublishWithContext(ctx,
		n.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

func (n *AMQPNotifier) BalanceChanged(ctx context.Context, address string, balance decimal.Decimal) error {
	return n.publish(ctx, RoutingBalance, Event{
		Type:       EventBalance,
		Address:    address,
		Balance:    balance.StringFixed(utils.AmountDecimals),
		OccurredAt: time.Now().UTC(),
	})
}

func (n *AMQPNotifier) TransferCommitted(ctx context.Context, address string, t *entity.Transfer) error {
	return n.publish(ctx, RoutingTransfer, transferEvent(address, t))
}

func (n *AMQPNotifier) Close() error {
	if err := n.channel.Close(); err != nil {
		n.conn.Close()
		return err
	}
	return n.conn.Close()
}
