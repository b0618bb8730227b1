package notify

import (
	"time"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

const (
	EventBalance  = "balance_update"
	EventTransfer = "transaction_update"
)

// Event is the JSON body published to Redis and RabbitMQ.
type Event struct {
	Type       string    `json:"type"`
	Address    string    `json:"address"`
	Balance    string    `json:"balance,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Receiver   string    `json:"receiver,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func transferEvent(address string, t *entity.Transfer) Event {
	return Event{
		Type:       EventTransfer,
		Address:    address,
		Hash:       t.Hash,
		Sender:     t.Sender,
		Receiver:   t.Receiver,
		Amount:     utils.FormatUnits(t.Amount),
		Status:     string(t.Status),
		OccurredAt: time.Now().UTC(),
	}
}
