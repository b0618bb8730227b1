package entity

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a transfer in this status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Transfer struct {
	Hash      string    `bson:"_id" json:"hash"`
	Sender    string    `bson:"sender" json:"sender"`
	Receiver  string    `bson:"receiver" json:"receiver"`
	Amount    int64     `bson:"amount" json:"amount"`
	Status    Status    `bson:"status" json:"status"`
	Seq       int64     `bson:"seq" json:"seq"` // hybrid logical clock, orders history
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

