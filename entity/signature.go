package entity

import "time"

// Signature is one owner's approval of a pending transfer.
type Signature struct {
	TransferHash string    `bson:"transfer_hash" json:"transfer_hash"`
	Signer       string    `bson:"signer" json:"signer"`
	Payload      string    `bson:"payload" json:"payload"`
	SignedAt     time.Time `bson:"signed_at" json:"signed_at"`
}
