package entity

import (
	"time"
)

// Account is a ledger entry keyed by its derived address. Balance is held in
// units of 10^-8 and never goes below zero.
type Account struct {
	Address            string    `bson:"_id" json:"address"`
	Balance            int64     `bson:"balance" json:"balance"`
	IsMultisig         bool      `bson:"is_multisig" json:"is_multisig"`
	RequiredSignatures int       `bson:"required_signatures" json:"required_signatures"`
	KeyFingerprint     string    `bson:"key_fingerprint" json:"-"`
	Version            int64     `bson:"version" json:"version"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// Required returns the approval threshold for transfers sent from the account.
// Plain accounts are auto-approved with a threshold of one.
func (a *Account) Required() int {
	if !a.IsMultisig || a.RequiredSignatures < 1 {
		return 1
	}
	return a.RequiredSignatures
}
