package entity

import "time"

// Owner links a multisig account to one of its signing addresses.
type Owner struct {
	WalletAddress string    `bson:"wallet_address" json:"wallet_address"`
	OwnerAddress  string    `bson:"owner_address" json:"owner_address"`
	AddedAt       time.Time `bson:"added_at" json:"added_at"`
}
