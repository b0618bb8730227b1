package utils

/*
Amounts are stored as int64 units of 10^-8, the same way satoshis relate to
BTC. A balance of 100.00000000 is stored as 10_000_000_000.

Addresses are "0x" followed by the first 40 hex characters of
sha256(hex(public key)).
*/
const (
	AmountDecimals = 8
	UnitsPerCoin   = 100_000_000

	AddressPrefix    = "0x"
	AddressHexLength = 40
)
