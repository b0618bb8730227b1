package request

// Amounts are decimal strings, e.g. "40" or "0.12345678".

type CreateWalletReq struct {
	InitialBalance string `json:"initial_balance"`
}

type CreateMultisigReq struct {
	Owners             []string `json:"owners" binding:"required"`
	RequiredSignatures int      `json:"required_signatures" binding:"required"`
	InitialBalance     string   `json:"initial_balance"`
}

type VerifyOwnershipReq struct {
	PrivateKey string `json:"private_key" binding:"required"`
}

type SendTxReq struct {
	Sender     string `json:"sender" binding:"required"`
	Receiver   string `json:"receiver" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	PrivateKey string `json:"private_key" binding:"required"`
}

type AddSignatureReq struct {
	Signer    string `json:"signer" binding:"required"`
	Signature string `json:"signature"`
}
