package domain

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

const (
	privateKeyHexLen = 64
	publicKeyHexLen  = 128
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// GenerateKeypair returns a fresh secp256k1 keypair as hex strings. The public
// key is the uncompressed X||Y point without the 0x04 marker.
func GenerateKeypair() (string, string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", apperrors.WrapWithCode(apperrors.Fatal, "domain.GenerateKeypair", err)
	}
	privBytes := crypto.FromECDSA(key)
	defer clearBytes(privBytes)
	return hex.EncodeToString(privBytes), publicKeyHex(&key.PublicKey), nil
}

func publicKeyHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.FromECDSAPub(pub)[1:])
}

// DeriveAddress maps a public key to "0x" + the first 40 hex chars of
// sha256(hex public key).
func DeriveAddress(pub string) (string, error) {
	pub = strings.ToLower(strings.TrimPrefix(pub, "0x"))
	if len(pub) != publicKeyHexLen {
		return "", apperrors.New(apperrors.InvalidInput, "domain.DeriveAddress", "public key must be %d hex chars", publicKeyHexLen)
	}
	raw, err := hex.DecodeString(pub)
	if err != nil {
		return "", apperrors.WrapWithCode(apperrors.InvalidInput, "domain.DeriveAddress", err)
	}
	if _, err := crypto.UnmarshalPubkey(append([]byte{0x04}, raw...)); err != nil {
		return "", apperrors.WrapWithCode(apperrors.InvalidInput, "domain.DeriveAddress", err)
	}
	return addressOf(pub), nil
}

func addressOf(pubHex string) string {
	sum := sha256.Sum256([]byte(pubHex))
	return utils.AddressPrefix + hex.EncodeToString(sum[:])[:utils.AddressHexLength]
}

// ParsePrivateKey accepts a 64 char hex key with or without a 0x prefix.
func ParsePrivateKey(priv string) (*ecdsa.PrivateKey, error) {
	priv = strings.TrimPrefix(strings.TrimSpace(priv), "0x")
	if len(priv) != privateKeyHexLen {
		return nil, fmt.Errorf("private key must be %d hex chars", privateKeyHexLen)
	}
	return crypto.HexToECDSA(priv)
}

// AddressFromPrivateKey regenerates the address owned by priv.
func AddressFromPrivateKey(priv string) (string, error) {
	key, err := ParsePrivateKey(priv)
	if err != nil {
		return "", apperrors.WrapWithCode(apperrors.InvalidInput, "domain.AddressFromPrivateKey", err)
	}
	return addressOf(publicKeyHex(&key.PublicKey)), nil
}

// VerifyOwnership regenerates the address from priv and compares it to
// address in constant time. A structurally invalid key is a plain mismatch.
func VerifyOwnership(address, priv string) bool {
	derived, err := AddressFromPrivateKey(priv)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(strings.ToLower(address))) == 1
}

func ValidateAddress(address string) error {
	if address == "" {
		return apperrors.New(apperrors.InvalidInput, "domain.ValidateAddress", "address is empty")
	}
	if !addressPattern.MatchString(address) {
		return apperrors.New(apperrors.InvalidInput, "domain.ValidateAddress", "malformed address %q", address)
	}
	return nil
}

// SignTransfer produces a 65 byte recoverable signature over a transfer hash,
// hex encoded.
func SignTransfer(priv, transferHash string) (string, error) {
	key, err := ParsePrivateKey(priv)
	if err != nil {
		return "", apperrors.WrapWithCode(apperrors.InvalidInput, "domain.SignTransfer", err)
	}
	digest, err := hex.DecodeString(transferHash)
	if err != nil || len(digest) != sha256.Size {
		return "", apperrors.New(apperrors.InvalidInput, "domain.SignTransfer", "transfer hash must be %d bytes of hex", sha256.Size)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", apperrors.WrapWithCode(apperrors.Fatal, "domain.SignTransfer", err)
	}
	return hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address whose key produced sig over transferHash.
func RecoverSigner(transferHash, sig string) (string, error) {
	digest, err := hex.DecodeString(transferHash)
	if err != nil || len(digest) != sha256.Size {
		return "", apperrors.New(apperrors.InvalidInput, "domain.RecoverSigner", "transfer hash must be %d bytes of hex", sha256.Size)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != crypto.SignatureLength {
		return "", apperrors.New(apperrors.Unauthorized, "domain.RecoverSigner", "signature must be %d bytes of hex", crypto.SignatureLength)
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return "", apperrors.WrapWithCode(apperrors.Unauthorized, "domain.RecoverSigner", err)
	}
	return addressOf(publicKeyHex(pub)), nil
}
