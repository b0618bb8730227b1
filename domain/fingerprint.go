package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
)

/*
A key fingerprint is a PBKDF2-SHA256 digest of the private key, stored as

	pbkdf2$<iterations>$<hex salt>$<hex digest>

It lets the ledger reject an obviously wrong key without touching the curve,
but ownership is only ever proven by regenerating the address.
*/
const (
	kdfLabel                 = "pbkdf2"
	DefaultFingerprintRounds = 100_000
	saltLen                  = 16
	digestLen                = 32
)

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveKey(secret string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(secret), salt, iterations, digestLen, sha256.New)
}

func normalizeKey(priv string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(priv), "0x"))
}

// Fingerprint hashes priv with a fresh random salt.
func Fingerprint(priv string, iterations int) (string, error) {
	if iterations <= 0 {
		iterations = DefaultFingerprintRounds
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", apperrors.WrapWithCode(apperrors.Fatal, "domain.Fingerprint", err)
	}
	sum := deriveKey(normalizeKey(priv), salt, iterations)
	defer clearBytes(sum)
	return encodeFingerprint(salt, iterations, sum), nil
}

// MatchFingerprint reports whether priv hashes to the stored fingerprint.
// Malformed fingerprints never match.
func MatchFingerprint(fingerprint, priv string) bool {
	salt, iterations, want, err := decodeFingerprint(fingerprint)
	if err != nil {
		return false
	}
	got := deriveKey(normalizeKey(priv), salt, iterations)
	defer clearBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func encodeFingerprint(salt []byte, iterations int, sum []byte) string {
	return fmt.Sprintf("%s$%d$%s$%s", kdfLabel, iterations, hex.EncodeToString(salt), hex.EncodeToString(sum))
}

func decodeFingerprint(meta string) ([]byte, int, []byte, error) {
	parts := strings.Split(meta, "$")
	if len(parts) != 4 {
		return nil, 0, nil, errors.New("invalid fingerprint format")
	}
	if parts[0] != kdfLabel {
		return nil, 0, nil, errors.New("unsupported kdf")
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil || iter <= 0 {
		return nil, 0, nil, errors.New("invalid kdf iterations")
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, 0, nil, errors.New("invalid salt hex")
	}
	sum, err := hex.DecodeString(parts[3])
	if err != nil || len(sum) != digestLen {
		return nil, 0, nil, errors.New("invalid digest hex")
	}
	return salt, iter, sum, nil
}
