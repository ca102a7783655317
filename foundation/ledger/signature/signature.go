// Package signature provides helper functions for handling the ledger's
// hashing and signature needs.
package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hash identities on the ledger are 256-bit Keccak digests rendered as
// lowercase hex without a prefix.

// Keccak returns the lowercase hex Keccak-256 digest of the concatenation
// of the specified parts.
func Keccak(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part)
	}

	hash := crypto.Keccak256([]byte(b.String()))
	return hex.EncodeToString(hash)
}

// HashOf returns the Keccak-256 hex digest over the canonical string form of
// the specified values. Nil values contribute nothing, which lets callers
// chain against an unset predecessor id.
func HashOf(values ...any) string {
	return Keccak(canonical(values))
}

// Sha256Of returns the lowercase hex SHA-256 digest over the canonical string
// form of the specified values.
func Sha256Of(values ...any) string {
	hash := sha256.Sum256([]byte(canonical(values)))
	return hex.EncodeToString(hash[:])
}

// canonical renders the values into the deterministic concatenated form used
// for all identity hashing.
func canonical(values []any) string {
	var b strings.Builder
	for _, v := range values {
		if v == nil {
			continue
		}
		fmt.Fprintf(&b, "%v", v)
	}

	return b.String()
}

// =============================================================================

// DecodeKey decodes key material that may be presented as hex (with or
// without a 0x prefix) or as base64.
func DecodeKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty key material")
	}

	s := strings.TrimPrefix(value, "0x")
	if data, err := hex.DecodeString(s); err == nil {
		return data, nil
	}

	if data, err := base64.StdEncoding.DecodeString(value); err == nil {
		return data, nil
	}

	data, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("key material is neither hex nor base64: %w", err)
	}

	return data, nil
}

// Owner derives the ledger address that owns the specified public key. The
// address is the Keccak-256 hex digest of the raw key bytes.
func Owner(publicKey string) (string, error) {
	data, err := DecodeKey(publicKey)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(crypto.Keccak256(data)), nil
}

// =============================================================================

// SignHash signs the specified document hash with the hex-encoded secp256k1
// private key and returns the 65-byte signature as hex.
func SignHash(privateKeyHex string, hash string) (string, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	digest := crypto.Keccak256([]byte(hash))

	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign hash: %w", err)
	}

	return hex.EncodeToString(sig), nil
}

// PublicKeyFor returns the uncompressed public key, hex encoded, for the
// specified private key.
func PublicKeyFor(privateKeyHex string) (string, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	return hex.EncodeToString(crypto.FromECDSAPub(&privateKey.PublicKey)), nil
}

// VerifyHash reports whether the signature was produced over the specified
// document hash by the holder of the public key.
func VerifyHash(publicKey string, sigHex string, hash string) bool {
	pub, err := DecodeKey(publicKey)
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) < 64 {
		return false
	}

	digest := crypto.Keccak256([]byte(hash))

	return crypto.VerifySignature(pub, digest, sig[:64])
}
