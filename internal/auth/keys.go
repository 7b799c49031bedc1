// Package auth provides API key and claim token generation, deterministic
// key digests for bearer lookup, and JWT issuance for the token exchange
// endpoint.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Credential prefixes make keys recognizable in logs and support without
// revealing which agent they belong to.
const (
	apiKeyPrefix     = "ap_"
	claimTokenPrefix = "claim_"
)

// NewAPIKey generates a new random API key with the "ap_" prefix.
func NewAPIKey() (string, error) {
	return newToken(apiKeyPrefix, 32)
}

// NewClaimToken generates a new single-use claim token with the "claim_" prefix.
func NewClaimToken() (string, error) {
	return newToken(claimTokenPrefix, 24)
}

func newToken(prefix string, bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Digest returns the hex SHA-256 digest of a credential. Credentials are
// random 192+ bit values, so a deterministic digest is safe to store and is
// what makes lookup by bearer value alone possible.
func Digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
