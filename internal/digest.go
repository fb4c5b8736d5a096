package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenDigest is the keyed digest under which refresh tokens are persisted
// and revoked tokens are blacklisted. It is hex encoded so it can be used
// directly inside store keys.
func TokenDigest(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Fingerprint hashes a device's user agent and IP address.
func Fingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ip))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two digests without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
