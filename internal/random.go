package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// SessionID is 128 random bits, rendered as unpadded base64url.
type SessionID [16]byte

var errSessionIDSize = errors.New("invalid session id size")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	if _, err := rand.Read(sid[:]); err != nil {
		return SessionID{}, fmt.Errorf("session id: %w", err)
	}
	return sid, nil
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID rejects anything that NewSessionID could not have
// produced.
func ParseSessionID(s string) (SessionID, error) {
	var sid SessionID
	if base64.RawURLEncoding.DecodedLen(len(s)) != len(sid) {
		return sid, errSessionIDSize
	}
	n, err := base64.RawURLEncoding.Decode(sid[:], []byte(s))
	if err != nil {
		return SessionID{}, err
	}
	if n != len(sid) {
		return SessionID{}, errSessionIDSize
	}
	return sid, nil
}

// NewOTP returns a uniformly random numeric code of the given length.
// Bytes of 250 and above are rejected so every digit is equally likely.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	out := make([]byte, 0, digits)
	buf := make([]byte, digits*2)
	for len(out) < digits {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("otp: %w", err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == digits {
				break
			}
		}
	}
	return string(out), nil
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
