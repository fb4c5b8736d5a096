package password

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt silently ignores input past this many bytes.
const bcryptMaxInput = 72

// BCrypt hashes secrets into `$2a$`/`$2b$` strings. Inputs longer than 72
// bytes are first reduced with SHA-256 so every byte contributes.
type BCrypt struct {
	cost int
}

// NewBCrypt returns a bcrypt strategy with the given cost.
func NewBCrypt(cost int) (*BCrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BCrypt{cost: cost}, nil
}

func bcryptInput(secret string) []byte {
	if len(secret) <= bcryptMaxInput {
		return []byte(secret)
	}
	sum := sha256.Sum256([]byte(secret))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (b *BCrypt) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword(bcryptInput(secret), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *BCrypt) Verify(secret, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), bcryptInput(secret))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

func (b *BCrypt) weaker(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	return err != nil || cost < b.cost
}
