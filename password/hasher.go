package password

import (
	"errors"
	"strings"
)

// Algorithm tags the format of a stored digest.
type Algorithm string

const (
	AlgArgon2id Algorithm = "argon2id"
	AlgBcrypt   Algorithm = "bcrypt"
)

var (
	// ErrTooShort is returned by Hash when the password is below the
	// configured minimum length.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Hash when the password exceeds the
	// configured maximum length.
	ErrTooLong = errors.New("password too long")
	// ErrUnknownFormat is returned by ParseDigest for unrecognized input.
	ErrUnknownFormat = errors.New("unknown digest format")
)

// Digest is a stored password digest tagged with the algorithm that
// produced it.
type Digest struct {
	Algorithm Algorithm
	Payload   string
}

func (d Digest) String() string { return d.Payload }

// ParseDigest classifies a stored digest by its prefix.
func ParseDigest(encoded string) (Digest, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return Digest{Algorithm: AlgArgon2id, Payload: encoded}, nil
	case strings.HasPrefix(encoded, "$2a$"),
		strings.HasPrefix(encoded, "$2b$"),
		strings.HasPrefix(encoded, "$2y$"):
		return Digest{Algorithm: AlgBcrypt, Payload: encoded}, nil
	default:
		return Digest{}, ErrUnknownFormat
	}
}

// Config selects the primary algorithm and its costs. Digests produced by
// the other algorithm keep verifying.
type Config struct {
	Algorithm  Algorithm
	MinLength  int
	MaxLength  int
	Argon2     Argon2Params
	BCryptCost int
}

// DefaultConfig hashes with argon2id and accepts passwords of 8+ bytes.
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgArgon2id,
		MinLength:  8,
		MaxLength:  1024,
		Argon2:     DefaultArgon2Params(),
		BCryptCost: 12,
	}
}

// Hasher turns passwords (and other low-entropy secrets such as email OTP
// codes) into slow salted digests.
type Hasher struct {
	primary   Algorithm
	minLength int
	maxLength int
	argon     *Argon2
	bcrypt    *BCrypt
	dummy     string
}

// NewHasher validates cfg and prepares both strategies.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Algorithm != AlgArgon2id && cfg.Algorithm != AlgBcrypt {
		return nil, errors.New("password algorithm must be argon2id or bcrypt")
	}
	if cfg.MinLength < 1 {
		return nil, errors.New("password minimum length must be >= 1")
	}
	if cfg.MaxLength < cfg.MinLength {
		return nil, errors.New("password maximum length must be >= minimum length")
	}
	argon, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	bc, err := NewBCrypt(cfg.BCryptCost)
	if err != nil {
		return nil, err
	}

	h := &Hasher{
		primary:   cfg.Algorithm,
		minLength: cfg.MinLength,
		maxLength: cfg.MaxLength,
		argon:     argon,
		bcrypt:    bc,
	}
	if h.dummy, err = h.HashSecret("authcore-timing-equalizer"); err != nil {
		return nil, err
	}
	return h, nil
}

// MinLength returns the configured minimum password length in bytes.
func (h *Hasher) MinLength() int { return h.minLength }

// CheckPolicy enforces the byte-length bounds.
func (h *Hasher) CheckPolicy(password string) error {
	if len(password) < h.minLength {
		return ErrTooShort
	}
	if len(password) > h.maxLength {
		return ErrTooLong
	}
	return nil
}

// Hash enforces the length policy and hashes with the primary algorithm.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.CheckPolicy(password); err != nil {
		return "", err
	}
	return h.HashSecret(password)
}

// HashSecret hashes without the password policy.
func (h *Hasher) HashSecret(secret string) (string, error) {
	if h.primary == AlgBcrypt {
		return h.bcrypt.Hash(secret)
	}
	return h.argon.Hash(secret)
}

// Verify checks secret against a stored digest of either algorithm.
// Malformed or unknown digests verify as false.
func (h *Hasher) Verify(secret, encoded string) bool {
	if len(secret) > h.maxLength {
		return false
	}
	d, err := ParseDigest(encoded)
	if err != nil {
		return false
	}

	var ok bool
	switch d.Algorithm {
	case AlgArgon2id:
		ok, err = h.argon.Verify(secret, d.Payload)
	case AlgBcrypt:
		ok, err = h.bcrypt.Verify(secret, d.Payload)
	}
	return err == nil && ok
}

// VerifyDummy burns the same work as a real Verify. Callers use it when no
// digest exists so that response time does not reveal whether an account
// is registered.
func (h *Hasher) VerifyDummy(secret string) {
	_ = h.Verify(secret, h.dummy)
}

// NeedsRehash reports whether encoded should be replaced by a digest from
// the current primary algorithm and parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	d, err := ParseDigest(encoded)
	if err != nil {
		return true
	}
	if d.Algorithm != h.primary {
		return true
	}
	if d.Algorithm == AlgBcrypt {
		return h.bcrypt.weaker(d.Payload)
	}
	return h.argon.weaker(d.Payload)
}
