// Package totp implements RFC 6238 time-based one-time passwords and the
// single-use backup codes that go with them.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	qrcode "github.com/skip2/go-qrcode"
)

const secretBytes = 20

var (
	ErrUnsupportedAlgorithm = errors.New("totp: unsupported algorithm")
	ErrInvalidSecret        = errors.New("totp: invalid secret")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code generation. Period and Skew are in steps of
// Period seconds.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string

	BackupCodeCount  int
	BackupCodeLength int
	// Pepper keys backup code digests.
	Pepper []byte
}

// DefaultConfig returns 6 digit SHA1 codes on a 30 second step with one
// step of tolerance either side, and 10 backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:           "authcore",
		Digits:           6,
		Period:           30,
		Skew:             1,
		Algorithm:        "SHA1",
		BackupCodeCount:  10,
		BackupCodeLength: 10,
	}
}

// Secret is a freshly generated shared secret.
type Secret struct {
	Raw    []byte
	Base32 string
}

// Manager generates and verifies codes.
type Manager struct {
	cfg Config
}

// New validates cfg and returns a Manager. Zero fields take defaults.
func New(cfg Config) (*Manager, error) {
	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Digits == 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.BackupCodeCount == 0 {
		cfg.BackupCodeCount = def.BackupCodeCount
	}
	if cfg.BackupCodeLength == 0 {
		cfg.BackupCodeLength = def.BackupCodeLength
	}
	cfg.Algorithm = strings.ToUpper(cfg.Algorithm)

	if _, err := hmacFunc(cfg.Algorithm); err != nil {
		return nil, err
	}
	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.New("totp: digits must be between 6 and 8")
	}
	if cfg.Period <= 0 || cfg.Skew < 0 {
		return nil, errors.New("totp: period must be > 0 and skew >= 0")
	}
	return &Manager{cfg: cfg}, nil
}

// GenerateSecret returns a random 160-bit secret.
func (m *Manager) GenerateSecret() (Secret, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, err
	}
	return Secret{Raw: raw, Base32: b32.EncodeToString(raw)}, nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps import.
func (m *Manager) ProvisioningURI(secretBase32, account string) string {
	label := url.PathEscape(m.cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", m.cfg.Issuer)
	v.Set("period", strconv.Itoa(m.cfg.Period))
	v.Set("digits", strconv.Itoa(m.cfg.Digits))
	v.Set("algorithm", m.cfg.Algorithm)

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// QRCode renders uri as a PNG of size x size pixels.
func (m *Manager) QRCode(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}

// DecodeSecret parses a base32 secret, tolerating padding, spaces and
// lower case.
func DecodeSecret(secretBase32 string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secretBase32), " ", ""))
	s = strings.TrimRight(s, "=")
	raw, err := b32.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// Code returns the code for the step containing t.
func (m *Manager) Code(secretBase32 string, t time.Time) (string, error) {
	secret, err := DecodeSecret(secretBase32)
	if err != nil {
		return "", err
	}
	return hotpCode(secret, t.Unix()/int64(m.cfg.Period), m.cfg.Digits, m.cfg.Algorithm)
}

// Verify reports whether code is valid at now within the configured skew.
// Malformed codes are rejected before any HMAC is computed.
func (m *Manager) Verify(secretBase32, code string, now time.Time) bool {
	ok, _ := m.VerifyCounter(secretBase32, code, now)
	return ok
}

// VerifyCounter is Verify that also returns the matched time step.
func (m *Manager) VerifyCounter(secretBase32, code string, now time.Time) (bool, int64) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.cfg.Digits || !internal.IsDigits(trimmed) {
		return false, 0
	}
	secret, err := DecodeSecret(secretBase32)
	if err != nil {
		return false, 0
	}

	base := now.Unix() / int64(m.cfg.Period)
	for step := -m.cfg.Skew; step <= m.cfg.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.cfg.Digits, m.cfg.Algorithm)
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter
		}
	}
	return false, 0
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
