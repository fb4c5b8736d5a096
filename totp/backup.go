package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/MrEthical07/authcore/internal"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes returns the configured number of formatted codes,
// for example "7KQ2M-XH4PA".
func (m *Manager) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, 0, m.cfg.BackupCodeCount)
	seen := make(map[string]struct{}, m.cfg.BackupCodeCount)
	for len(codes) < m.cfg.BackupCodeCount {
		code, err := newBackupCode(m.cfg.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, formatBackupCode(code))
	}
	return codes, nil
}

// HashBackupCode returns the stored digest of a backup code.
func (m *Manager) HashBackupCode(code string) string {
	mac := hmac.New(sha256.New, m.cfg.Pepper)
	_, _ = mac.Write([]byte(CanonicalizeBackupCode(code)))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashBackupCodes hashes every code in codes.
func (m *Manager) HashBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = m.HashBackupCode(c)
	}
	return out
}

// VerifyBackupCode looks code up in digests and returns the digest it
// matched. Every digest is compared so timing does not reveal the
// position of a match.
func (m *Manager) VerifyBackupCode(code string, digests []string) (bool, string) {
	canonical := CanonicalizeBackupCode(code)
	if len(canonical) != m.cfg.BackupCodeLength {
		return false, ""
	}
	candidate := m.HashBackupCode(canonical)

	var matched string
	for _, d := range digests {
		if internal.ConstantTimeEqual(candidate, d) {
			matched = d
		}
	}
	return matched != "", matched
}

// CanonicalizeBackupCode strips separators and case-folds.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func formatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
