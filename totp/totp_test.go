package totp

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestVerifyRFCVectors(t *testing.T) {
	type vector struct {
		ts   int64
		code string
	}
	suites := []struct {
		algorithm string
		secret    string
		vectors   []vector
	}{
		{"SHA1", "12345678901234567890", []vector{
			{59, "94287082"},
			{1111111109, "07081804"},
			{1111111111, "14050471"},
			{1234567890, "89005924"},
			{2000000000, "69279037"},
			{20000000000, "65353130"},
		}},
		{"SHA256", "12345678901234567890123456789012", []vector{
			{59, "46119246"},
			{1111111109, "68084774"},
			{1111111111, "67062674"},
			{1234567890, "91819424"},
			{2000000000, "90698825"},
			{20000000000, "77737706"},
		}},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", []vector{
			{59, "90693936"},
			{1111111109, "25091201"},
			{1111111111, "99943326"},
			{1234567890, "93441116"},
			{2000000000, "38618901"},
			{20000000000, "47863826"},
		}},
	}

	for _, s := range suites {
		m := newManager(t, Config{Digits: 8, Period: 30, Algorithm: s.algorithm})
		secret := b32.EncodeToString([]byte(s.secret))
		for _, v := range s.vectors {
			if !m.Verify(secret, v.code, time.Unix(v.ts, 0)) {
				t.Fatalf("%s vector failed at t=%d", s.algorithm, v.ts)
			}
		}
	}
}

func TestVerifyAcceptsAdjacentStepOnly(t *testing.T) {
	m := newManager(t, DefaultConfig())
	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Unix(1700000000, 0)

	prev, err := m.Code(secret.Base32, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if !m.Verify(secret.Base32, prev, now) {
		t.Fatal("expected previous step to be accepted")
	}

	old, err := m.Code(secret.Base32, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	cur, _ := m.Code(secret.Base32, now)
	next, _ := m.Code(secret.Base32, now.Add(30*time.Second))
	if old != cur && old != prev && old != next && m.Verify(secret.Base32, old, now) {
		t.Fatal("expected code three steps old to be rejected")
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	m := newManager(t, DefaultConfig())
	secret, _ := m.GenerateSecret()
	for _, code := range []string{"", "12345", "1234567", "12a456", "abcdef"} {
		if m.Verify(secret.Base32, code, time.Now()) {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
	if m.Verify("not base32!", "123456", time.Now()) {
		t.Fatal("expected invalid secret to be rejected")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Algorithm: "MD5"}); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
	if _, err := New(Config{Digits: 4}); err == nil {
		t.Fatal("expected digits error")
	}
}

func TestProvisioningURI(t *testing.T) {
	m := newManager(t, Config{Issuer: "Acme Corp"})
	uri := m.ProvisioningURI("JBSWY3DPEHPK3PXP", "alice@example.com")

	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if !strings.Contains(u.Path, "Acme Corp:alice@example.com") {
		t.Fatalf("unexpected label %q", u.Path)
	}
	q := u.Query()
	if q.Get("secret") != "JBSWY3DPEHPK3PXP" || q.Get("issuer") != "Acme Corp" || q.Get("digits") != "6" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestQRCodeIsPNG(t *testing.T) {
	m := newManager(t, DefaultConfig())
	png, err := m.QRCode(m.ProvisioningURI("JBSWY3DPEHPK3PXP", "bob"), 128)
	if err != nil {
		t.Fatalf("QRCode failed: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("expected PNG signature")
	}
}
