package totp

import (
	"strings"
	"testing"
)

func TestBackupCodesAreUniqueAndFormatted(t *testing.T) {
	m := newManager(t, Config{Pepper: []byte("pepper")})
	codes, err := m.GenerateBackupCodes()
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected code format %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestVerifyBackupCodeNormalizes(t *testing.T) {
	m := newManager(t, Config{Pepper: []byte("pepper")})
	codes, _ := m.GenerateBackupCodes()
	digests := m.HashBackupCodes(codes)

	input := strings.ToLower(strings.ReplaceAll(codes[3], "-", " "))
	ok, matched := m.VerifyBackupCode(input, digests)
	if !ok || matched != digests[3] {
		t.Fatalf("expected normalized code to match digest 3, ok=%v", ok)
	}

	if ok, _ := m.VerifyBackupCode("AAAAA-AAAAA", digests); ok {
		t.Fatal("expected unknown code to fail")
	}
	if ok, _ := m.VerifyBackupCode("", digests); ok {
		t.Fatal("expected empty code to fail")
	}
}

func TestBackupDigestDependsOnPepper(t *testing.T) {
	a := newManager(t, Config{Pepper: []byte("a")})
	b := newManager(t, Config{Pepper: []byte("b")})
	if a.HashBackupCode("ABCDE-FGHJK") == b.HashBackupCode("ABCDE-FGHJK") {
		t.Fatal("expected pepper to change the digest")
	}
}
