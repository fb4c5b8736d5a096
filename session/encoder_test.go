package session

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	in := &Session{
		ID:                "sid",
		UserID:            "user-1",
		RefreshTokenHash:  "abcdef",
		DeviceFingerprint: "fp",
		Device:            ParseDevice(chromeUA),
		IPAddress:         "2001:db8::1",
		CreatedAt:         now,
		LastActiveAt:      now.Add(time.Minute),
		ExpiresAt:         now.Add(time.Hour),
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if data[0] != CurrentSchemaVersion {
		t.Fatalf("expected version byte %d, got %d", CurrentSchemaVersion, data[0])
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != in.ID || out.UserID != in.UserID || out.RefreshTokenHash != in.RefreshTokenHash {
		t.Fatalf("identity fields differ: %+v", out)
	}
	if out.Device != in.Device || out.IPAddress != in.IPAddress {
		t.Fatalf("device fields differ: %+v", out)
	}
	if !out.LastActiveAt.Equal(in.LastActiveAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("timestamps differ: %+v", out)
	}
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	if _, err := Decode([]byte{99}); err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := Decode(nil); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt for empty input, got %v", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(&Session{ID: "s", UserID: "u"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := Decode(append(data, 0)); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

// FuzzSessionDecode checks the decoder never panics on arbitrary input.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(&Session{
		ID:        "sid-fuzz",
		UserID:    "user1",
		CreatedAt: time.Unix(1700000000, 0),
		ExpiresAt: time.Unix(1700003600, 0),
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{1, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(s); err != nil {
			t.Fatalf("re-encode of decoded session failed: %v", err)
		}
	})
}
