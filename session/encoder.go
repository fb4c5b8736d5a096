package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

// CurrentSchemaVersion is the first byte of every encoded record.
const CurrentSchemaVersion = 1

var (
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session: corrupt record")
	// ErrUnsupportedVersion is returned for records written by a newer encoder.
	ErrUnsupportedVersion = errors.New("session: unsupported session schema version")
)

// Encode serializes s in the current schema version.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 + len(s.ID) + len(s.UserID) + len(s.RefreshTokenHash) + len(s.Device.Raw))

	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []string{
		s.ID,
		s.UserID,
		s.RefreshTokenHash,
		s.DeviceFingerprint,
		s.Device.Browser,
		s.Device.OS,
		s.Device.Kind,
		s.Device.Raw,
		s.IPAddress,
	} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	for _, ts := range []time.Time{s.CreatedAt, s.LastActiveAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != CurrentSchemaVersion {
		return nil, ErrUnsupportedVersion
	}

	s := &Session{}
	for _, dst := range []*string{
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.DeviceFingerprint,
		&s.Device.Browser,
		&s.Device.OS,
		&s.Device.Kind,
		&s.Device.Raw,
		&s.IPAddress,
	} {
		v, err := readString(reader)
		if err != nil {
			return nil, ErrCorrupt
		}
		*dst = v
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt} {
		var ms int64
		if err := binary.Read(reader, binary.BigEndian, &ms); err != nil {
			return nil, ErrCorrupt
		}
		*dst = time.UnixMilli(ms)
	}

	if reader.Len() != 0 {
		return nil, ErrCorrupt
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("session: field too long")
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
