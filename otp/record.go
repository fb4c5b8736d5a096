package otp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordVersion = 1

var errCorruptRecord = errors.New("otp: corrupt record")

// Record is a stored verification request. The code is kept only as a
// password-hasher digest and the link token only as a keyed digest.
type Record struct {
	ID                string
	UserID            string
	CodeHash          string
	TokenDigest       string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
}

func encodeRecord(r *Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	for _, s := range []string{r.ID, r.UserID, r.CodeHash, r.TokenDigest} {
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	for _, ts := range []time.Time{r.CreatedAt, r.ExpiresAt, r.ResendAvailableAt} {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(ts.UnixMilli()))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeRecord(data []byte) (*Record, error) {
	rd := bytes.NewReader(data)
	if v, err := rd.ReadByte(); err != nil || v != recordVersion {
		return nil, errCorruptRecord
	}

	r := &Record{}
	for _, dst := range []*string{&r.ID, &r.UserID, &r.CodeHash, &r.TokenDigest} {
		var n uint16
		if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
			return nil, errCorruptRecord
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(rd, b); err != nil {
			return nil, errCorruptRecord
		}
		*dst = string(b)
	}
	for _, dst := range []*time.Time{&r.CreatedAt, &r.ExpiresAt, &r.ResendAvailableAt} {
		var ms int64
		if err := binary.Read(rd, binary.BigEndian, &ms); err != nil {
			return nil, errCorruptRecord
		}
		*dst = time.UnixMilli(ms)
	}
	return r, nil
}
