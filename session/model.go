package session

import "time"

// Device is the parsed view of a client's user agent.
type Device struct {
	Browser string
	OS      string
	Kind    string
	Raw     string
}

// Session is one login of a user on one device.
type Session struct {
	ID                string
	UserID            string
	RefreshTokenHash  string
	DeviceFingerprint string
	Device            Device
	IPAddress         string
	CreatedAt         time.Time
	LastActiveAt      time.Time
	ExpiresAt         time.Time
}

// CreateParams describes a new session.
type CreateParams struct {
	// ID is optional. When set it must be a session id in the format
	// Create would generate.
	ID               string
	UserID           string
	RefreshTokenHash string
	UserAgent        string
	IP               string
	ExpiresAt        time.Time
}
