package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from
// [DefaultConfig] and fill in key material.
type Config struct {
	JWT               JWTConfig
	Password          PasswordConfig
	Session           SessionConfig
	Revocation        RevocationConfig
	Throttle          ThrottleConfig
	TOTP              TOTPConfig
	EmailVerification EmailVerificationConfig
	Security          SecurityConfig
	Store             StoreConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token lifetimes and key material. Access and refresh
// tokens are always signed with different keys.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	// hs256: shared secrets. ed25519: private keys, raw or PEM.
	AccessKey  []byte
	RefreshKey []byte
	// ed25519 only; derived from the private keys when empty.
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Issuer           string
	Leeway           time.Duration
	KeyID            string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the primary hash and its costs.
type PasswordConfig struct {
	Algorithm      string // "argon2id" (default) or "bcrypt"
	MinLength      int
	MaxLength      int
	Memory         uint32 // argon2id, KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BCryptCost     int
	UpgradeOnLogin bool
}

/*
====================================
SESSION / REVOCATION / THROTTLE
====================================
*/

// SessionConfig bounds concurrent sessions. MaxPerUser caps the refresh
// digests kept on a user record; signing in past it ends the least recently
// refreshed session. TouchInterval is the coarsest LastActiveAt resolution
// [Engine.TouchSession] maintains; zero writes on every call.
type SessionConfig struct {
	Prefix        string
	MaxPerUser    int
	TouchInterval time.Duration
}

type RevocationConfig struct {
	Prefix string
}

// ThrottleConfig is the login lockout policy: MaxFailures within Window
// locks the email for LockDuration.
type ThrottleConfig struct {
	MaxFailures  int
	Window       time.Duration
	LockDuration time.Duration
	Prefix       string
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures authenticator codes. MaxFailures wrong codes
// within FailureWindow lock every TOTP check of the account for
// LockDuration, whichever flow the codes came through.
type TOTPConfig struct {
	Issuer           string
	Digits           int
	Period           int
	Skew             int
	Algorithm        string
	BackupCodeCount  int
	BackupCodeLength int
	QRCodeSize       int
	MaxFailures      int
	FailureWindow    time.Duration
	LockDuration     time.Duration
	ThrottlePrefix   string
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// EmailVerificationConfig controls the email OTP and magic link.
// LinkBaseURL receives the link token as the "token" query parameter.
type EmailVerificationConfig struct {
	CodeTTL         time.Duration
	ResendInterval  time.Duration
	MaxAttempts     int
	Digits          int
	Prefix          string
	LinkBaseURL     string
	RequireForLogin bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting secrets and policies.
//
// Pepper keys every stored token digest (refresh digests, revocation keys,
// magic-link lookups, backup codes). Rotating it invalidates them all.
//
// RevokeOnRefreshReuse treats presenting an already-rotated refresh token
// as theft and revokes every session of the user. Off by default: a
// client retrying a refresh after a dropped response would log the user
// out everywhere.
type SecurityConfig struct {
	Pepper               []byte
	RevokeOnRefreshReuse bool
}

/*
====================================
STORE / AUDIT / METRICS
====================================
*/

// StoreConfig tunes the local fallback behind the shared store.
type StoreConfig struct {
	FallbackSweepInterval time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Key material and Pepper are
// left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "authcore",
		},
		Password: PasswordConfig{
			Algorithm:      "argon2id",
			MinLength:      8,
			MaxLength:      1024,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BCryptCost:     12,
			UpgradeOnLogin: true,
		},
		Session: SessionConfig{
			Prefix:        "ass",
			MaxPerUser:    32,
			TouchInterval: time.Minute,
		},
		Revocation: RevocationConfig{
			Prefix: "arv",
		},
		Throttle: ThrottleConfig{
			MaxFailures:  5,
			Window:       15 * time.Minute,
			LockDuration: 5 * time.Minute,
			Prefix:       "alt",
		},
		TOTP: TOTPConfig{
			Issuer:           "authcore",
			Digits:           6,
			Period:           30,
			Skew:             1,
			Algorithm:        "SHA1",
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			QRCodeSize:       256,
			MaxFailures:      5,
			FailureWindow:    5 * time.Minute,
			LockDuration:     5 * time.Minute,
			ThrottlePrefix:   "atf",
		},
		EmailVerification: EmailVerificationConfig{
			CodeTTL:        10 * time.Minute,
			ResendInterval: time.Minute,
			MaxAttempts:    5,
			Digits:         6,
			Prefix:         "aev",
		},
		Store: StoreConfig{
			FallbackSweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessKey = cloneBytes(cfg.JWT.AccessKey)
	out.JWT.RefreshKey = cloneBytes(cfg.JWT.RefreshKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	out.Security.Pepper = cloneBytes(cfg.Security.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration without building anything.
func (c *Config) Validate() error {
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.AccessKey) < 32 || len(c.JWT.RefreshKey) < 32 {
			return errors.New("JWT hs256 keys must be at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.AccessKey) == 0 && len(c.JWT.AccessPublicKey) == 0 {
			return errors.New("JWT ed25519 requires an access key")
		}
		if len(c.JWT.RefreshKey) == 0 && len(c.JWT.RefreshPublicKey) == 0 {
			return errors.New("JWT ed25519 requires a refresh key")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}

	switch strings.ToLower(c.Password.Algorithm) {
	case "argon2id", "bcrypt":
	default:
		return errors.New("Password Algorithm must be argon2id or bcrypt")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	if c.Session.MaxPerUser <= 0 {
		return errors.New("Session MaxPerUser must be > 0")
	}
	if c.Session.TouchInterval < 0 {
		return errors.New("Session TouchInterval must be >= 0")
	}

	if c.Throttle.MaxFailures <= 0 {
		return errors.New("Throttle MaxFailures must be > 0")
	}
	if c.Throttle.Window <= 0 || c.Throttle.LockDuration <= 0 {
		return errors.New("Throttle Window and LockDuration must be > 0")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP Digits must be between 6 and 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeLength < 8 {
		return errors.New("TOTP BackupCodeCount must be > 0 and BackupCodeLength >= 8")
	}
	if c.TOTP.MaxFailures <= 0 {
		return errors.New("TOTP MaxFailures must be > 0")
	}
	if c.TOTP.FailureWindow <= 0 || c.TOTP.LockDuration <= 0 {
		return errors.New("TOTP FailureWindow and LockDuration must be > 0")
	}

	if c.EmailVerification.CodeTTL <= 0 {
		return errors.New("EmailVerification CodeTTL must be > 0")
	}
	if c.EmailVerification.ResendInterval <= 0 {
		return errors.New("EmailVerification ResendInterval must be > 0")
	}
	if c.EmailVerification.MaxAttempts <= 0 {
		return errors.New("EmailVerification MaxAttempts must be > 0")
	}
	if c.EmailVerification.Digits < 6 || c.EmailVerification.Digits > 10 {
		return errors.New("EmailVerification Digits must be between 6 and 10")
	}

	if len(c.Security.Pepper) < 32 {
		return errors.New("Security Pepper must be at least 32 bytes")
	}

	if c.Store.FallbackSweepInterval < 0 {
		return errors.New("Store FallbackSweepInterval must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
