package authcore

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// ProviderPassword marks accounts that sign in with a password.
const ProviderPassword = "password"

// UserRecord is the subset of the persistent user record the engine reads.
// The UserStore is the system of record for it; the engine never caches
// it.
type UserRecord struct {
	ID             string
	Email          string
	PasswordHash   string
	Provider       string
	Active         bool
	EmailVerified  bool
	RefreshDigests []string
	TwoFactor      TwoFactor
	CreatedAt      time.Time
}

// TwoFactor is the 2FA state kept on the user record. SecretBase32 is
// trusted only once Enabled is true; while SetupPending it merely awaits
// the first verified code.
//
// LastUsedCounter is the last TOTP time step accepted for the account. It
// only moves forward through [UserStore.AdvanceTOTPCounter]; UpdateUser
// leaves it alone.
type TwoFactor struct {
	SecretBase32      string
	BackupCodeDigests []string
	Enabled           bool
	SetupPending      bool
	LastUsedCounter   int64
}

// NewUser is inserted by Register.
type NewUser struct {
	Email         string
	PasswordHash  string
	Provider      string
	Active        bool
	EmailVerified bool
}

// UserPatch updates the non-nil fields of a user record.
type UserPatch struct {
	PasswordHash  *string
	EmailVerified *bool
	TwoFactor     *TwoFactor
}

// UserStore is the persistent user-record collaborator.
//
// Emails are compared case-insensitively. The digest and counter methods
// must be atomic per user:
//   - AddRefreshDigest appends digest and, once more than limit digests
//     are held, drops the oldest and returns them.
//   - ReplaceRefreshDigest swaps oldDigest for newDigest only if oldDigest
//     is present and reports whether it did. newDigest counts as the
//     newest entry afterwards.
//   - ConsumeBackupCode removes digest only if present and reports whether
//     it did.
//   - AdvanceTOTPCounter stores counter only if it is greater than the
//     stored one and reports whether it did.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindUserByID(ctx context.Context, id string) (*UserRecord, error)
	InsertUser(ctx context.Context, user NewUser) (string, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) error

	AddRefreshDigest(ctx context.Context, id, digest string, limit int) (evicted []string, err error)
	ReplaceRefreshDigest(ctx context.Context, id, oldDigest, newDigest string) (bool, error)
	RemoveRefreshDigest(ctx context.Context, id, digest string) error
	ClearRefreshDigests(ctx context.Context, id string) error

	ConsumeBackupCode(ctx context.Context, id, digest string) (bool, error)
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error)
}

// Notifier delivers verification messages. Delivery is fire-and-forget:
// a returned error is logged, never surfaced.
type Notifier interface {
	SendVerificationMessage(ctx context.Context, destination, code, link string) error
}

type nopNotifier struct{}

func (nopNotifier) SendVerificationMessage(context.Context, string, string, string) error {
	return nil
}

// TokenPair is an issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// VerificationState describes a pending email verification without
// revealing the code or link.
type VerificationState struct {
	MaskedDestination string
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
}

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Email    string
	Password string
}

// RegisterResult is returned by [Engine.Register]. The account is usable
// at once; EmailVerified stays false until verification completes.
type RegisterResult struct {
	UserID        string
	SessionID     string
	Tokens        TokenPair
	EmailVerified bool
	Verification  *VerificationState
}

// LoginRequest is the input of [Engine.Login]. TOTPCode or BackupCode is
// needed only for accounts with 2FA enabled.
type LoginRequest struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	UserID            string
	SessionID         string
	Tokens            TokenPair
	EmailVerified     bool
	TwoFactorEnabled  bool
	UsedBackupCode    bool
	BackupCodesRemain int
}

// RefreshResult is returned by [Engine.Refresh].
type RefreshResult struct {
	UserID    string
	SessionID string
	Tokens    TokenPair
}

// AccessInfo is the verified content of an access token.
type AccessInfo struct {
	UserID        string
	Email         string
	EmailVerified bool
	// SessionID is empty for tokens minted before sessions were stamped.
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

// SessionInfo is the caller-facing view of a session. It omits the
// refresh digest.
type SessionInfo struct {
	ID           string
	Browser      string
	OS           string
	DeviceKind   string
	IPAddress    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// TwoFactorSetup is returned by [Engine.EnableTwoFactor]. BackupCodes are
// shown once; only their digests are stored.
type TwoFactorSetup struct {
	SecretBase32    string
	ProvisioningURI string
	QRCodePNG       []byte
	BackupCodes     []string
}

// AuditEvent is the structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// SentrySink reports failed audit events to Sentry.
type SentrySink = internalaudit.SentrySink

// NewChannelSink returns a [ChannelSink] with the given buffer.
var NewChannelSink = internalaudit.NewChannelSink

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
var NewJSONWriterSink = internalaudit.NewJSONWriterSink

// NewSentrySink returns a [SentrySink]; a nil hub uses the global one.
var NewSentrySink = internalaudit.NewSentrySink

// MultiSink fans every event out to each sink in order.
type MultiSink = internalaudit.MultiSink
