package jwt

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm for both token kinds.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType separates access from refresh tokens inside the claims so a
// token of one kind can never be accepted as the other.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrInvalid is returned for every token that fails verification.
	ErrInvalid = errors.New("token invalid")
	// ErrRevoked marks tokens rejected by the revocation checker. It is always
	// wrapped together with ErrInvalid.
	ErrRevoked = errors.New("token revoked")
)

// RevocationChecker is consulted before any signature work.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) bool
}

// Config holds key material and lifetimes. For hs256, AccessKey and
// RefreshKey are shared secrets. For ed25519 they are private keys (raw or
// PEM) and the public halves go in AccessPublicKey and RefreshPublicKey;
// a verify-only manager may omit the private keys.
type Config struct {
	SigningMethod    SigningMethod
	AccessKey        []byte
	RefreshKey       []byte
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Issuer           string
	Leeway           time.Duration
	MaxFutureIAT     time.Duration
	KeyID            string
}

// Claims is the typed claim set carried by both token kinds.
type Claims struct {
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified,omitempty"`
	SessionID     string    `json:"sid,omitempty"`
	Type          TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Subject is what the caller supplies when issuing tokens.
type Subject struct {
	UserID        string
	Email         string
	EmailVerified bool
	// SessionID is stamped on access tokens only.
	SessionID string
}

// Token is an issued compact JWT and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type keyPair struct {
	sign   interface{}
	verify interface{}
}

// Manager issues and verifies access and refresh tokens.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	access  keyPair
	refresh keyPair
	revoked RevocationChecker
	now     func() time.Time
}

// NewManager validates cfg. revoked may be nil.
func NewManager(cfg Config, revoked RevocationChecker) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, revoked: revoked, now: time.Now}

	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		m.method = jwt.SigningMethodHS256
		if len(cfg.AccessKey) < 32 || len(cfg.RefreshKey) < 32 {
			return nil, errors.New("hs256 secrets must be at least 32 bytes")
		}
		if bytes.Equal(cfg.AccessKey, cfg.RefreshKey) {
			return nil, errors.New("access and refresh secrets must differ")
		}
		m.access = keyPair{sign: cfg.AccessKey, verify: cfg.AccessKey}
		m.refresh = keyPair{sign: cfg.RefreshKey, verify: cfg.RefreshKey}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if m.access, err = edPair(cfg.AccessKey, cfg.AccessPublicKey); err != nil {
			return nil, fmt.Errorf("access key: %w", err)
		}
		if m.refresh, err = edPair(cfg.RefreshKey, cfg.RefreshPublicKey); err != nil {
			return nil, fmt.Errorf("refresh key: %w", err)
		}
		a, _ := m.access.verify.(ed25519.PublicKey)
		r, _ := m.refresh.verify.(ed25519.PublicKey)
		if a.Equal(r) {
			return nil, errors.New("access and refresh keys must differ")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

func edPair(private, public []byte) (keyPair, error) {
	var pair keyPair
	if len(private) > 0 {
		priv, err := parseEdPrivateKey(private)
		if err != nil {
			return pair, err
		}
		pair.sign = priv
		pair.verify = priv.Public().(ed25519.PublicKey)
	}
	if len(public) > 0 {
		pub, err := parseEdPublicKey(public)
		if err != nil {
			return pair, err
		}
		pair.verify = pub
	}
	if pair.verify == nil {
		return pair, errors.New("ed25519 requires a private or public key")
	}
	return pair, nil
}

// AccessTTL returns the configured access lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token valid for ttl, or for the configured
// access TTL when ttl is zero.
func (m *Manager) IssueAccess(sub Subject, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		ttl = m.config.AccessTTL
	}
	claims := m.claims(sub.UserID, TypeAccess, ttl)
	claims.Email = sub.Email
	claims.EmailVerified = sub.EmailVerified
	claims.SessionID = sub.SessionID
	return m.sign(claims, m.access)
}

// IssueRefresh signs a refresh token valid for the configured refresh TTL.
// Refresh tokens carry only the subject.
func (m *Manager) IssueRefresh(sub Subject) (Token, error) {
	return m.sign(m.claims(sub.UserID, TypeRefresh, m.config.RefreshTTL), m.refresh)
}

func (m *Manager) claims(userID string, typ TokenType, ttl time.Duration) *Claims {
	now := m.now()
	return &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// unique per token even when issued within the same second
			ID: uuid.NewString(),
		},
	}
}

func (m *Manager) sign(claims *Claims, keys keyPair) (Token, error) {
	if claims.Subject == "" {
		return Token{}, errors.New("empty subject")
	}
	if keys.sign == nil {
		return Token{}, errors.New("manager has no signing key")
	}
	tok := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}
	value, err := tok.SignedString(keys.sign)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: value, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// VerifyAccess checks revocation, signature, expiry and type.
func (m *Manager) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	return m.verify(ctx, token, TypeAccess, m.access)
}

// VerifyRefresh is VerifyAccess for refresh tokens and the refresh key.
func (m *Manager) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	return m.verify(ctx, token, TypeRefresh, m.refresh)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

func (m *Manager) verify(ctx context.Context, token string, want TokenType, keys keyPair) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, invalid(errors.New("malformed token"))
	}
	if m.revoked != nil && m.revoked.IsRevoked(ctx, token) {
		return nil, invalid(ErrRevoked)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if m.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return keys.verify, nil
	})
	if err != nil {
		return nil, invalid(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, invalid(jwt.ErrTokenInvalidClaims)
	}
	if claims.Type != want {
		return nil, invalid(fmt.Errorf("expected %s token, got %q", want, claims.Type))
	}
	if claims.Subject == "" {
		return nil, invalid(errors.New("missing subject"))
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
		return nil, invalid(errors.New("token iat too far in the future"))
	}

	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
