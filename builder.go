package authcore

import (
	"errors"
	"fmt"
	"strings"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/kv"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/throttle"
	"github.com/MrEthical07/authcore/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. It is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store. Without it every piece of security
// state is local to this process, which is only correct for a single
// instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink enables audit dispatch to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	e := &Engine{
		config:   cfg,
		logger:   logger,
		users:    b.users,
		notifier: notifier,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- SHARED STORE --------
	e.local = kv.NewMemory(cfg.Store.FallbackSweepInterval)
	if b.redis != nil {
		e.store = kv.NewFailover("security", kv.NewRedis(b.redis), e.local,
			kv.WithLogger(logger),
			kv.WithDegradedHook(func(string) { e.metricInc(MetricStoreDegraded) }),
		)
	} else {
		logger.Warn("no redis client configured, security state is process-local")
		e.store = e.local
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewHasher(password.Config{
		Algorithm: password.Algorithm(strings.ToLower(cfg.Password.Algorithm)),
		MinLength: cfg.Password.MinLength,
		MaxLength: cfg.Password.MaxLength,
		Argon2: password.Argon2Params{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		BCryptCost: cfg.Password.BCryptCost,
	})
	if err != nil {
		e.local.Close()
		return nil, fmt.Errorf("password: %w", err)
	}
	e.hasher = hasher

	// -------- REVOCATION + TOKENS --------
	e.revocation = revocation.New(e.store, revocation.Config{
		Prefix: cfg.Revocation.Prefix,
		Pepper: cfg.Security.Pepper,
	}, logger)

	e.tokens, err = jwt.NewManager(jwt.Config{
		SigningMethod:    jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		AccessKey:        cfg.JWT.AccessKey,
		RefreshKey:       cfg.JWT.RefreshKey,
		AccessPublicKey:  cfg.JWT.AccessPublicKey,
		RefreshPublicKey: cfg.JWT.RefreshPublicKey,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Issuer:           cfg.JWT.Issuer,
		Leeway:           cfg.JWT.Leeway,
		KeyID:            cfg.JWT.KeyID,
	}, e.revocation)
	if err != nil {
		e.local.Close()
		return nil, fmt.Errorf("jwt: %w", err)
	}

	// -------- SESSIONS + THROTTLE --------
	e.sessions = session.NewRegistry(e.store, cfg.Session.Prefix)
	e.throttle = throttle.New(e.store, throttle.Config{
		MaxFailures:  cfg.Throttle.MaxFailures,
		Window:       cfg.Throttle.Window,
		LockDuration: cfg.Throttle.LockDuration,
		Prefix:       cfg.Throttle.Prefix,
	}, logger)

	// -------- SECOND FACTORS --------
	e.totp, err = totp.New(totp.Config{
		Issuer:           cfg.TOTP.Issuer,
		Digits:           cfg.TOTP.Digits,
		Period:           cfg.TOTP.Period,
		Skew:             cfg.TOTP.Skew,
		Algorithm:        cfg.TOTP.Algorithm,
		BackupCodeCount:  cfg.TOTP.BackupCodeCount,
		BackupCodeLength: cfg.TOTP.BackupCodeLength,
		Pepper:           cfg.Security.Pepper,
	})
	if err != nil {
		e.local.Close()
		return nil, err
	}
	e.totpThrottle = throttle.New(e.store, throttle.Config{
		MaxFailures:  cfg.TOTP.MaxFailures,
		Window:       cfg.TOTP.FailureWindow,
		LockDuration: cfg.TOTP.LockDuration,
		Prefix:       cfg.TOTP.ThrottlePrefix,
	}, logger)

	e.verifier = otp.NewVerifier(e.store, hasher, otp.Config{
		CodeTTL:        cfg.EmailVerification.CodeTTL,
		ResendInterval: cfg.EmailVerification.ResendInterval,
		MaxAttempts:    cfg.EmailVerification.MaxAttempts,
		Digits:         cfg.EmailVerification.Digits,
		Prefix:         cfg.EmailVerification.Prefix,
		Pepper:         cfg.Security.Pepper,
	}, logger)

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		e.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	b.built = true
	return e, nil
}
