package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
)

type serverConfig struct {
	Addr          string
	Environment   string
	DatabaseURL   string
	RunMigrations bool
	RedisAddr     string
	SentryDSN     string
	AuditStdout   bool

	Engine authcore.Config
}

// loadConfig reads the process environment. Unset variables keep the
// engine defaults.
func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		Addr:          envOr("AUTH_ADDR", ":8080"),
		Environment:   envOr("APP_ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RunMigrations: envBool("AUTH_RUN_MIGRATIONS", true),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		AuditStdout:   envBool("AUTH_AUDIT_STDOUT", false),
		Engine:        authcore.DefaultConfig(),
	}

	e := &cfg.Engine
	e.JWT.AccessKey = []byte(os.Getenv("AUTH_JWT_ACCESS_KEY"))
	e.JWT.RefreshKey = []byte(os.Getenv("AUTH_JWT_REFRESH_KEY"))
	e.JWT.Issuer = envOr("AUTH_JWT_ISSUER", e.JWT.Issuer)
	e.JWT.AccessTTL = envDuration("AUTH_ACCESS_TTL", e.JWT.AccessTTL)
	e.JWT.RefreshTTL = envDuration("AUTH_REFRESH_TTL", e.JWT.RefreshTTL)
	e.Security.Pepper = []byte(os.Getenv("AUTH_PEPPER"))
	e.Security.RevokeOnRefreshReuse = envBool("AUTH_REVOKE_ON_REFRESH_REUSE", e.Security.RevokeOnRefreshReuse)

	e.Password.Algorithm = envOr("AUTH_PASSWORD_ALGORITHM", e.Password.Algorithm)
	e.Password.MinLength = envInt("AUTH_PASSWORD_MIN_LENGTH", e.Password.MinLength)

	e.Throttle.MaxFailures = envInt("AUTH_LOGIN_MAX_FAILURES", e.Throttle.MaxFailures)
	e.Throttle.Window = envDuration("AUTH_LOGIN_WINDOW", e.Throttle.Window)
	e.Throttle.LockDuration = envDuration("AUTH_LOGIN_LOCK", e.Throttle.LockDuration)

	e.TOTP.Issuer = envOr("AUTH_TOTP_ISSUER", e.TOTP.Issuer)
	e.TOTP.MaxFailures = envInt("AUTH_TOTP_MAX_FAILURES", e.TOTP.MaxFailures)
	e.TOTP.LockDuration = envDuration("AUTH_TOTP_LOCK", e.TOTP.LockDuration)
	e.Session.MaxPerUser = envInt("AUTH_MAX_SESSIONS", e.Session.MaxPerUser)
	e.EmailVerification.LinkBaseURL = os.Getenv("AUTH_VERIFY_LINK_BASE")
	e.EmailVerification.RequireForLogin = envBool("AUTH_REQUIRE_VERIFIED_EMAIL", e.EmailVerification.RequireForLogin)

	e.Metrics.EnableLatencyHistograms = envBool("AUTH_LATENCY_HISTOGRAMS", false)

	if len(e.JWT.AccessKey) == 0 || len(e.JWT.RefreshKey) == 0 || len(e.Security.Pepper) == 0 {
		return cfg, errors.New("AUTH_JWT_ACCESS_KEY, AUTH_JWT_REFRESH_KEY and AUTH_PEPPER are required")
	}
	return cfg, e.Validate()
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go duration syntax ("15m", "168h").
func envDuration(name string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
