package authcore

import internalmetrics "github.com/MrEthical07/authcore/internal/metrics"

// MetricID identifies a counter or the latency histogram.
type MetricID = internalmetrics.MetricID

// Metrics holds the engine's counters. A nil *Metrics records nothing.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of every metric.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess               = internalmetrics.MetricLoginSuccess
	MetricLoginFailure               = internalmetrics.MetricLoginFailure
	MetricLoginLocked                = internalmetrics.MetricLoginLocked
	MetricRefreshSuccess             = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure             = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected       = internalmetrics.MetricRefreshReuseDetected
	MetricLogout                     = internalmetrics.MetricLogout
	MetricLogoutAll                  = internalmetrics.MetricLogoutAll
	MetricRegisterSuccess            = internalmetrics.MetricRegisterSuccess
	MetricRegisterDuplicate          = internalmetrics.MetricRegisterDuplicate
	MetricSessionCreated             = internalmetrics.MetricSessionCreated
	MetricSessionRevoked             = internalmetrics.MetricSessionRevoked
	MetricTwoFactorRequired          = internalmetrics.MetricTwoFactorRequired
	MetricTwoFactorEnabled           = internalmetrics.MetricTwoFactorEnabled
	MetricTwoFactorDisabled          = internalmetrics.MetricTwoFactorDisabled
	MetricTwoFactorFailure           = internalmetrics.MetricTwoFactorFailure
	MetricBackupCodeUsed             = internalmetrics.MetricBackupCodeUsed
	MetricBackupCodeFailed           = internalmetrics.MetricBackupCodeFailed
	MetricBackupCodeRegenerated      = internalmetrics.MetricBackupCodeRegenerated
	MetricEmailVerificationRequest   = internalmetrics.MetricEmailVerificationRequest
	MetricEmailVerificationThrottled = internalmetrics.MetricEmailVerificationThrottled
	MetricEmailVerificationSuccess   = internalmetrics.MetricEmailVerificationSuccess
	MetricEmailVerificationFailure   = internalmetrics.MetricEmailVerificationFailure
	MetricTokenRevoked               = internalmetrics.MetricTokenRevoked
	MetricStoreDegraded              = internalmetrics.MetricStoreDegraded
	MetricValidateLatency            = internalmetrics.MetricValidateLatency
)

// NewMetrics creates a metrics set. Builder does this for the Engine.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
