package config

import "time"

// Application constants
const (
	AppName    = "licensed"
	AppVersion = "1.0.0"

	// Rate Limiting
	DefaultRateLimit = 100 // requests per second
	DefaultBurstSize = 50

	// Key material
	DefaultKeyVersion = "v1"
	DefaultCipher     = "aes-256-gcm"

	// License lifecycle
	LicenseCacheDuration   = time.Hour
	RenewalWindowBefore    = 30 * 24 * time.Hour
	RenewalWindowAfter     = 7 * 24 * time.Hour
	DefaultCheckInInterval = 24 * time.Hour
	DefaultMaxFailedChecks = 3
	DefaultGracePeriod     = 7 * 24 * time.Hour
	DefaultTrialPeriod     = 14 * 24 * time.Hour

	// Domains
	DomainVerificationTimeout   = 10 * time.Second
	DomainVerificationFreshness = 30 * 24 * time.Hour
	StaleDomainAge              = 30 * 24 * time.Hour

	// Hardware
	HardwareMaxAttempts         = 3
	HardwareAttemptWindow       = 24 * time.Hour
	HardwareRecencyWindow       = 30 * 24 * time.Hour
	HardwareSimilarityThreshold = 0.7
)

// LocalDomainSuffixes are the development suffixes that never count toward domain quota.
var LocalDomainSuffixes = []string{".local", ".localhost", ".test", ".example", ".invalid"}
