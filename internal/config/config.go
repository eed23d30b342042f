package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

var keyVersionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "LICENSED"

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Security    SecurityConfig    `yaml:"security" envconfig:"SECURITY"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Redis       RedisConfig       `yaml:"redis" envconfig:"REDIS"`
	Keys        KeysConfig        `yaml:"keys" envconfig:"KEYS"`
	License     LicenseConfig     `yaml:"license" envconfig:"LICENSE"`
	Domain      DomainConfig      `yaml:"domain" envconfig:"DOMAIN"`
	Hardware    HardwareConfig    `yaml:"hardware" envconfig:"HARDWARE"`
	Marketplace MarketplaceConfig `yaml:"marketplace" envconfig:"MARKETPLACE"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	AdminToken     string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// DatabaseConfig selects the relational store backing licenses.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// RedisConfig enables the shared cache, attempt limiter and optional key storage.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	URL       string `yaml:"url" envconfig:"URL"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// KeysConfig controls where per-license key material lives.
type KeysConfig struct {
	Backend   string `yaml:"backend" envconfig:"BACKEND"`
	Root      string `yaml:"root" envconfig:"ROOT"`
	Version   string `yaml:"version" envconfig:"VERSION"`
	Algorithm string `yaml:"algorithm" envconfig:"ALGORITHM"`
}

// LicenseConfig holds lifecycle policy defaults.
type LicenseConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	CacheMaxSize        int           `yaml:"cache_max_size" envconfig:"CACHE_MAX_SIZE"`
	RenewalWindowBefore time.Duration `yaml:"renewal_window_before" envconfig:"RENEWAL_WINDOW_BEFORE"`
	RenewalWindowAfter  time.Duration `yaml:"renewal_window_after" envconfig:"RENEWAL_WINDOW_AFTER"`
	CheckInInterval     time.Duration `yaml:"check_in_interval" envconfig:"CHECK_IN_INTERVAL"`
	MaxFailedChecks     int           `yaml:"max_failed_checks" envconfig:"MAX_FAILED_CHECKS"`
	GracePeriod         time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD"`
	TrialPeriod         time.Duration `yaml:"trial_period" envconfig:"TRIAL_PERIOD"`
}

// DomainConfig holds domain validation and ownership verification settings.
type DomainConfig struct {
	VerificationTimeout   time.Duration `yaml:"verification_timeout" envconfig:"VERIFICATION_TIMEOUT"`
	DNSServer             string        `yaml:"dns_server" envconfig:"DNS_SERVER"`
	TXTRecordPrefix       string        `yaml:"txt_record_prefix" envconfig:"TXT_RECORD_PREFIX"`
	VerificationPath      string        `yaml:"verification_path" envconfig:"VERIFICATION_PATH"`
	VerificationFreshness time.Duration `yaml:"verification_freshness" envconfig:"VERIFICATION_FRESHNESS"`
	StaleDomainAge        time.Duration `yaml:"stale_domain_age" envconfig:"STALE_DOMAIN_AGE"`
	LocalSuffixes         []string      `yaml:"local_suffixes" envconfig:"LOCAL_SUFFIXES"`
	ResolveLocal          bool          `yaml:"resolve_local" envconfig:"RESOLVE_LOCAL"`
}

// HardwareConfig holds machine binding policy.
type HardwareConfig struct {
	MaxAttempts         int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	AttemptWindow       time.Duration `yaml:"attempt_window" envconfig:"ATTEMPT_WINDOW"`
	RecencyWindow       time.Duration `yaml:"recency_window" envconfig:"RECENCY_WINDOW"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" envconfig:"SIMILARITY_THRESHOLD"`
}

// MarketplaceConfig configures purchase-code verification.
type MarketplaceConfig struct {
	EnvatoBaseURL string        `yaml:"envato_base_url" envconfig:"ENVATO_BASE_URL"`
	EnvatoToken   string        `yaml:"envato_token" envconfig:"ENVATO_TOKEN"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// TelemetryConfig configures OpenTelemetry providers.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
}

// Load builds the configuration from defaults, an optional YAML file and
// LICENSED_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks ranges and normalizes values that have a single supported form.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch c.Keys.Backend {
	case "fs", "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("keys backend redis requires redis to be enabled")
		}
	default:
		return fmt.Errorf("unsupported keys backend: %q", c.Keys.Backend)
	}
	if c.Keys.Backend == "fs" && c.Keys.Root == "" {
		return fmt.Errorf("keys root directory is required for fs backend")
	}
	if c.Keys.Version == "" {
		return fmt.Errorf("keys version is required")
	}
	if !keyVersionPattern.MatchString(c.Keys.Version) {
		return fmt.Errorf("keys version %q must be 1-16 letters, digits, '-' or '_'", c.Keys.Version)
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required when redis is enabled")
	}

	if c.Hardware.SimilarityThreshold <= 0 || c.Hardware.SimilarityThreshold > 1 {
		return fmt.Errorf("hardware similarity threshold must be in (0, 1]: %v", c.Hardware.SimilarityThreshold)
	}
	if c.Hardware.MaxAttempts <= 0 {
		return fmt.Errorf("hardware max attempts must be positive")
	}
	if c.License.MaxFailedChecks <= 0 {
		return fmt.Errorf("license max failed checks must be positive")
	}
	if c.Domain.VerificationTimeout <= 0 {
		return fmt.Errorf("domain verification timeout must be positive")
	}

	// Logs are always structured JSON.
	c.Logging.Format = "json"
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" when none exists.
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"licensed.yaml",
		"configs/licensed.yaml",
		"../configs/licensed.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/licensed.log",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "licensed.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "licensed",
		},
		Keys: KeysConfig{
			Backend:   "fs",
			Root:      "storage/keys",
			Version:   DefaultKeyVersion,
			Algorithm: DefaultCipher,
		},
		License: LicenseConfig{
			CacheTTL:            LicenseCacheDuration,
			CacheMaxSize:        1000,
			RenewalWindowBefore: RenewalWindowBefore,
			RenewalWindowAfter:  RenewalWindowAfter,
			CheckInInterval:     DefaultCheckInInterval,
			MaxFailedChecks:     DefaultMaxFailedChecks,
			GracePeriod:         DefaultGracePeriod,
			TrialPeriod:         DefaultTrialPeriod,
		},
		Domain: DomainConfig{
			VerificationTimeout:   DomainVerificationTimeout,
			DNSServer:             "8.8.8.8:53",
			TXTRecordPrefix:       "_license-verification",
			VerificationPath:      "/.well-known/license-verification.txt",
			VerificationFreshness: DomainVerificationFreshness,
			StaleDomainAge:        StaleDomainAge,
			LocalSuffixes:         append([]string(nil), LocalDomainSuffixes...),
		},
		Hardware: HardwareConfig{
			MaxAttempts:         HardwareMaxAttempts,
			AttemptWindow:       HardwareAttemptWindow,
			RecencyWindow:       HardwareRecencyWindow,
			SimilarityThreshold: HardwareSimilarityThreshold,
		},
		Marketplace: MarketplaceConfig{
			EnvatoBaseURL: "https://api.envato.com",
			Timeout:       10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			MetricsEnabled: true,
		},
	}
}
