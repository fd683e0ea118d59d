// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config holds application configuration loaded from the environment.
// Components never read it directly; internal/app converts it into per-component options.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env      string `mapstructure:"APP_ENV"`
	AppName  string `mapstructure:"APP_NAME"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StoreDriver selects OTP and user persistence: memory, postgres or mongo.
	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	// RedisURL enables issuance rate limiting when set.
	RedisURL string `mapstructure:"REDIS_URL"`

	// OTPTestingMode skips real dispatch and stores OTPDummyCode instead of a generated code.
	OTPTestingMode                bool   `mapstructure:"OTP_TESTING_MODE"`
	OTPTestingModeAllowProduction bool   `mapstructure:"OTP_TESTING_MODE_ALLOW_PRODUCTION"`
	OTPDummyCode                  string `mapstructure:"OTP_DUMMY_CODE"`
	// OTPMasterCode is accepted for any user and purpose; empty disables it.
	OTPMasterCode        string        `mapstructure:"OTP_MASTER_CODE"`
	OTPValidityMinutes   int           `mapstructure:"OTP_VALIDITY_MINUTES"`
	OTPCodeLength        int           `mapstructure:"OTP_CODE_LENGTH"`
	OTPPurgeGrace        time.Duration `mapstructure:"OTP_PURGE_GRACE"`
	OTPRateWindow        time.Duration `mapstructure:"OTP_RATE_WINDOW"`
	OTPRateMaxPerWindow  int           `mapstructure:"OTP_RATE_MAX_PER_WINDOW"`
	OTPRateCooldown      time.Duration `mapstructure:"OTP_RATE_COOLDOWN"`

	// JWTSecret signs access tokens; reset-verification tokens use a secret derived from it.
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL     string `mapstructure:"JWT_REFRESH_TTL"`
	BcryptCost        int    `mapstructure:"BCRYPT_COST"`
	PasswordMinLength int    `mapstructure:"PASSWORD_MIN_LENGTH"`

	SMSLocalAPIKey         string        `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalBaseURL        string        `mapstructure:"SMS_LOCAL_BASE_URL"`
	SMSSenderID            string        `mapstructure:"SMS_SENDER_ID"`
	SMSRoute               string        `mapstructure:"SMS_ROUTE"`
	SMSCountryPrefix       string        `mapstructure:"SMS_COUNTRY_PREFIX"`
	DispatchMaxAttempts    int           `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchBaseDelay      time.Duration `mapstructure:"DISPATCH_BASE_DELAY"`
	DispatchMaxDelay       time.Duration `mapstructure:"DISPATCH_MAX_DELAY"`
	DispatchAttemptTimeout time.Duration `mapstructure:"DISPATCH_ATTEMPT_TIMEOUT"`

	// EmailTransport is smtp, ses or empty (email channel not configured).
	EmailTransport  string `mapstructure:"EMAIL_TRANSPORT"`
	EmailFrom       string `mapstructure:"EMAIL_FROM"`
	EmailMaxRetries int    `mapstructure:"EMAIL_MAX_RETRIES"`
	SMTPHost        string `mapstructure:"SMTP_HOST"`
	SMTPPort        int    `mapstructure:"SMTP_PORT"`
	SMTPUsername    string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword    string `mapstructure:"SMTP_PASSWORD"`
	AWSRegion       string `mapstructure:"AWS_REGION"`

	// KafkaBrokers is a comma-separated list; empty disables event publishing.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
	// Worker-only.
	KafkaGroupID     string        `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL          string        `mapstructure:"LOKI_URL"`
	WorkerHealthAddr string        `mapstructure:"WORKER_HEALTH_ADDR"`
	PurgeInterval    time.Duration `mapstructure:"PURGE_INTERVAL"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "LeadFlow")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DATABASE", "leadflow")
	v.SetDefault("REDIS_URL", "")

	v.SetDefault("OTP_TESTING_MODE", false)
	v.SetDefault("OTP_TESTING_MODE_ALLOW_PRODUCTION", false)
	v.SetDefault("OTP_DUMMY_CODE", "000000")
	v.SetDefault("OTP_MASTER_CODE", "")
	v.SetDefault("OTP_VALIDITY_MINUTES", 10)
	v.SetDefault("OTP_CODE_LENGTH", 6)
	v.SetDefault("OTP_PURGE_GRACE", "24h")
	v.SetDefault("OTP_RATE_WINDOW", "10m")
	v.SetDefault("OTP_RATE_MAX_PER_WINDOW", 5)
	v.SetDefault("OTP_RATE_COOLDOWN", "30s")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "leadflow-auth")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_MIN_LENGTH", 6)

	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("SMS_SENDER_ID", "")
	v.SetDefault("SMS_ROUTE", "otp")
	v.SetDefault("SMS_COUNTRY_PREFIX", "91")
	v.SetDefault("DISPATCH_MAX_ATTEMPTS", 3)
	v.SetDefault("DISPATCH_BASE_DELAY", "500ms")
	v.SetDefault("DISPATCH_MAX_DELAY", "5s")
	v.SetDefault("DISPATCH_ATTEMPT_TIMEOUT", "10s")

	v.SetDefault("EMAIL_TRANSPORT", "")
	v.SetDefault("EMAIL_FROM", "")
	v.SetDefault("EMAIL_MAX_RETRIES", 3)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("AWS_REGION", "")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "leadflow-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "leadflow-auth-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("WORKER_HEALTH_ADDR", ":8081")
	v.SetDefault("PURGE_INTERVAL", "1m")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required when STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("config: STORE_DRIVER must be one of memory, postgres, mongo (got %q)", c.StoreDriver)
	}

	if c.OTPTestingMode && c.Env == "production" && !c.OTPTestingModeAllowProduction {
		return errors.New("config: OTP_TESTING_MODE in production requires OTP_TESTING_MODE_ALLOW_PRODUCTION=true")
	}
	if c.OTPCodeLength < 4 || c.OTPCodeLength > 6 {
		return errors.New("config: OTP_CODE_LENGTH must be between 4 and 6")
	}
	if !isCode(c.OTPDummyCode) {
		return errors.New("config: OTP_DUMMY_CODE must be 4 to 6 digits")
	}
	if c.OTPMasterCode != "" && !isCode(c.OTPMasterCode) {
		return errors.New("config: OTP_MASTER_CODE must be 4 to 6 digits")
	}
	if c.OTPValidityMinutes <= 0 {
		return errors.New("config: OTP_VALIDITY_MINUTES must be positive")
	}

	if c.JWTSecret == "" || c.JWTRefreshSecret == "" {
		return errors.New("config: JWT_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if c.JWTSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_REFRESH_SECRET must differ from JWT_SECRET")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.PasswordMinLength < 1 {
		return errors.New("config: PASSWORD_MIN_LENGTH must be positive")
	}

	if c.EmailMaxRetries < 0 {
		return errors.New("config: EMAIL_MAX_RETRIES must not be negative")
	}
	switch c.EmailTransport {
	case "":
	case "smtp":
		if c.SMTPHost == "" {
			return errors.New("config: SMTP_HOST is required when EMAIL_TRANSPORT=smtp")
		}
	case "ses":
		if c.AWSRegion == "" {
			return errors.New("config: AWS_REGION is required when EMAIL_TRANSPORT=ses")
		}
	default:
		return fmt.Errorf("config: EMAIL_TRANSPORT must be smtp, ses or empty (got %q)", c.EmailTransport)
	}
	return nil
}

// OTPValidity returns the code validity window.
func (c *Config) OTPValidity() time.Duration {
	return time.Duration(c.OTPValidityMinutes) * time.Minute
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isCode(s string) bool {
	if len(s) < 4 || len(s) > 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
