package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	CasbinDatabase DatabaseConfig       `mapstructure:"casbin_database"`
	Mongo          MongoConfig          `mapstructure:"mongo"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Server         ServerConfig         `mapstructure:"server"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Authorization  AuthorizationConfig  `mapstructure:"authorization"`
	Email          EmailConfig          `mapstructure:"email"`
	SMS            SMSConfig            `mapstructure:"sms"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Nats           NatsConfig           `mapstructure:"nats"`
	Billing        BillingConfig        `mapstructure:"billing"`
	Jobs           JobsConfig           `mapstructure:"jobs"`
}

type NatsConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type DatabaseConfig struct {
	Host       string                  `mapstructure:"host"`
	Port       int                     `mapstructure:"port"`
	User       string                  `mapstructure:"user"`
	Password   string                  `mapstructure:"password"`
	DBName     string                  `mapstructure:"dbname"`
	SSLMode    string                  `mapstructure:"sslmode"`
	Pool       DatabasePoolConfig      `mapstructure:"pool"`
	Migrations DatabaseMigrationConfig `mapstructure:"migrations"`
}

type DatabasePoolConfig struct {
	MaxOpenConns       int `mapstructure:"max_open_conns"`
	MaxIdleConns       int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin int `mapstructure:"conn_max_lifetime_minutes"`
}

type DatabaseMigrationConfig struct {
	AutoMigrate bool `mapstructure:"auto_migrate"`
	SafeMode    bool `mapstructure:"safe_mode"`
}

type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	MaxPoolSize           uint64 `mapstructure:"max_pool_size"`
	EnsureIndexes         bool   `mapstructure:"ensure_indexes"`
}

type RedisConfig struct {
	Addr                string `mapstructure:"addr"`
	DB                  int    `mapstructure:"db"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	PoolSize            int    `mapstructure:"pool_size"`
	MinIdleConns        int    `mapstructure:"min_idle_conns"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

type RateLimitConfig struct {
	Max               int `mapstructure:"max"`
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	Environment    string          `mapstructure:"environment"`
	Domain         string          `mapstructure:"domain"`
	Databases      []string        `mapstructure:"databases"`
	CORS           CORSConfig      `mapstructure:"cors"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	ExposeHeaders    []string `mapstructure:"expose_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAgeSeconds    int      `mapstructure:"max_age_seconds"`
}

type AuthenticationConfig struct {
	Paseto            PasetoConfig `mapstructure:"paseto"`
	SessionTTLMinutes int          `mapstructure:"session_ttl_minutes"`
	// RequireSession rejects access tokens whose session key is missing from Redis.
	RequireSession bool `mapstructure:"require_session"`
}

type PasetoConfig struct {
	Mode             string `mapstructure:"mode"`
	LocalKeyHex      string `mapstructure:"local_key_hex"`
	SecretKeyHex     string `mapstructure:"secret_key_hex"`
	PublicKeyHex     string `mapstructure:"public_key_hex"`
	Issuer           string `mapstructure:"issuer"`
	Audience         string `mapstructure:"audience"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
}

type AuthorizationConfig struct {
	CasbinModelPath    string `mapstructure:"casbin_model_path"`
	EnableAudit        bool   `mapstructure:"enable_audit"`
	PolicySyncEnabled  bool   `mapstructure:"policy_sync_enabled"`
	HealthCheckEnabled bool   `mapstructure:"health_check_enabled"`
}

type EmailConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	From    string     `mapstructure:"from"`
	AppName string     `mapstructure:"app_name"`
	BaseURL string     `mapstructure:"base_url"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	UseTLS         bool   `mapstructure:"use_tls"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SMSConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	DefaultRegion string      `mapstructure:"default_region"`
	SMSIR         SMSIRConfig `mapstructure:"smsir"`
}

type SMSIRConfig struct {
	APIKey             string `mapstructure:"api_key"`
	SecretKey          string `mapstructure:"secret_key"`
	StatusTemplateID   string `mapstructure:"status_template_id"`
	RefundTemplateID   string `mapstructure:"refund_template_id"`
	PayoutTemplateID   string `mapstructure:"payout_template_id"`
	RequestTimeoutSecs int    `mapstructure:"request_timeout_seconds"`
}

type ObservabilityConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string       `mapstructure:"level"`  // debug, info, warn, error
	Format string       `mapstructure:"format"` // text, json
	Output OutputConfig `mapstructure:"output"`
}

type OutputConfig struct {
	Stdout bool          `mapstructure:"stdout"`
	File   FileLogConfig `mapstructure:"file"`
	Loki   LokiConfig    `mapstructure:"loki"`
}

type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`        // e.g. "logs/app.log"
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // rotate after N MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type LokiConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // e.g. "http://localhost:3100"
	TenantID string `mapstructure:"tenant_id"`
	Username string `mapstructure:"username"` // for Grafana Cloud basic auth
	Password string `mapstructure:"password"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// BackendURL overrides the API base, e.g. for stripe-mock.
	BackendURL string `mapstructure:"backend_url"`
}

// BillingConfig holds every money and timing constant used by the engine.
type BillingConfig struct {
	Currency string `mapstructure:"currency"`

	FreeCancellationHours    int     `mapstructure:"free_cancellation_hours"`
	LateCancellationFraction float64 `mapstructure:"late_cancellation_fraction"`
	SameDaySurcharge         float64 `mapstructure:"same_day_surcharge"`

	PayoutBaseRate           float64 `mapstructure:"payout_base_rate"`
	PayoutTierRate           float64 `mapstructure:"payout_tier_rate"`
	PayoutTierSessions       int     `mapstructure:"payout_tier_sessions"`
	TherapistLevelUpSessions int     `mapstructure:"therapist_level_up_sessions"`
	PayoutWeekday            string  `mapstructure:"payout_weekday"`
	PayoutMethod             string  `mapstructure:"payout_method"`
	PayoutRecoveryMinutes    int     `mapstructure:"payout_recovery_minutes"`

	ProviderTimeoutSeconds      int `mapstructure:"provider_timeout_seconds"`
	VerificationCacheTTLMinutes int `mapstructure:"verification_cache_ttl_minutes"`
	ExpiryGraceHours            int `mapstructure:"expiry_grace_hours"`
}

type JobsConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	LockTTLSeconds     int    `mapstructure:"lock_ttl_seconds"`
	RecurringRepair    string `mapstructure:"recurring_repair"`
	BalanceRepair      string `mapstructure:"balance_repair"`
	ExpireConfirmed    string `mapstructure:"expire_confirmed"`
	PayoutRecovery     string `mapstructure:"payout_recovery"`
	ScheduledPayouts   string `mapstructure:"scheduled_payouts"`
	RunTimeoutSeconds  int    `mapstructure:"run_timeout_seconds"`
	RunOnStartup       bool   `mapstructure:"run_on_startup"`
	DisableLeaderCheck bool   `mapstructure:"disable_leader_check"`
}

func (b BillingConfig) ProviderTimeout() time.Duration {
	if b.ProviderTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.ProviderTimeoutSeconds) * time.Second
}

func (b BillingConfig) VerificationCacheTTL() time.Duration {
	if b.VerificationCacheTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(b.VerificationCacheTTLMinutes) * time.Minute
}

func (b BillingConfig) FreeCancellationWindow() time.Duration {
	if b.FreeCancellationHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.FreeCancellationHours) * time.Hour
}

func (b BillingConfig) ExpiryGrace() time.Duration {
	if b.ExpiryGraceHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(b.ExpiryGraceHours) * time.Hour
}

func (b BillingConfig) PayoutRecoveryGrace() time.Duration {
	if b.PayoutRecoveryMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(b.PayoutRecoveryMinutes) * time.Minute
}

// PayoutDay parses PayoutWeekday, defaulting to Friday.
func (b BillingConfig) PayoutDay() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(b.PayoutWeekday)) {
			return d
		}
	}
	return time.Friday
}

// DefaultBilling mirrors the production pricing rules.
func DefaultBilling() BillingConfig {
	return BillingConfig{
		Currency:                    "usd",
		FreeCancellationHours:       24,
		LateCancellationFraction:    0.5,
		SameDaySurcharge:            20,
		PayoutBaseRate:              0.50,
		PayoutTierRate:              0.57,
		PayoutTierSessions:          9,
		TherapistLevelUpSessions:    100,
		PayoutWeekday:               "friday",
		PayoutMethod:                "bank_transfer",
		PayoutRecoveryMinutes:       15,
		ProviderTimeoutSeconds:      10,
		VerificationCacheTTLMinutes: 60,
		ExpiryGraceHours:            72,
	}
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Mongo.URI) == "" {
		errs = append(errs, errors.New("mongo.uri is required"))
	}

	b := c.Billing
	if b.LateCancellationFraction < 0 || b.LateCancellationFraction > 1 {
		errs = append(errs, fmt.Errorf("billing.late_cancellation_fraction must be within [0,1], got %v", b.LateCancellationFraction))
	}
	if b.PayoutBaseRate <= 0 || b.PayoutBaseRate > 1 {
		errs = append(errs, fmt.Errorf("billing.payout_base_rate must be within (0,1], got %v", b.PayoutBaseRate))
	}
	if b.PayoutTierRate < b.PayoutBaseRate || b.PayoutTierRate > 1 {
		errs = append(errs, fmt.Errorf("billing.payout_tier_rate must be within [base,1], got %v", b.PayoutTierRate))
	}
	if b.PayoutTierSessions <= 0 {
		errs = append(errs, errors.New("billing.payout_tier_sessions must be positive"))
	}
	if b.SameDaySurcharge < 0 {
		errs = append(errs, errors.New("billing.same_day_surcharge must not be negative"))
	}
	if strings.TrimSpace(b.Currency) == "" {
		errs = append(errs, errors.New("billing.currency is required"))
	}

	return errors.Join(errs...)
}
