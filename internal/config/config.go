// Package config loads service configuration from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Email provider names.
const (
	EmailProviderSMTP     = "smtp"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderNone     = "none"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Auth       AuthConfig
	OAuth      OAuthConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Email      EmailConfig
	SMTP       SMTPConfig
	SendGrid   SendGridConfig
	Worker     WorkerConfig
	Invitation InvitationConfig
	Archive    ArchiveConfig
	Tracing    TracingConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Real-IP and X-Forwarded-For headers are honoured. Empty trusts none.
	TrustedProxies  []string
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as
// a single-host prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	// ConnectAttempts and ConnectBackoff control the startup ping retries.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SamplingEnabled   bool
	SamplingThreshold int
	SamplingEvery     int

	SkipHealthLogs     bool
	SlowRequestSeconds int
}

// AuthConfig holds session token configuration.
type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	AccessTokenDuration time.Duration
	BcryptCost          int
	// VerifyMaxAttempts caps email verification code attempts per user
	// within VerifyAttemptWindow.
	VerifyMaxAttempts   int
	VerifyAttemptWindow time.Duration
}

// OAuthConfig holds OAuth provider configuration.
type OAuthConfig struct {
	// StateDuration is how long a google-auth state stays redeemable.
	StateDuration time.Duration
	HTTPTimeout   time.Duration
	Google        OAuthProviderConfig
}

// OAuthProviderConfig holds configuration for a single OAuth provider.
type OAuthProviderConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// IsConfigured returns true if the provider is properly configured.
func (c *OAuthProviderConfig) IsConfigured() bool {
	return c.Enabled && c.ClientID != "" && c.ClientSecret != ""
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds limits for the public acceptance endpoints.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// EmailConfig selects the provider and builds links.
type EmailConfig struct {
	Provider string
	// BaseURL is the frontend origin used in invitation links.
	BaseURL string
	// AcceptPath is appended to BaseURL, followed by the token.
	AcceptPath string
}

// InvitationURL returns the link sent to an invitee.
func (c *EmailConfig) InvitationURL(token string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.AcceptPath, "/") + "/" + token
}

// SMTPConfig holds SMTP configuration for sending emails.
type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	FromName   string
	TLS        bool
	SkipVerify bool
	Timeout    time.Duration
}

// IsConfigured returns true if SMTP is properly configured.
func (c *SMTPConfig) IsConfigured() bool {
	return c.Host != "" && c.Port > 0 && c.From != ""
}

// SendGridConfig holds SendGrid configuration.
type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
}

// IsConfigured returns true if SendGrid is properly configured.
func (c *SendGridConfig) IsConfigured() bool {
	return c.APIKey != "" && c.From != ""
}

// WorkerConfig holds asynq worker configuration.
type WorkerConfig struct {
	Enabled     bool
	Concurrency int
	MaxRetry    int
	// RetryBase is the first backoff step; each retry doubles it.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// InvitationConfig holds lifecycle and retention settings.
type InvitationConfig struct {
	TTL             time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	RetentionDays   int
	RetentionCron   string
	AuditRetention  int
	BulkCreateLimit int
	BulkActionLimit int
	StatsCacheTTL   time.Duration
	VerificationTTL time.Duration
}

// ArchiveConfig holds the S3 destination for retention exports.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// RoleARN, when set, is assumed through STS on top of the base credentials.
	RoleARN    string
	ExternalID string
}

// TracingConfig holds OpenTelemetry export configuration.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// EncryptionConfig holds the key protecting verification secrets at rest.
type EncryptionConfig struct {
	Key string // 64 hex characters
}

// IsConfigured returns true if an encryption key is set.
func (c *EncryptionConfig) IsConfigured() bool {
	return c.Key != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "invitations"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
			TrustedProxies:  getEnvSlice("SERVER_TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "invitations"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "invitations"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
			ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),
			ConnectBackoff:  getEnvDuration("DB_CONNECT_BACKOFF", 2*time.Second),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
		},
		Log: LogConfig{
			Level:              getEnv("LOG_LEVEL", "info"),
			Format:             getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:    getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold:  getEnvInt("LOG_SAMPLING_THRESHOLD", 50),
			SamplingEvery:      getEnvInt("LOG_SAMPLING_EVERY", 10),
			SkipHealthLogs:     getEnvBool("LOG_SKIP_HEALTH", true),
			SlowRequestSeconds: getEnvInt("LOG_SLOW_REQUEST_SECONDS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:           getEnv("AUTH_JWT_ISSUER", "invitations"),
			AccessTokenDuration: getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", time.Hour),
			BcryptCost:          getEnvInt("AUTH_BCRYPT_COST", 12),
			VerifyMaxAttempts:   getEnvInt("AUTH_VERIFY_MAX_ATTEMPTS", 5),
			VerifyAttemptWindow: getEnvDuration("AUTH_VERIFY_ATTEMPT_WINDOW", 15*time.Minute),
		},
		OAuth: OAuthConfig{
			StateDuration: getEnvDuration("OAUTH_STATE_DURATION", 10*time.Minute),
			HTTPTimeout:   getEnvDuration("OAUTH_HTTP_TIMEOUT", 30*time.Second),
			Google: OAuthProviderConfig{
				Enabled:      getEnvBool("OAUTH_GOOGLE_ENABLED", false),
				ClientID:     getEnv("OAUTH_GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("OAUTH_GOOGLE_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("OAUTH_GOOGLE_REDIRECT_URL", "http://localhost:3000/invitations/google/callback"),
				Scopes:       getEnvSlice("OAUTH_GOOGLE_SCOPES", []string{"openid", "email", "profile"}),
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
			Requests: getEnvInt("RATE_LIMIT_PUBLIC_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_PUBLIC_WINDOW", time.Minute),
		},
		Email: EmailConfig{
			Provider:   strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
			BaseURL:    getEnv("EMAIL_BASE_URL", "http://localhost:3000"),
			AcceptPath: getEnv("EMAIL_ACCEPT_PATH", "/invitations"),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvInt("SMTP_PORT", 587),
			User:       getEnv("SMTP_USER", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			From:       getEnv("SMTP_FROM", ""),
			FromName:   getEnv("SMTP_FROM_NAME", "Invitations"),
			TLS:        getEnvBool("SMTP_TLS", true),
			SkipVerify: getEnvBool("SMTP_SKIP_VERIFY", false),
			Timeout:    getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		SendGrid: SendGridConfig{
			APIKey:   getEnv("SENDGRID_API_KEY", ""),
			From:     getEnv("SENDGRID_FROM", ""),
			FromName: getEnv("SENDGRID_FROM_NAME", "Invitations"),
		},
		Worker: WorkerConfig{
			Enabled:     getEnvBool("WORKER_ENABLED", true),
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 10),
			MaxRetry:    getEnvInt("WORKER_MAX_RETRY", 5),
			RetryBase:   getEnvDuration("WORKER_RETRY_BASE", 10*time.Second),
			RetryMax:    getEnvDuration("WORKER_RETRY_MAX", 10*time.Minute),
		},
		Invitation: InvitationConfig{
			TTL:             getEnvDuration("INVITATION_TTL", 7*24*time.Hour),
			SweepInterval:   getEnvDuration("INVITATION_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatchSize:  getEnvInt("INVITATION_SWEEP_BATCH_SIZE", 500),
			RetentionDays:   getEnvInt("INVITATION_RETENTION_DAYS", 90),
			RetentionCron:   getEnv("INVITATION_RETENTION_CRON", "0 0 3 * * *"),
			AuditRetention:  getEnvInt("AUDIT_RETENTION_DAYS", 365),
			BulkCreateLimit: getEnvInt("INVITATION_BULK_CREATE_LIMIT", 100),
			BulkActionLimit: getEnvInt("INVITATION_BULK_ACTION_LIMIT", 50),
			StatsCacheTTL:   getEnvDuration("INVITATION_STATS_CACHE_TTL", time.Minute),
			VerificationTTL: getEnvDuration("EMAIL_VERIFICATION_CODE_TTL", 15*time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_S3_PREFIX", "invitations/"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			RoleARN:         getEnv("ARCHIVE_S3_ROLE_ARN", ""),
			ExternalID:      getEnv("ARCHIVE_S3_EXTERNAL_ID", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("APP_ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("SERVER_TRUSTED_PROXIES: %w", err)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.VerifyMaxAttempts < 1 || c.Auth.VerifyAttemptWindow <= 0 {
		return fmt.Errorf("AUTH_VERIFY_MAX_ATTEMPTS and AUTH_VERIFY_ATTEMPT_WINDOW must be positive")
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateInvitation(); err != nil {
		return err
	}
	if err := c.validateEmail(); err != nil {
		return err
	}
	if c.Encryption.IsConfigured() {
		key, err := hex.DecodeString(c.Encryption.Key)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("APP_ENCRYPTION_KEY must be 64 hex characters")
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_ENABLED=true")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be between 0.0 and 1.0, got %f", c.Tracing.SampleRatio)
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	if c.Log.SamplingThreshold < 0 || c.Log.SamplingEvery < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD and LOG_SAMPLING_EVERY must be non-negative")
	}
	return nil
}

func (c *Config) validateInvitation() error {
	inv := c.Invitation
	if inv.TTL <= 0 {
		return fmt.Errorf("INVITATION_TTL must be positive")
	}
	if inv.SweepInterval < time.Second {
		return fmt.Errorf("INVITATION_SWEEP_INTERVAL too short: %v (min 1s)", inv.SweepInterval)
	}
	if inv.RetentionDays < 1 {
		return fmt.Errorf("INVITATION_RETENTION_DAYS must be at least 1")
	}
	if inv.BulkCreateLimit < 1 || inv.BulkActionLimit < 1 {
		return fmt.Errorf("bulk limits must be positive")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(inv.RetentionCron); err != nil {
		return fmt.Errorf("invalid INVITATION_RETENTION_CRON %q: %w", inv.RetentionCron, err)
	}
	return nil
}

func (c *Config) validateEmail() error {
	switch c.Email.Provider {
	case EmailProviderSMTP, EmailProviderNone:
	case EmailProviderSendGrid:
		if !c.SendGrid.IsConfigured() && c.App.Env == EnvProduction {
			return fmt.Errorf("SENDGRID_API_KEY and SENDGRID_FROM are required for EMAIL_PROVIDER=sendgrid")
		}
	default:
		return fmt.Errorf("invalid EMAIL_PROVIDER: %s (must be smtp, sendgrid or none)", c.Email.Provider)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if len(c.Auth.JWTSecret) < 64 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 64 characters in production")
	}
	if slices.Contains(c.CORS.AllowedOrigins, "*") {
		return fmt.Errorf("CORS wildcard origin not allowed in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return fmt.Errorf("rate limiting must be enabled in production")
	}
	if !c.Encryption.IsConfigured() {
		return fmt.Errorf("APP_ENCRYPTION_KEY is required in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if c.Redis.Password == "" {
		return fmt.Errorf("redis password must be set in production")
	}
	if !strings.HasPrefix(c.Email.BaseURL, "https://") {
		return fmt.Errorf("EMAIL_BASE_URL must use HTTPS in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the database URL form used by the migrator.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if v := strings.TrimSpace(p); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
