package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	EmailProviderSES = "ses"
	EmailProviderLog = "log"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Tokens   TokenConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type ServerConfig struct {
	Port                string
	Env                 string
	LogLevel            string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	RequestsPerMinuteIP int
	TrustedProxies      []netip.Prefix
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	LoginDelayBase     time.Duration
	LoginDelayJitter   time.Duration

	// RevocationFailClosed refuses access tokens while the revocation list is unreachable
	RevocationFailClosed bool
}

// TokenConfig controls issuance limits and token lifetimes
type TokenConfig struct {
	Store           string
	Validity        time.Duration
	RateLimitWindow time.Duration
	MaxIssues       int
	Retention       time.Duration
	CleanupInterval time.Duration
}

type EmailConfig struct {
	Provider       string
	AWSRegion      string
	FromAddress    string
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Options are command line overrides applied on top of the environment
type Options struct {
	EnvFile     string
	Port        string
	LogLevel    string
	MigrateOnly bool
}

// ParseFlags reads command line options
func ParseFlags(args []string) (Options, error) {
	var opts Options

	fs := pflag.NewFlagSet("tokenwarden", pflag.ContinueOnError)
	fs.StringVarP(&opts.EnvFile, "env-file", "e", "", "Load environment from this file instead of .env")
	fs.StringVarP(&opts.Port, "port", "p", "", "HTTP listen port (overrides PORT)")
	fs.StringVarP(&opts.LogLevel, "log-level", "l", "", "Logging level: debug, info, warn, error (overrides LOG_LEVEL)")
	fs.BoolVar(&opts.MigrateOnly, "migrate-only", false, "Apply database migrations and exit")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	return LoadWithOptions(Options{})
}

// LoadWithOptions reads configuration and applies opts. An explicit env file must exist.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "tokenwarden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "tw"),
		},
		Server: ServerConfig{
			Port:                getEnv("PORT", "8080"),
			Env:                 env,
			LogLevel:            getEnv("LOG_LEVEL", "info"),
			ReadTimeout:         getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:        getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:         getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerMinuteIP: getEnvAsInt("HTTP_RATE_LIMIT_PER_MINUTE", 10),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			LoginDelayBase:     getEnvAsDuration("LOGIN_DELAY_BASE", 300*time.Millisecond),
			LoginDelayJitter:   getEnvAsDuration("LOGIN_DELAY_JITTER", 100*time.Millisecond),

			RevocationFailClosed: getEnvAsBool("REVOCATION_FAIL_CLOSED", true),
		},
		Tokens: TokenConfig{
			Store:           strings.ToLower(getEnv("TOKEN_STORE", StorePostgres)),
			Validity:        getEnvAsDuration("TOKEN_VALIDITY", 15*time.Minute),
			RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", 24*time.Hour),
			MaxIssues:       getEnvAsInt("RATE_LIMIT_MAX_ISSUES", 3),
			Retention:       getEnvAsDuration("TOKEN_RETENTION", 30*24*time.Hour),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", ""),
			QueueSize:      getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			MaxAttempts:    getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getEnvAsDuration("NOTIFY_RETRY_BASE_DELAY", 2*time.Second),
		},
	}

	// Accounts live in Postgres whichever token store is selected
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	proxies, err := pkghttp.ParseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.Server.TrustedProxies = proxies

	if opts.Port != "" {
		cfg.Server.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.Server.LogLevel = opts.LogLevel
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Tokens.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Email.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *TokenConfig) validate() error {
	switch c.Store {
	case StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("TOKEN_STORE must be %q or %q (got %q)", StorePostgres, StoreRedis, c.Store)
	}

	if c.Validity <= 0 {
		return fmt.Errorf("TOKEN_VALIDITY must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.MaxIssues < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_ISSUES must be at least 1")
	}

	// Pruning rows still inside the window would reset a subject's budget
	if c.Retention <= c.RateLimitWindow {
		return fmt.Errorf("TOKEN_RETENTION (%s) must exceed RATE_LIMIT_WINDOW (%s)", c.Retention, c.RateLimitWindow)
	}

	return nil
}

func (c *EmailConfig) validate() error {
	switch c.Provider {
	case EmailProviderLog:
	case EmailProviderSES:
		if c.FromAddress == "" {
			return fmt.Errorf("EMAIL_FROM_ADDRESS is required for the ses provider")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderLog, c.Provider)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}
