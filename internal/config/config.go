package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or a .env file loaded by main before Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Calls    CallsConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// ProviderConfig configures the external real-time media provider (VideoSDK).
type ProviderConfig struct {
	APIKey  string
	Secret  string
	BaseURL string

	// WebhookBaseURL is embedded in minted tokens so the provider knows where to deliver events.
	WebhookBaseURL string
	// WebhookSecret is the shared secret expected in the X-Webhook-Secret header.
	WebhookSecret string

	Timeout  time.Duration
	TokenTTL time.Duration
}

type CallsConfig struct {
	// BeginLockTTL bounds how long a crashed begin-call can hold the per-channel lock.
	BeginLockTTL time.Duration
	// BeginLockWait bounds how long a begin-call waits for a concurrent one on the same channel.
	BeginLockWait time.Duration
}

const defaultProviderBaseURL = "https://api.videosdk.live/v2"

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	c.App.Port, parseErrs = collectInt(parseErrs, "APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = collectInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = collectInt(parseErrs, "REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Provider.APIKey = strings.TrimSpace(os.Getenv("VIDEOSDK_API_KEY"))
	c.Provider.Secret = os.Getenv("VIDEOSDK_SECRET")
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("VIDEOSDK_BASE_URL")), "/")
	c.Provider.WebhookBaseURL = strings.TrimSpace(os.Getenv("WEBHOOK_BASE_URL"))
	c.Provider.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	c.Provider.Timeout, parseErrs = collectDuration(parseErrs, "VIDEOSDK_TIMEOUT")
	c.Provider.TokenTTL, parseErrs = collectDuration(parseErrs, "VIDEOSDK_TOKEN_TTL")

	c.Calls.BeginLockTTL, parseErrs = collectDuration(parseErrs, "CALL_BEGIN_LOCK_TTL")
	c.Calls.BeginLockWait, parseErrs = collectDuration(parseErrs, "CALL_BEGIN_LOCK_WAIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults for optional ones.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("VIDEOSDK_API_KEY is required"))
	}
	if c.Provider.Secret == "" {
		errs = append(errs, errors.New("VIDEOSDK_SECRET is required"))
	}
	if c.Provider.WebhookBaseURL == "" {
		errs = append(errs, errors.New("WEBHOOK_BASE_URL is required"))
	}
	if c.Provider.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultProviderBaseURL
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 5 * time.Second
	}
	if c.Provider.TokenTTL <= 0 {
		c.Provider.TokenTTL = 120 * time.Minute
	}

	if c.Calls.BeginLockTTL <= 0 {
		c.Calls.BeginLockTTL = 10 * time.Second
	}
	if c.Calls.BeginLockWait <= 0 {
		c.Calls.BeginLockWait = 3 * time.Second
	}
	if c.Calls.BeginLockTTL < c.Provider.Timeout {
		errs = append(errs, errors.New("CALL_BEGIN_LOCK_TTL must not be shorter than VIDEOSDK_TIMEOUT"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func collectInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, append(errs, fmt.Errorf("%s is required", key))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

// collectDuration parses an optional duration; empty means "use the default".
func collectDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
