package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Session  SessionConfig
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
	RunMigrations     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	// Secret signs password-reset continuation tokens.
	Secret              string
	MaxFailedAttempts   int
	LockoutDuration     time.Duration
	OTPTTL              time.Duration
	ResetTokenTTL       time.Duration
	DeviceTokenTTL      time.Duration
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	RequestsPerMinute   int
}

type SessionConfig struct {
	CookieName    string
	HashKey       string
	BlockKey      string
	IdleTimeout   time.Duration
	WarningWindow time.Duration
	Lifetime      time.Duration
	SecureCookie  bool
}

type EmailConfig struct {
	// AWSRegion empty selects the logging dispatcher (development).
	AWSRegion   string
	FromAddress string
	AppBaseURL  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	secret := getEnv("AUTH_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bantay"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			Secret:              secret,
			MaxFailedAttempts:   getEnvAsInt("AUTH_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:     getEnvAsDuration("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			OTPTTL:              getEnvAsDuration("AUTH_OTP_TTL", 10*time.Minute),
			ResetTokenTTL:       getEnvAsDuration("AUTH_RESET_TOKEN_TTL", 15*time.Minute),
			DeviceTokenTTL:      getEnvAsDuration("AUTH_DEVICE_TOKEN_TTL", 24*time.Hour),
			CleanupInterval:     getEnvAsDuration("AUTH_CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("AUTH_TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs: getEnvAsInt("AUTH_TIMING_DELAY_RANDOM_MS", 100),
			RequestsPerMinute:   getEnvAsInt("AUTH_REQUESTS_PER_MINUTE", 10),
		},
		Session: SessionConfig{
			CookieName:    getEnv("SESSION_COOKIE_NAME", "bantay_session"),
			HashKey:       getEnv("SESSION_HASH_KEY", ""),
			BlockKey:      getEnv("SESSION_BLOCK_KEY", ""),
			IdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 900*time.Second),
			WarningWindow: getEnvAsDuration("SESSION_WARNING_WINDOW", 60*time.Second),
			Lifetime:      getEnvAsDuration("SESSION_LIFETIME", 8*time.Hour),
			SecureCookie:  env == "production",
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@barangay.local"),
			AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSecret("AUTH_SECRET", secret, env); err != nil {
		return nil, err
	}

	if cfg.Session.HashKey == "" {
		return nil, fmt.Errorf("SESSION_HASH_KEY is required")
	}
	if err := validateSecret("SESSION_HASH_KEY", cfg.Session.HashKey, env); err != nil {
		return nil, err
	}
	// securecookie accepts AES-128/192/256 block keys only
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("SESSION_BLOCK_KEY must be 16, 24 or 32 bytes (got %d)", n)
	}

	if cfg.Auth.CleanupInterval <= 0 {
		return nil, fmt.Errorf("AUTH_CLEANUP_INTERVAL must be positive (got %s)", cfg.Auth.CleanupInterval)
	}

	if cfg.Session.WarningWindow >= cfg.Session.IdleTimeout {
		return nil, fmt.Errorf("SESSION_WARNING_WINDOW (%s) must be shorter than SESSION_IDLE_TIMEOUT (%s)",
			cfg.Session.WarningWindow, cfg.Session.IdleTimeout)
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for signing secrets
func validateSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example", "barangay",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func splitList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: the portal frontend dev servers
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:8080",
	}
}
