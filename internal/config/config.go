package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type Config struct {
	Env      string
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Cache    CacheConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type CacheConfig struct {
	Backend string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// OTPConfig controls the second-factor login flow.
type OTPConfig struct {
	Issuer string
	Digits int
	// Period is the TOTP step the login code is derived with.
	Period time.Duration
	// ChallengeTTL bounds how long a pending challenge may be verified.
	ChallengeTTL time.Duration
	// ElevationTTL bounds how long a verified user stays elevated.
	ElevationTTL time.Duration
	// LogCodes writes issued codes to the log instead of a delivery channel.
	// Refused when Env is production.
	LogCodes bool
}

// SMTPConfig is used to mail login codes. An empty Addr disables mail delivery.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

type AuthConfig struct {
	BcryptCost int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "LibrisTable"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendRedis)),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			Issuer:       getEnv("OTP_ISSUER", "Libris"),
			Digits:       getEnvAsInt("OTP_DIGITS", 6),
			Period:       getEnvAsDuration("OTP_PERIOD", 30*time.Second),
			ChallengeTTL: getEnvAsDuration("OTP_CHALLENGE_TTL", 300*time.Second),
			ElevationTTL: getEnvAsDuration("OTP_ELEVATION_TTL", 600*time.Second),
			LogCodes:     getEnvAsBool("OTP_LOG_CODES", false),
		},
		Auth: AuthConfig{
			BcryptCost: getEnvAsInt("BCRYPT_COST", 12),
		},
		SMTP: SMTPConfig{
			Addr:     getEnv("SMTP_ADDR", ""),
			From:     getEnv("SMTP_FROM", "no-reply@libris.local"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values; Load calls it before returning.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.Cache.Backend != CacheBackendRedis && c.Cache.Backend != CacheBackendMemory {
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendRedis, CacheBackendMemory, c.Cache.Backend)
	}

	if c.OTP.Digits != 6 && c.OTP.Digits != 8 {
		return fmt.Errorf("OTP_DIGITS must be 6 or 8")
	}

	if c.OTP.ChallengeTTL <= 0 || c.OTP.ElevationTTL <= 0 || c.OTP.Period <= 0 {
		return fmt.Errorf("OTP durations must be positive")
	}

	if c.OTP.LogCodes && c.Env == "production" {
		return fmt.Errorf("OTP_LOG_CODES must not be enabled when APP_ENV=production")
	}

	if c.SMTP.Addr == "" && !c.OTP.LogCodes {
		return fmt.Errorf("no OTP delivery configured: set SMTP_ADDR or OTP_LOG_CODES=true")
	}

	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
