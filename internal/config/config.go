package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "DuoBank"
	defaultEnv             = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	accessTTLMinutesEnvVar = "ACCESS_TOKEN_TTL_MINUTES"
	refreshTTLHoursEnvVar  = "REFRESH_TOKEN_TTL_HOURS"
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName         string
	Env             string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
}

// Load reads configuration from the environment, after merging in a .env file
// when one exists. In development the database and Redis URLs may be empty;
// the server then falls back to in-memory storage.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		Env:             getEnv("APP_ENV", defaultEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-access-secret"),
		RefreshSecret:   getEnv("REFRESH_SECRET", "dev-refresh-secret"),
		AccessTokenTTL:  defaultAccessTTL,
		RefreshTokenTTL: defaultRefreshTTL,
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
	}

	if v := os.Getenv(accessTTLMinutesEnvVar); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", accessTTLMinutesEnvVar, err)
		}
		cfg.AccessTokenTTL = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv(refreshTTLHoursEnvVar); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", refreshTTLHoursEnvVar, err)
		}
		cfg.RefreshTokenTTL = time.Duration(hours) * time.Hour
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set outside development")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set outside development")
		}
		if os.Getenv("JWT_SECRET") == "" || os.Getenv("REFRESH_SECRET") == "" {
			return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set outside development")
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in development mode.
func (c Config) IsDev() bool {
	return c.Env == "development"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
