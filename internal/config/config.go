// Package config loads trust-core's runtime configuration from environment
// variables, following the teacher's getEnv/getEnvAsInt/getEnvAsDuration
// idiom, with a .env loader for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the trust-core service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Identity   IdentityConfig
	Trust      TrustConfig
	Admin      AdminConfig
	Capability CapabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string
	Environment string
	LogLevel    string
}

// DatabaseConfig holds Postgres connection configuration for the durable
// profile/event/capability repositories.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the optional Redis connection configuration used for
// cross-instance coordination (the authorize API's distributed rate limit).
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds the signal-bus bridge connection configuration
// (spec §6 ":trust"/":agent" topic fan-out beyond this process).
type NATSConfig struct {
	URL     string
	Enabled bool
}

// IdentityConfig holds Ed25519 agent-identity verification tuning
// (spec §6 IdentityVerifier collaborator).
type IdentityConfig struct {
	RequestTTL time.Duration
}

// TrustConfig holds the tunable thresholds that drive C1-C5 (spec §4.2,
// §4.5.3, §4.5.4) — every default here is overridable without a rebuild.
type TrustConfig struct {
	DecayGracePeriodDays int
	DecayRate            int
	DecayFloorScore      int
	DecayRunHourUTC      int

	CircuitActionFailureCount   int
	CircuitActionFailureWindow  time.Duration
	CircuitSecurityViolationCnt int
	CircuitSecurityViolationWin time.Duration
	CircuitRollbackCount        int
	CircuitRollbackWindow       time.Duration
	CircuitTestFailureCount     int
	CircuitTestFailureWindow    time.Duration
	CircuitFreezeDuration       time.Duration
	CircuitHalfOpenDuration     time.Duration
}

// CapabilityConfig holds capability-authorization tuning (spec §4.6, §9).
type CapabilityConfig struct {
	MaxDelegationDepth int
	// OverlayPath, if set, points at a YAML file overriding the
	// confirmation matrix, score weights, trust-points deltas, and
	// tier/points thresholds without a rebuild (spec §6).
	OverlayPath string
}

// AdminConfig holds the operator credential trust-core checks at
// POST /api/v1/admin/login before issuing a JWT (spec §6 admin surface).
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt hash; empty disables login (admin JWTs must be minted out of band)
	JWTSecret    string
	JWTExpiry    time.Duration
}

// Load loads configuration from environment variables, first loading a
// .env file if present (development convenience; ignored in production
// where real env vars are already set).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("APP_PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnv("POSTGRES_USER", "trust_core"),
			Password:        getEnv("POSTGRES_PASSWORD", ""),
			Database:        getEnv("POSTGRES_DB", "trust_core"),
			SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		Identity: IdentityConfig{
			RequestTTL: getEnvAsDuration("IDENTITY_REQUEST_TTL", 5*time.Minute),
		},
		Trust: TrustConfig{
			DecayGracePeriodDays:        getEnvAsInt("DECAY_GRACE_PERIOD_DAYS", 7),
			DecayRate:                   getEnvAsInt("DECAY_RATE", 1),
			DecayFloorScore:             getEnvAsInt("DECAY_FLOOR_SCORE", 10),
			DecayRunHourUTC:             getEnvAsInt("DECAY_RUN_HOUR_UTC", 3),
			CircuitActionFailureCount:   getEnvAsInt("CIRCUIT_ACTION_FAILURE_COUNT", 5),
			CircuitActionFailureWindow:  getEnvAsDuration("CIRCUIT_ACTION_FAILURE_WINDOW", 60*time.Second),
			CircuitSecurityViolationCnt: getEnvAsInt("CIRCUIT_SECURITY_VIOLATION_COUNT", 3),
			CircuitSecurityViolationWin: getEnvAsDuration("CIRCUIT_SECURITY_VIOLATION_WINDOW", time.Hour),
			CircuitRollbackCount:        getEnvAsInt("CIRCUIT_ROLLBACK_COUNT", 3),
			CircuitRollbackWindow:       getEnvAsDuration("CIRCUIT_ROLLBACK_WINDOW", time.Hour),
			CircuitTestFailureCount:     getEnvAsInt("CIRCUIT_TEST_FAILURE_COUNT", 5),
			CircuitTestFailureWindow:    getEnvAsDuration("CIRCUIT_TEST_FAILURE_WINDOW", 300*time.Second),
			CircuitFreezeDuration:       getEnvAsDuration("CIRCUIT_FREEZE_DURATION", 24*time.Hour),
			CircuitHalfOpenDuration:     getEnvAsDuration("CIRCUIT_HALF_OPEN_DURATION", time.Hour),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			JWTSecret:    getEnv("ADMIN_JWT_SECRET", "development-only-secret-change-me-in-prod!!"),
			JWTExpiry:    getEnvAsDuration("ADMIN_JWT_EXPIRY", 8*time.Hour),
		},
		Capability: CapabilityConfig{
			MaxDelegationDepth: getEnvAsInt("CAPABILITY_MAX_DELEGATION_DEPTH", 3),
			OverlayPath:        getEnv("TRUST_CONFIG_OVERLAY_PATH", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime errors later.
func (c *Config) Validate() error {
	if c.Trust.DecayRate < 0 {
		return fmt.Errorf("DECAY_RATE must be non-negative")
	}
	if c.Trust.DecayRunHourUTC < 0 || c.Trust.DecayRunHourUTC > 23 {
		return fmt.Errorf("DECAY_RUN_HOUR_UTC must be in [0, 23]")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
