package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	App      AppConfig
	Domain   DomainConfig
	Cache    CacheConfig
	Audit    AuditConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
}

// DomainConfig holds tenant subdomain resolution configuration
type DomainConfig struct {
	// BaseDomain is the base domain all tenant subdomains hang off
	// (e.g. "projectpulse.app" for "acme.projectpulse.app")
	BaseDomain string
}

// CacheConfig holds permission cache configuration
type CacheConfig struct {
	// TTL is the backstop expiry for cached permission sets.
	// Explicit invalidation remains the correctness mechanism.
	TTL time.Duration
}

// AuditConfig holds security audit detector configuration
type AuditConfig struct {
	// BruteForceThreshold is the login-failure count per IP within the
	// detection window that triggers a suspicious-activity event
	BruteForceThreshold int
	// SwitchThreshold is the tenant-switch count per principal within
	// the detection window that triggers a suspicious-activity event
	SwitchThreshold int
	// DetectionWindow is the sliding window the detectors count over
	DetectionWindow time.Duration
}

// New creates a new configuration instance
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvWithDefault("SERVER_PORT", "8090"),
		},
		Database: DatabaseConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: getEnvWithDefault("DB_PASSWORD", "postgres"),
			Name:     getEnvWithDefault("DB_NAME", "access_db"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment: getEnvWithDefault("APP_ENV", "development"),
			LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		},
		Domain: DomainConfig{
			BaseDomain: getEnvWithDefault("BASE_DOMAIN", "projectpulse.app"),
		},
		Cache: CacheConfig{
			TTL: time.Duration(getEnvAsIntWithDefault("PERMISSION_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Audit: AuditConfig{
			BruteForceThreshold: getEnvAsIntWithDefault("AUDIT_BRUTE_FORCE_THRESHOLD", 10),
			SwitchThreshold:     getEnvAsIntWithDefault("AUDIT_SWITCH_THRESHOLD", 20),
			DetectionWindow:     time.Duration(getEnvAsIntWithDefault("AUDIT_DETECTION_WINDOW_MINS", 60)) * time.Minute,
		},
	}
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
