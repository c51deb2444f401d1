package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	RBAC          RBACConfig          `yaml:"rbac"`
	Rental        RentalConfig        `yaml:"rental"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	// PermissionSeedFile overrides the built-in permission reference data
	PermissionSeedFile string `yaml:"permission_seed_file"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds credential and token settings
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
	LoginRatePerMin int           `yaml:"login_rate_per_min"`

	// Bootstrap admin, created at startup when the username is not taken
	BootstrapAdminUsername string `yaml:"bootstrap_admin_username"`
	BootstrapAdminEmail    string `yaml:"bootstrap_admin_email"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password"`
}

// RBACConfig holds permission cache settings. A zero TTL disables caching.
type RBACConfig struct {
	PermissionCacheTTL  time.Duration `yaml:"permission_cache_ttl"`
	PermissionCacheSize int           `yaml:"permission_cache_size"`
}

// RentalConfig holds late fee policy and the overdue sweep schedule
type RentalConfig struct {
	GraceDays       int    `yaml:"grace_days"`
	DailyFee        int64  `yaml:"daily_fee"`
	OverdueSchedule string `yaml:"overdue_schedule"`
}

// AuditConfig toggles the audit trail
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			TokenTTL:        24 * time.Hour,
			BcryptCost:      12,
			LoginRatePerMin: 10,
		},
		RBAC: RBACConfig{
			PermissionCacheTTL:  30 * time.Second,
			PermissionCacheSize: 10000,
		},
		Rental: RentalConfig{
			GraceDays:       7,
			DailyFee:        50,
			OverdueSchedule: "0 * * * *",
		},
		Audit: AuditConfig{Enabled: true},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "rentshelf",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from, in increasing precedence:
// built-in defaults, the YAML file named by RENTSHELF_CONFIG_FILE, and
// RENTSHELF_* environment variables (optionally read from a dotenv file).
func LoadConfig() (*Config, error) {
	if err := loadDotenv(os.Getenv("RENTSHELF_ENV_FILE")); err != nil {
		return nil, err
	}

	cfg := Default()

	if path := os.Getenv("RENTSHELF_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotenv loads path, or ./.env when path is empty and the file exists.
// Variables already present in the environment are not overwritten.
func loadDotenv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFile overlays the YAML document at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("RENTSHELF_HOST", s.Host)
	s.Port = getEnv("RENTSHELF_PORT", s.Port)
	s.HealthPort = getEnv("RENTSHELF_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("RENTSHELF_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("RENTSHELF_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("RENTSHELF_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("RENTSHELF_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("RENTSHELF_MAX_BODY_BYTES", s.MaxBodyBytes)

	d := &c.Database
	d.URL = getEnv("RENTSHELF_POSTGRES_URL", d.URL)
	d.MaxOpenConns = getEnvInt("RENTSHELF_POSTGRES_MAX_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("RENTSHELF_POSTGRES_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("RENTSHELF_POSTGRES_CONN_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvBool("RENTSHELF_AUTO_MIGRATE", d.AutoMigrate)
	d.PermissionSeedFile = getEnv("RENTSHELF_PERMISSION_SEED_FILE", d.PermissionSeedFile)

	c.Redis.URL = getEnv("RENTSHELF_REDIS_URL", c.Redis.URL)

	a := &c.Auth
	a.JWTSecret = getEnv("RENTSHELF_JWT_SECRET", a.JWTSecret)
	a.TokenTTL = getEnvDuration("RENTSHELF_TOKEN_TTL", a.TokenTTL)
	a.BcryptCost = getEnvInt("RENTSHELF_BCRYPT_COST", a.BcryptCost)
	a.LoginRatePerMin = getEnvInt("RENTSHELF_LOGIN_RATE_PER_MIN", a.LoginRatePerMin)
	a.BootstrapAdminUsername = getEnv("RENTSHELF_BOOTSTRAP_ADMIN_USERNAME", a.BootstrapAdminUsername)
	a.BootstrapAdminEmail = getEnv("RENTSHELF_BOOTSTRAP_ADMIN_EMAIL", a.BootstrapAdminEmail)
	a.BootstrapAdminPassword = getEnv("RENTSHELF_BOOTSTRAP_ADMIN_PASSWORD", a.BootstrapAdminPassword)

	c.RBAC.PermissionCacheTTL = getEnvDuration("RENTSHELF_PERMISSION_CACHE_TTL", c.RBAC.PermissionCacheTTL)
	c.RBAC.PermissionCacheSize = getEnvInt("RENTSHELF_PERMISSION_CACHE_SIZE", c.RBAC.PermissionCacheSize)

	r := &c.Rental
	r.GraceDays = getEnvInt("RENTSHELF_RENTAL_GRACE_DAYS", r.GraceDays)
	r.DailyFee = getEnvInt64("RENTSHELF_RENTAL_DAILY_FEE", r.DailyFee)
	r.OverdueSchedule = getEnv("RENTSHELF_OVERDUE_SCHEDULE", r.OverdueSchedule)

	c.Audit.Enabled = getEnvBool("RENTSHELF_AUDIT_ENABLED", c.Audit.Enabled)

	o := &c.Observability
	o.LogLevel = getEnv("RENTSHELF_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("RENTSHELF_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("RENTSHELF_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("RENTSHELF_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("RENTSHELF_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("RENTSHELF_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("RENTSHELF_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}
	if c.Auth.BootstrapAdminUsername != "" && (c.Auth.BootstrapAdminEmail == "" || c.Auth.BootstrapAdminPassword == "") {
		return fmt.Errorf("bootstrap admin requires an email and a password")
	}

	if c.Rental.GraceDays < 0 {
		return fmt.Errorf("rental grace days can not be negative")
	}
	if c.Rental.DailyFee < 0 {
		return fmt.Errorf("rental daily fee can not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
