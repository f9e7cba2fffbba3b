// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/amirphl/Exchange-Bridge/utils"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
	Exchange   ExchangeConfig   `json:"exchange"`
	License    LicenseConfig    `json:"license"`
	Operator   OperatorConfig   `json:"operator"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	ActionRateLimit int           `json:"action_rate_limit"` // generate_id and order submission per minute
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per minute
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	CSPPolicy      string `json:"csp_policy"`
	XFrameOptions  string `json:"x_frame_options"`
	ReferrerPolicy string `json:"referrer_policy"`
	HSTSMaxAge     int    `json:"hsts_max_age"`

	BcryptCost int `json:"bcrypt_cost"`
}

type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error; drives the ORM logger
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

type DeploymentConfig struct {
	Domain      string `json:"domain"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// ExchangeConfig drives reference allocation and order settlement.
type ExchangeConfig struct {
	ReferencePrefix string        `json:"reference_prefix"`
	Timezone        string        `json:"timezone"`
	LockTimeout     time.Duration `json:"lock_timeout"`
	SequenceBackend string        `json:"sequence_backend"` // postgres, redis, memory
	CounterTTL      time.Duration `json:"counter_ttl"`      // redis counters and fallback marks
	WhatsAppNumber  string        `json:"whatsapp_number"`
	QuoteCacheTTL   time.Duration `json:"quote_cache_ttl"`

	// Postgres counter rows older than CounterRetention are pruned every JanitorInterval; 0 disables
	CounterRetention time.Duration `json:"counter_retention"`
	JanitorInterval  time.Duration `json:"janitor_interval"`
}

// LicenseConfig configures the phone-home license guard.
type LicenseConfig struct {
	Enabled       bool          `json:"enabled"`
	ServerURL     string        `json:"server_url"`
	Key           string        `json:"-"`
	Secret        string        `json:"-"`
	InstanceID    string        `json:"instance_id"`
	CachePath     string        `json:"cache_path"`
	CheckInterval time.Duration `json:"check_interval"`
	GracePeriod   time.Duration `json:"grace_period"`
	Timeout       time.Duration `json:"timeout"`
}

// OperatorConfig seeds the first settlement desk account on an empty database.
type OperatorConfig struct {
	BootstrapUsername string `json:"bootstrap_username"`
	BootstrapPassword string `json:"-"`
}

const (
	SequenceBackendPostgres = "postgres"
	SequenceBackendRedis    = "redis"
	SequenceBackendMemory   = "memory"
)

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := loadFromEnv()

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "exchange_bridge"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 1024*1024), // 1MB
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://exchange-bridge.com"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			ActionRateLimit:  getEnvInt("ACTION_RATE_LIMIT", 20),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			CSPPolicy:        getEnvString("CSP_POLICY", "default-src 'self'"),
			XFrameOptions:    getEnvString("X_FRAME_OPTIONS", "DENY"),
			ReferrerPolicy:   getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
			HSTSMaxAge:       getEnvInt("HSTS_MAX_AGE", 31536000),
			BcryptCost:       getEnvInt("BCRYPT_COST", 12),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 12*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "exchange-bridge"),
			Audience:       getEnvString("JWT_AUDIENCE", "exchange-bridge-operator"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/exchange-bridge/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "exchange:"),
		},
		Deployment: DeploymentConfig{
			Domain:      getEnvString("DOMAIN", "exchange-bridge.com"),
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
		Exchange: ExchangeConfig{
			ReferencePrefix: getEnvString("EXCHANGE_REFERENCE_PREFIX", utils.DefaultReferencePrefix),
			Timezone:        getEnvString("EXCHANGE_TIMEZONE", utils.DefaultTimezone),
			LockTimeout:     getEnvDuration("EXCHANGE_LOCK_TIMEOUT", 3*time.Second),
			SequenceBackend: getEnvString("EXCHANGE_SEQUENCE_BACKEND", SequenceBackendPostgres),
			CounterTTL:      getEnvDuration("EXCHANGE_COUNTER_TTL", 48*time.Hour),
			WhatsAppNumber:  getEnvString("EXCHANGE_WHATSAPP_NUMBER", ""),
			QuoteCacheTTL:   getEnvDuration("EXCHANGE_QUOTE_CACHE_TTL", 30*time.Second),

			CounterRetention: getEnvDuration("EXCHANGE_COUNTER_RETENTION", 30*24*time.Hour),
			JanitorInterval:  getEnvDuration("EXCHANGE_JANITOR_INTERVAL", 6*time.Hour),
		},
		License: LicenseConfig{
			Enabled:       getEnvBool("LICENSE_ENABLED", false),
			ServerURL:     getEnvString("LICENSE_SERVER_URL", ""),
			Key:           getEnvString("LICENSE_KEY", ""),
			Secret:        getEnvString("LICENSE_SECRET", ""),
			InstanceID:    getEnvString("LICENSE_INSTANCE_ID", ""),
			CachePath:     getEnvString("LICENSE_CACHE_PATH", "/var/lib/exchange-bridge/license.cache"),
			CheckInterval: getEnvDuration("LICENSE_CHECK_INTERVAL", 24*time.Hour),
			GracePeriod:   getEnvDuration("LICENSE_GRACE_PERIOD", 72*time.Hour),
			Timeout:       getEnvDuration("LICENSE_TIMEOUT", 10*time.Second),
		},
		Operator: OperatorConfig{
			BootstrapUsername: getEnvString("OPERATOR_BOOTSTRAP_USERNAME", ""),
			BootstrapPassword: getEnvString("OPERATOR_BOOTSTRAP_PASSWORD", ""),
		},
	}
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := getEnvString("ENV_FILE", ".env")

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Use standard library strings.Split and strings.TrimSpace
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

var (
	referencePrefixPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	whatsAppNumberPattern  = regexp.MustCompile(`^[1-9]\d{7,14}$`)
)

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate JWT configuration
	if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.Issuer == "" {
		errors = append(errors, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errors = append(errors, "JWT_AUDIENCE is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	if cfg.Security.BcryptCost < 10 || cfg.Security.BcryptCost > 14 {
		errors = append(errors, "BCRYPT_COST must be between 10 and 14")
	}

	// Validate logging configuration
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, "LOG_LEVEL must be one of: [debug info warn error]")
	}
	switch cfg.Logging.Output {
	case "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			errors = append(errors, "LOG_FILE_PATH is required when logging to a file")
		}
	default:
		errors = append(errors, "LOG_OUTPUT must be one of: [stdout file both]")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled")
	}

	// Validate exchange configuration
	if !referencePrefixPattern.MatchString(cfg.Exchange.ReferencePrefix) {
		errors = append(errors, "EXCHANGE_REFERENCE_PREFIX must be two upper-case letters")
	}
	if _, err := time.LoadLocation(cfg.Exchange.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("EXCHANGE_TIMEZONE is invalid: %v", err))
	}
	if cfg.Exchange.LockTimeout <= 0 {
		errors = append(errors, "EXCHANGE_LOCK_TIMEOUT must be positive")
	}
	switch cfg.Exchange.SequenceBackend {
	case SequenceBackendPostgres, SequenceBackendMemory:
	case SequenceBackendRedis:
		if !cfg.Cache.Enabled {
			errors = append(errors, "CACHE_ENABLED must be true when EXCHANGE_SEQUENCE_BACKEND is redis")
		}
	default:
		errors = append(errors, "EXCHANGE_SEQUENCE_BACKEND must be one of: [postgres redis memory]")
	}
	if cfg.Exchange.CounterRetention < 0 {
		errors = append(errors, "EXCHANGE_COUNTER_RETENTION must not be negative")
	} else if cfg.Exchange.CounterRetention > 0 && cfg.Exchange.CounterRetention < 48*time.Hour {
		errors = append(errors, "EXCHANGE_COUNTER_RETENTION must keep at least two days of counters")
	}
	if cfg.Exchange.WhatsAppNumber != "" && !whatsAppNumberPattern.MatchString(cfg.Exchange.WhatsAppNumber) {
		errors = append(errors, "EXCHANGE_WHATSAPP_NUMBER must be digits in international format without '+'")
	}

	// Validate license configuration if enabled
	if cfg.License.Enabled {
		if u, err := url.Parse(cfg.License.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, "LICENSE_SERVER_URL must be an absolute URL when the license check is enabled")
		}
		if cfg.License.Key == "" {
			errors = append(errors, "LICENSE_KEY is required when the license check is enabled")
		}
		if len(cfg.License.Secret) < 32 {
			errors = append(errors, "LICENSE_SECRET must be at least 32 characters long")
		}
		if cfg.License.CheckInterval <= 0 {
			errors = append(errors, "LICENSE_CHECK_INTERVAL must be positive")
		}
		if cfg.License.GracePeriod < 0 {
			errors = append(errors, "LICENSE_GRACE_PERIOD must not be negative")
		}
	}

	if cfg.Operator.BootstrapUsername != "" && len(cfg.Operator.BootstrapPassword) < 12 {
		errors = append(errors, "OPERATOR_BOOTSTRAP_PASSWORD must be at least 12 characters long")
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
