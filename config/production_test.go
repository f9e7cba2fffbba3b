package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	cfg := loadFromEnv()
	cfg.Database.Password = "secret"
	cfg.JWT.SecretKey = strings.Repeat("k", 32)
	cfg.Exchange.WhatsAppNumber = "971501234567"
	return cfg
}

func TestValidateProductionConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		require.NoError(t, ValidateProductionConfig(validConfig()))
	})

	t.Run("AggregatesErrors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Password = ""
		cfg.JWT.SecretKey = "short"
		cfg.Exchange.ReferencePrefix = "eb"

		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_PASSWORD is required")
		assert.Contains(t, err.Error(), "JWT_SECRET_KEY must be at least 32 characters long")
		assert.Contains(t, err.Error(), "EXCHANGE_REFERENCE_PREFIX must be two upper-case letters")
	})

	t.Run("UnknownTimezone", func(t *testing.T) {
		cfg := validConfig()
		cfg.Exchange.Timezone = "Mars/Olympus"
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "EXCHANGE_TIMEZONE")
	})

	t.Run("SequenceBackend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Exchange.SequenceBackend = "etcd"
		assert.Error(t, ValidateProductionConfig(cfg))

		cfg.Exchange.SequenceBackend = SequenceBackendRedis
		cfg.Cache.Enabled = false
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CACHE_ENABLED must be true")

		cfg.Cache.Enabled = true
		assert.NoError(t, ValidateProductionConfig(cfg))
	})

	t.Run("WhatsAppNumber", func(t *testing.T) {
		cfg := validConfig()
		cfg.Exchange.WhatsAppNumber = "+971 50 123"
		assert.Error(t, ValidateProductionConfig(cfg))
	})

	t.Run("LicenseRequiresServerAndSecrets", func(t *testing.T) {
		cfg := validConfig()
		cfg.License.Enabled = true
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LICENSE_SERVER_URL")
		assert.Contains(t, err.Error(), "LICENSE_KEY")
		assert.Contains(t, err.Error(), "LICENSE_SECRET")

		cfg.License.ServerURL = "https://license.example.com/api/v1/verify"
		cfg.License.Key = "EB-LIC-0001"
		cfg.License.Secret = strings.Repeat("s", 32)
		assert.NoError(t, ValidateProductionConfig(cfg))
	})

	t.Run("BootstrapOperatorPassword", func(t *testing.T) {
		cfg := validConfig()
		cfg.Operator.BootstrapUsername = "desk"
		cfg.Operator.BootstrapPassword = "short"
		err := ValidateProductionConfig(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPERATOR_BOOTSTRAP_PASSWORD")

		cfg.Operator.BootstrapPassword = "correct-horse-battery"
		assert.NoError(t, ValidateProductionConfig(cfg))
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EXCHANGE_REFERENCE_PREFIX", "XC")
	t.Setenv("EXCHANGE_LOCK_TIMEOUT", "750ms")
	t.Setenv("EXCHANGE_SEQUENCE_BACKEND", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LICENSE_ENABLED", "true")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg := loadFromEnv()
	assert.Equal(t, "XC", cfg.Exchange.ReferencePrefix)
	assert.Equal(t, 750*time.Millisecond, cfg.Exchange.LockTimeout)
	assert.Equal(t, SequenceBackendMemory, cfg.Exchange.SequenceBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.License.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", cfg.DSN())
}
