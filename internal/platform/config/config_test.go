package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("KYC_STORE", "")
	t.Setenv("KYC_PROVIDER", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ProviderLocal, cfg.Provider.Kind)
	assert.Equal(t, 30*time.Second, cfg.KYC.DocumentTimeout)
	assert.Equal(t, 45*time.Second, cfg.KYC.BiometricTimeout)
	assert.Equal(t, 3, cfg.KYC.MaxAttempts)
	assert.False(t, cfg.KYC.DemoEnabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("KYC_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KYC_DOCUMENT_TIMEOUT", "10s")
	t.Setenv("KYC_MAX_ATTEMPTS", "5")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.KYC.DocumentTimeout)
	assert.Equal(t, 5, cfg.KYC.MaxAttempts)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnv_Rejects(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":         {"KYC_DOCUMENT_TIMEOUT": "soon"},
		"redis without url":    {"KYC_STORE": "redis", "REDIS_URL": ""},
		"postgres without url": {"KYC_STORE": "postgres", "DATABASE_URL": ""},
		"unknown store":        {"KYC_STORE": "dynamo"},
		"remote without url":   {"KYC_PROVIDER": "remote", "KYC_PROVIDER_URL": ""},
		"demo in production":   {"KYC_ENV": "production", "KYC_DEMO_ENABLED": "true"},
		"zero attempts":        {"KYC_MAX_ATTEMPTS": "0"},
		"bad demo toggle":      {"KYC_DEMO_ENABLED": "maybe"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
