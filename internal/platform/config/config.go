package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through KYC_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Provider backends selectable through KYC_PROVIDER.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// Config is the full process configuration. Every field has a development
// default so `go run ./cmd/server` works with an empty environment.
type Config struct {
	Server   Server
	Redis    RedisConfig
	Postgres PostgresConfig
	Provider ProviderConfig
	KYC      KYCConfig
	Kafka    KafkaConfig
	LogLevel string
	Store    string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

// IsProduction reports whether the process runs in production mode.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type ProviderConfig struct {
	Kind      string
	BaseURL   string
	APIKey    string
	ImageRoot string
	// PollInterval spaces status polls against the remote analyzer.
	PollInterval time.Duration
}

type KYCConfig struct {
	DocumentTimeout  time.Duration
	BiometricTimeout time.Duration
	MaxAttempts      int
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	PolicyFile       string
	DemoEnabled      bool
	AuditHashKey     string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds the configuration from environment variables, loading a
// .env file first when one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server: Server{
			Addr:          getString("KYC_ADDR", ":8080"),
			Environment:   getString("KYC_ENV", "development"),
			JWTSigningKey: getString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     getString("JWT_ISSUER", "kycflow"),
			JWTAudience:   getString("JWT_AUDIENCE", "kycflow-api"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Provider: ProviderConfig{
			Kind:      getString("KYC_PROVIDER", ProviderLocal),
			BaseURL:   os.Getenv("KYC_PROVIDER_URL"),
			APIKey:    os.Getenv("KYC_PROVIDER_API_KEY"),
			ImageRoot: os.Getenv("KYC_IMAGE_ROOT"),
		},
		KYC: KYCConfig{
			PolicyFile:   os.Getenv("KYC_POLICY_FILE"),
			AuditHashKey: getString("AUDIT_HASH_KEY", "dev-audit-hash-key"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getString("KAFKA_AUDIT_TOPIC", "kyc.audit"),
		},
		LogLevel: getString("LOG_LEVEL", "info"),
		Store:    getString("KYC_STORE", StoreMemory),
	}

	var err error
	if cfg.Provider.PollInterval, err = getDuration("KYC_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.KYC.DocumentTimeout, err = getDuration("KYC_DOCUMENT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.KYC.BiometricTimeout, err = getDuration("KYC_BIOMETRIC_TIMEOUT", 45*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.KYC.SessionTTL, err = getDuration("KYC_SESSION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.KYC.SweepInterval, err = getDuration("KYC_SWEEP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.KYC.MaxAttempts, err = getInt("KYC_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.KYC.DemoEnabled, err = getBool("KYC_DEMO_ENABLED", false); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("KYC_STORE=redis requires REDIS_URL")
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("KYC_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown KYC_STORE %q", c.Store)
	}
	switch c.Provider.Kind {
	case ProviderLocal:
	case ProviderRemote:
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("KYC_PROVIDER=remote requires KYC_PROVIDER_URL")
		}
	default:
		return fmt.Errorf("unknown KYC_PROVIDER %q", c.Provider.Kind)
	}
	if c.Server.IsProduction() && c.KYC.DemoEnabled {
		return fmt.Errorf("KYC_DEMO_ENABLED must not be set in production")
	}
	if c.KYC.MaxAttempts < 1 {
		return fmt.Errorf("KYC_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
