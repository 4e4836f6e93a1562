// Package config provides configuration management for the procurement
// orchestrator.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
//
// Import Path: procurement.io/orchestrator/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/approval"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	River         RiverConfig         `mapstructure:"river"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Approval      ApprovalConfig      `mapstructure:"approval"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Security      SecurityConfig      `mapstructure:"security"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CommandTimeout bounds one command's unit of work.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains store settings. The pgx pool is shared by the
// repository and River.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`

	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings. River relays staged events to
// the broker; it needs the postgres driver.
type RiverConfig struct {
	Enabled                     bool          `mapstructure:"enabled"`
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	RelayPoolSize  int `mapstructure:"relay_pool_size"`
	NotifyPoolSize int `mapstructure:"notify_pool_size"`
}

// BrokerConfig selects where relayed events go. An empty NATSURL logs them
// instead.
type BrokerConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// JetStream publishes with acknowledgement and Nats-Msg-Id dedup. The
	// stream covering SubjectPrefix must exist.
	JetStream bool `mapstructure:"jetstream"`
}

// ApprovalConfig holds approval chain templates, from a YAML file and/or
// inline.
type ApprovalConfig struct {
	ChainsFile string                   `mapstructure:"chains_file"`
	Chains     []approval.ChainTemplate `mapstructure:"chains"`
	// ReminderAfter is how long a request may stay PENDING before the daily
	// sweep reminds its current approvers. Needs River.
	ReminderAfter time.Duration `mapstructure:"reminder_after"`
}

// LoadChains merges the chains file and the inline chains into one
// validated registry.
func (c ApprovalConfig) LoadChains() (*approval.Chains, error) {
	templates := append([]approval.ChainTemplate(nil), c.Chains...)
	if c.ChainsFile != "" {
		f, err := os.Open(c.ChainsFile)
		if err != nil {
			return nil, fmt.Errorf("open approval chains file: %w", err)
		}
		defer f.Close()
		fromFile, err := approval.LoadChains(f)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", c.ChainsFile, err)
		}
		templates = append(templates, fromFile...)
	}
	return approval.NewChains(templates...)
}

// OrchestrationConfig tunes the command layer.
type OrchestrationConfig struct {
	MaxConflictRetries int    `mapstructure:"max_conflict_retries"`
	DefaultCurrency    string `mapstructure:"default_currency"`
}

// SecurityConfig contains security-related settings.
// Missing secrets are auto-generated on first boot.
type SecurityConfig struct {
	// JWTSigningKey verifies HS256 bearer tokens; the subject is the actor.
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	// AllowHeaderActor accepts X-Actor-ID when no bearer token is sent.
	AllowHeaderActor bool `mapstructure:"allow_header_actor"`
}

// TelemetryConfig configures tracing. An empty OTLPEndpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Insecure     bool    `mapstructure:"insecure"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/procurement")

	// No prefix: uses standard names like DATABASE_URL, SERVER_PORT, LOG_LEVEL
	// Maps nested config: database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	if c.River.Enabled && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("river.enabled requires database.driver=%s", DriverPostgres)
	}
	if c.Orchestration.MaxConflictRetries < 0 {
		return fmt.Errorf("orchestration.max_conflict_retries must not be negative")
	}
	if len(c.Orchestration.DefaultCurrency) != 3 {
		return fmt.Errorf("orchestration.default_currency must be an ISO 4217 code, got %q", c.Orchestration.DefaultCurrency)
	}
	if c.Worker.RelayPoolSize <= 0 || c.Worker.NotifyPoolSize <= 0 {
		return fmt.Errorf("worker pool sizes must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	for _, chain := range c.Approval.Chains {
		if err := chain.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ensureSecrets auto-generates missing secrets.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.command_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "procurement")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "procurement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.enabled", false)
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker Pool
	v.SetDefault("worker.relay_pool_size", 4)
	v.SetDefault("worker.notify_pool_size", 20)

	// Broker
	v.SetDefault("broker.nats_url", "")
	v.SetDefault("broker.subject_prefix", "procurement.events")
	v.SetDefault("broker.jetstream", false)

	// Approval
	v.SetDefault("approval.chains_file", "")
	v.SetDefault("approval.reminder_after", "48h")

	// Orchestration
	v.SetDefault("orchestration.max_conflict_retries", 2)
	v.SetDefault("orchestration.default_currency", "KRW")

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.allow_header_actor", false)

	// Telemetry
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "procurement-orchestrator")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)
}
