// Package config loads settings for the approval engine.
//
// Sources, highest priority first:
// 1. Environment variables (DATABASE_URL, APPROVAL_SYSTEM_USER_ID, ...)
// 2. config.yaml (optional)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// systemUserName seeds the derived system user id used when none is configured.
const systemUserName = "approval-engine/system"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Events   EventsConfig   `mapstructure:"events"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains settings of the operational HTTP server
// (health, readiness, log level).
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pool is shared by the repositories, the audit logger and River.
type DatabaseConfig struct {
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

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	SweepPoolSize   int `mapstructure:"sweep_pool_size"`
}

// ApprovalConfig contains engine settings.
type ApprovalConfig struct {
	// SystemUserID is recorded as the approver of auto-approve actions.
	SystemUserID string `mapstructure:"system_user_id"`
	// TimeoutSweepSchedule is a standard 5-field cron expression.
	TimeoutSweepSchedule string `mapstructure:"timeout_sweep_schedule"`
	SweepBatchSize       int    `mapstructure:"sweep_batch_size"`
	// EscalationFallbackUserID receives escalations when the approver has
	// no manager in the directory. Empty disables the fallback.
	EscalationFallbackUserID string `mapstructure:"escalation_fallback_user_id"`
}

// SystemUser returns the parsed system user id.
func (c ApprovalConfig) SystemUser() uuid.UUID {
	id, err := uuid.Parse(c.SystemUserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// EscalationFallbackUser returns the parsed fallback user id, or uuid.Nil.
func (c ApprovalConfig) EscalationFallbackUser() uuid.UUID {
	id, err := uuid.Parse(c.EscalationFallbackUserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// EventsConfig controls publication of relayed domain events to Kafka.
type EventsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig configures the approver resolution cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"resolver_cache_ttl"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/approval-engine")

	// database.max_conns -> DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ensureSystemUser()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.Approval.SystemUserID); err != nil {
		return fmt.Errorf("approval.system_user_id must be a UUID: %w", err)
	}
	if c.Approval.EscalationFallbackUserID != "" {
		if _, err := uuid.Parse(c.Approval.EscalationFallbackUserID); err != nil {
			return fmt.Errorf("approval.escalation_fallback_user_id must be a UUID: %w", err)
		}
	}
	if _, err := cron.ParseStandard(c.Approval.TimeoutSweepSchedule); err != nil {
		return fmt.Errorf("approval.timeout_sweep_schedule: %w", err)
	}
	if c.Approval.SweepBatchSize <= 0 {
		return fmt.Errorf("approval.sweep_batch_size must be positive")
	}
	if c.Worker.GeneralPoolSize <= 0 || c.Worker.SweepPoolSize <= 0 {
		return fmt.Errorf("worker pool sizes must be positive")
	}
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers must not be empty when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events.topic must not be empty when events are enabled")
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ensureSystemUser derives a stable system user id when none is configured.
func (c *Config) ensureSystemUser() {
	if c.Approval.SystemUserID != "" {
		return
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(systemUserName))
	c.Approval.SystemUserID = id.String()
	logBootstrapWarn(
		"approval.system_user_id not set, using derived id; set APPROVAL_SYSTEM_USER_ID to match your directory",
		zap.String("system_user_id", c.Approval.SystemUserID),
	)
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

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "approvals")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "approvals")
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
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.sweep_pool_size", 16)

	// Approval engine
	v.SetDefault("approval.system_user_id", "")
	v.SetDefault("approval.timeout_sweep_schedule", "*/5 * * * *")
	v.SetDefault("approval.sweep_batch_size", 200)
	v.SetDefault("approval.escalation_fallback_user_id", "")

	// Events
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "approval.events")
	v.SetDefault("events.write_timeout", "10s")

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.resolver_cache_ttl", "5m")

	// Tracing
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "approval-engine")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
