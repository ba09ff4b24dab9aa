// Package config provides configuration management for the kvs-ingest client.
// Configuration can be loaded from YAML files, environment variables and
// command-line flags bound by the caller.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	AWS       AWSConfig       `mapstructure:"aws"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Media     MediaConfig     `mapstructure:"media"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Lock      LockConfig      `mapstructure:"lock"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    DatabaseConfig  `mapstructure:"ledger"`
}

// AWSConfig holds the account credentials and region.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// Endpoint overrides the control-plane endpoint (e.g., a local emulator).
	Endpoint string `mapstructure:"endpoint"`
}

// StreamConfig identifies the target stream.
type StreamConfig struct {
	Name string `mapstructure:"name"`

	// RetentionHours is used when the stream has to be created.
	RetentionHours int `mapstructure:"retention_hours"`
}

// MediaConfig holds the upload source settings.
type MediaConfig struct {
	Path string `mapstructure:"path"`

	// ChunkSize is a human-readable size such as "16kB" or "100kB".
	// Sizes use decimal units: "16kB" is 16000 bytes.
	ChunkSize string `mapstructure:"chunk_size"`
}

// ChunkSizeBytes parses ChunkSize.
func (c MediaConfig) ChunkSizeBytes() (int, error) {
	n, err := units.FromHumanSize(c.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("media.chunk_size %q: %w", c.ChunkSize, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("media.chunk_size must be positive")
	}
	return int(n), nil
}

// TransportConfig holds PutMedia connection settings.
type TransportConfig struct {
	// ConnectTimeout bounds dialing and the TLS handshake only. The stream
	// itself is bounded by the caller's context.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	ExpectContinueTimeout time.Duration `mapstructure:"expect_continue_timeout"`

	UserAgent string `mapstructure:"user_agent"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// DumpPath receives a text exposition dump at exit. "-" means stderr.
	DumpPath string `mapstructure:"dump_path"`
}

// LockConfig holds per-stream upload lock settings.
type LockConfig struct {
	// Backend is "none", "memory" or "redis".
	Backend string `mapstructure:"backend"`

	// TTL is the lock lease; it is extended while an upload runs.
	TTL time.Duration `mapstructure:"ttl"`

	// WaitRetries is how often to retry a busy lock before failing.
	WaitRetries int `mapstructure:"wait_retries"`

	// WaitDelay is the pause between retries.
	WaitDelay time.Duration `mapstructure:"wait_delay"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds ack ledger connection settings.
// Supports PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "none", "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled returns true if a ledger backend is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Driver != "" && c.Driver != "none"
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with KVS_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	return LoadFrom(viper.New(), configPath)
}

// LoadFrom is Load on a caller-supplied viper instance, so that command-line
// flags bound to v take precedence over everything else.
func LoadFrom(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("KVS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The standard AWS variables are honoured as fallbacks.
	_ = v.BindEnv("aws.region", "KVS_AWS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = v.BindEnv("aws.access_key_id", "KVS_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws.secret_access_key", "KVS_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("aws.session_token", "KVS_AWS_SESSION_TOKEN", "AWS_SESSION_TOKEN")
	_ = v.BindEnv("stream.name", "KVS_STREAM_NAME", "STREAM_NAME")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("kvs-ingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/kvs-ingest")
	}

	// Config file is optional; environment variables and flags can be used instead.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// AWS defaults
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.endpoint", "")

	// Stream defaults
	v.SetDefault("stream.name", "")
	v.SetDefault("stream.retention_hours", 24)

	// Media defaults
	v.SetDefault("media.path", "")
	v.SetDefault("media.chunk_size", "16kB")

	// Transport defaults
	v.SetDefault("transport.connect_timeout", 10*time.Second)
	v.SetDefault("transport.expect_continue_timeout", 5*time.Second)
	v.SetDefault("transport.user_agent", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.dump_path", "")

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 5*time.Minute)
	v.SetDefault("lock.wait_retries", 0)
	v.SetDefault("lock.wait_delay", 2*time.Second)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Ledger defaults
	v.SetDefault("ledger.driver", "none")
	v.SetDefault("ledger.host", "localhost")
	v.SetDefault("ledger.port", 5432)
	v.SetDefault("ledger.user", "kvs")
	v.SetDefault("ledger.password", "")
	v.SetDefault("ledger.database", "kvs_ingest")
	v.SetDefault("ledger.ssl_mode", "prefer")
	v.SetDefault("ledger.max_open_conns", 4)
	v.SetDefault("ledger.max_idle_conns", 1)
	v.SetDefault("ledger.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("ledger.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("ledger.path", "./data/kvs-ingest.db")
	v.SetDefault("ledger.journal_mode", "WAL")
	v.SetDefault("ledger.busy_timeout", 5000)
	v.SetDefault("ledger.synchronous_mode", "NORMAL")
}

// Validate checks the configuration for valid values and ranges. Fields
// that are only required by some commands (stream name, credentials, media
// path) are checked by the clients that use them.
func (c *Config) Validate() error {
	if c.Stream.RetentionHours < 0 {
		return fmt.Errorf("stream.retention_hours must not be negative")
	}
	if len(c.Stream.Name) > 256 {
		return fmt.Errorf("stream.name must be at most 256 characters")
	}

	if _, err := c.Media.ChunkSizeBytes(); err != nil {
		return err
	}

	if c.Transport.ConnectTimeout < 0 {
		return fmt.Errorf("transport.connect_timeout must not be negative")
	}
	if c.Transport.ExpectContinueTimeout < 0 {
		return fmt.Errorf("transport.expect_continue_timeout must not be negative")
	}

	validBackends := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validBackends[c.Lock.Backend] {
		return fmt.Errorf("lock.backend must be 'none', 'memory' or 'redis'")
	}
	if c.Lock.Backend != "none" && c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Lock.Backend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required for redis lock backend")
	}

	validDrivers := map[string]bool{"none": true, "postgres": true, "sqlite": true}
	if !validDrivers[c.Ledger.Driver] {
		return fmt.Errorf("ledger.driver must be 'none', 'postgres' or 'sqlite'")
	}
	if c.Ledger.Driver == "postgres" {
		if c.Ledger.Host == "" {
			return fmt.Errorf("ledger.host is required for postgres driver")
		}
		if c.Ledger.User == "" {
			return fmt.Errorf("ledger.user is required for postgres driver")
		}
		if c.Ledger.Database == "" {
			return fmt.Errorf("ledger.database is required for postgres driver")
		}
	} else if c.Ledger.Driver == "sqlite" {
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for sqlite driver")
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
