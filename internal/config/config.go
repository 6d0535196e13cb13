// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Experiments  ExperimentsConfig  `yaml:"experiments"`
	Redis        RedisConfig        `yaml:"redis"`
	Database     DatabaseConfig     `yaml:"database"`
	Conversation ConversationConfig `yaml:"conversation"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	CORS         CORSConfig         `yaml:"cors"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// UpstreamConfig describes the chat-completion API.
type UpstreamConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	// APIKey is a literal key or a secret reference such as env://VENICE_API_KEY.
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"` // per attempt
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig controls upstream retries.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	RetryStatuses []int         `yaml:"retry_statuses"`
}

// ExperimentsConfig controls the variant pool and assignment.
type ExperimentsConfig struct {
	Key             string   `yaml:"key"`
	Seed            []string `yaml:"seed"`
	SeedMode        string   `yaml:"seed_mode"`         // replace, append, if-empty
	EmptyPoolPolicy string   `yaml:"empty_pool_policy"` // reject, default
	DefaultVariant  string   `yaml:"default_variant"`
	SkipPaths       []string `yaml:"skip_paths"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// DatabaseConfig contains PostgreSQL settings for the diagnostic endpoint.
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"` // literal or secret reference
	Name           string        `yaml:"name"`
	SSLMode        string        `yaml:"sslmode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	ConnLifetime   time.Duration `yaml:"conn_lifetime"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

// ConversationConfig controls per-session history.
type ConversationConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	// PendingTTL bounds sessions whose generated id was never sent back.
	PendingTTL  time.Duration `yaml:"pending_ttl"`
	MaxMessages int           `yaml:"max_messages"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Vault    VaultConfig   `yaml:"vault"`
}

// VaultConfig configures the optional Vault provider.
type VaultConfig struct {
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"auth_method"` // token, approle, cert
	Token      string `yaml:"token"`
	RoleID     string `yaml:"role_id"`
	SecretID   string `yaml:"secret_id"`
	Namespace  string `yaml:"namespace"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// CORSConfig contains cross-origin settings.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`  // empty mirrors the request
	ExposeHeaders    []string      `yaml:"expose_headers"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP/HTTP endpoint (e.g., "localhost:4318")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Upstream: UpstreamConfig{
			Name:             "venice",
			Endpoint:         "https://api.venice.ai/api/v1/chat/completions",
			APIKey:           "env://VENICE_API_KEY",
			Timeout:          60 * time.Second,
			MaxResponseBytes: 10 << 20,
			Retry: RetryConfig{
				MaxAttempts:   3,
				BackoffBase:   time.Second,
				MaxBackoff:    30 * time.Second,
				RetryStatuses: []int{429, 500, 502, 503, 504},
			},
		},
		Experiments: ExperimentsConfig{
			Key:             "experiments",
			Seed:            []string{"llama-3.3-70b", "mistral-31-24b"},
			SeedMode:        "replace",
			EmptyPoolPolicy: "reject",
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Host:           "localhost",
			Port:           5432,
			Name:           "postgres",
			SSLMode:        "disable",
			ConnectTimeout: 5 * time.Second,
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			ConnLifetime:   5 * time.Minute,
			StatsInterval:  30 * time.Second,
		},
		Conversation: ConversationConfig{
			Enabled:     true,
			TTL:         30 * time.Minute,
			PendingTTL:  2 * time.Minute,
			MaxMessages: 20,
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		CORS: CORSConfig{
			Enabled:          true,
			AllowAllOrigins:  true,
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			ExposeHeaders:    []string{"X-Request-ID", "X-Session-ID", "X-Experiment-Variant"},
			MaxAge:           10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "abgate",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the legacy environment variables, then validates it. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return Parse(data, os.LookupEnv)
}

// Parse builds a validated configuration from raw YAML. ${VAR} references in
// data and the legacy environment overrides are resolved through lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		expanded := os.Expand(string(data), func(name string) string {
			v, _ := lookup(name)
			return v
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	return Load(path)
}

// applyEnv overlays the variables the service has always been configured with.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	port := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", name, v)
		}
		*dst = n
		return nil
	}

	str("POSTGRES_URL", &c.Database.Host)
	str("POSTGRES_DB", &c.Database.Name)
	str("POSTGRES_USER", &c.Database.User)
	str("POSTGRES_PASSWORD", &c.Database.Password)
	if err := port("POSTGRES_PORT", &c.Database.Port); err != nil {
		return err
	}
	str("REDIS_HOST", &c.Redis.Host)
	if err := port("REDIS_PORT", &c.Redis.Port); err != nil {
		return err
	}
	str("LOG_LEVEL", &c.Logging.Level)
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes cannot be negative")
	}

	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream.endpoint is required")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout cannot be negative")
	}
	if c.Upstream.Retry.MaxAttempts < 1 {
		return fmt.Errorf("upstream.retry.max_attempts must be at least 1")
	}
	if c.Upstream.Retry.BackoffBase < 0 || c.Upstream.Retry.MaxBackoff < 0 {
		return fmt.Errorf("upstream.retry backoff cannot be negative")
	}
	for _, code := range c.Upstream.Retry.RetryStatuses {
		if code < 400 || code > 599 {
			return fmt.Errorf("upstream.retry.retry_statuses: %d is not a 4xx/5xx status", code)
		}
	}

	if c.Experiments.Key == "" {
		return fmt.Errorf("experiments.key is required")
	}
	switch c.Experiments.SeedMode {
	case "", "replace", "append", "if-empty":
	default:
		return fmt.Errorf("experiments.seed_mode %q must be replace, append or if-empty", c.Experiments.SeedMode)
	}
	switch c.Experiments.EmptyPoolPolicy {
	case "reject":
	case "default":
		if c.Experiments.DefaultVariant == "" {
			return fmt.Errorf("experiments.default_variant is required when empty_pool_policy is default")
		}
	default:
		return fmt.Errorf("experiments.empty_pool_policy %q must be reject or default", c.Experiments.EmptyPoolPolicy)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
	}

	if c.Conversation.MaxMessages < 0 {
		return fmt.Errorf("conversation.max_messages cannot be negative")
	}
	if c.Conversation.TTL < 0 {
		return fmt.Errorf("conversation.ttl cannot be negative")
	}
	if c.Conversation.PendingTTL < 0 {
		return fmt.Errorf("conversation.pending_ttl cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}
