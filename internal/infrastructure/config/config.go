package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Opsmith Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Definitions DefinitionsConfig `yaml:"definitions"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Policy      PolicyConfig      `yaml:"policy"`
	Runner      RunnerConfig      `yaml:"runner"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	Sink        SinkConfig        `yaml:"sink"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// DefinitionsConfig locates pack and recipe definition directories.
type DefinitionsConfig struct {
	PacksDir   string `yaml:"packs_dir"`
	RecipesDir string `yaml:"recipes_dir"`
}

// InventoryConfig selects and configures the device inventory source.
type InventoryConfig struct {
	// Source is "static" (YAML file) or "remote" (CMDB adapter).
	Source string `yaml:"source"`

	// Path is the static inventory file, used when Source is static.
	Path string `yaml:"path"`

	Remote RemoteInventoryConfig `yaml:"remote"`
}

// RemoteInventoryConfig tunes the CMDB-backed inventory adapter.
type RemoteInventoryConfig struct {
	// BaseURL is the CMDB API endpoint.
	BaseURL string `yaml:"base_url"`

	// CacheTTLSeconds bounds how long a resolved device list is served
	// from cache before the CMDB is queried again. Default: 300.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// ServeStaleOnError keeps serving an expired cache entry when a
	// refresh fails instead of failing the request.
	ServeStaleOnError bool `yaml:"serve_stale_on_error"`
}

// CacheTTL returns the cache TTL as a Duration.
func (r RemoteInventoryConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// CredentialsConfig locates the credential store.
type CredentialsConfig struct {
	// Path is a YAML file of credential references. Secrets themselves
	// arrive via environment variables named in that file, never inline.
	Path string `yaml:"path"`
}

// PolicyConfig tunes the write-operation gate.
type PolicyConfig struct {
	// AuthorizationTag is the device tag required for write operations.
	AuthorizationTag string `yaml:"authorization_tag"`

	// TicketPattern overrides the accepted ticket reference syntax.
	TicketPattern string `yaml:"ticket_pattern"`
}

// RunnerConfig tunes concurrent device execution.
type RunnerConfig struct {
	// Concurrency bounds simultaneous device sessions. Default: 10.
	Concurrency int `yaml:"concurrency"`

	// StopSeverity is the minimum step severity that halts a recipe
	// ("warning" or "critical"). Default: critical.
	StopSeverity string `yaml:"stop_severity"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// SinkConfig contains MQTT report delivery settings.
type SinkConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    SinkBrokerConfig    `yaml:"broker"`
	Auth      SinkAuthConfig      `yaml:"auth"`
	Topic     string              `yaml:"topic"`
	QoS       int                 `yaml:"qos"`
	Reconnect SinkReconnectConfig `yaml:"reconnect"`
}

// SinkBrokerConfig contains MQTT broker connection details.
type SinkBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// SinkAuthConfig contains MQTT authentication credentials.
type SinkAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SinkReconnectConfig contains MQTT reconnection settings.
type SinkReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MetricsConfig contains InfluxDB execution metrics settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OPSMITH_SECTION_KEY
// For example: OPSMITH_DATABASE_PATH, OPSMITH_POLICY_TAG
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Definitions: DefinitionsConfig{
			PacksDir:   "./definitions/packs",
			RecipesDir: "./definitions/recipes",
		},
		Inventory: InventoryConfig{
			Source: "static",
			Path:   "./inventory.yaml",
			Remote: RemoteInventoryConfig{
				CacheTTLSeconds: 300,
			},
		},
		Credentials: CredentialsConfig{
			Path: "./credentials.yaml",
		},
		Policy: PolicyConfig{
			AuthorizationTag: "allow_execute",
		},
		Runner: RunnerConfig{
			Concurrency:  10,
			StopSeverity: "critical",
		},
		Database: DatabaseConfig{
			Path:        "./data/opsmith.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Sink: SinkConfig{
			Broker: SinkBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "opsmith-core",
			},
			Topic: "opsmith/reports",
			QoS:   1,
			Reconnect: SinkReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OPSMITH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSMITH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("OPSMITH_INVENTORY_SOURCE"); v != "" {
		cfg.Inventory.Source = v
	}
	if v := os.Getenv("OPSMITH_INVENTORY_PATH"); v != "" {
		cfg.Inventory.Path = v
	}
	if v := os.Getenv("OPSMITH_CMDB_URL"); v != "" {
		cfg.Inventory.Remote.BaseURL = v
	}

	if v := os.Getenv("OPSMITH_POLICY_TAG"); v != "" {
		cfg.Policy.AuthorizationTag = v
	}

	if v := os.Getenv("OPSMITH_RUNNER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.Concurrency = n
		}
	}

	if v := os.Getenv("OPSMITH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("OPSMITH_SINK_USERNAME"); v != "" {
		cfg.Sink.Auth.Username = v
	}
	if v := os.Getenv("OPSMITH_SINK_PASSWORD"); v != "" {
		cfg.Sink.Auth.Password = v
	}

	if v := os.Getenv("OPSMITH_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("OPSMITH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Definitions.PacksDir == "" {
		errs = append(errs, "definitions.packs_dir is required")
	}

	switch c.Inventory.Source {
	case "static":
		if c.Inventory.Path == "" {
			errs = append(errs, "inventory.path is required for static source")
		}
	case "remote":
		if c.Inventory.Remote.BaseURL == "" {
			errs = append(errs, "inventory.remote.base_url is required for remote source")
		}
	default:
		errs = append(errs, "inventory.source must be static or remote")
	}

	if c.Inventory.Remote.CacheTTLSeconds < 0 {
		errs = append(errs, "inventory.remote.cache_ttl_seconds must not be negative")
	}

	if c.Runner.Concurrency < 1 {
		errs = append(errs, "runner.concurrency must be at least 1")
	}
	switch c.Runner.StopSeverity {
	case "warning", "critical":
	default:
		errs = append(errs, "runner.stop_severity must be warning or critical")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Sink.QoS < 0 || c.Sink.QoS > 2 {
		errs = append(errs, "sink.qos must be 0, 1, or 2")
	}

	// Security validation - JWT secret is REQUIRED
	// The API authorises device automation including write operations.
	// Empty or weak secrets could allow attackers to forge tokens and
	// push configuration changes to network devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set OPSMITH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
