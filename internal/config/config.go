// Package config loads the YAML configuration file, expanding environment
// variables and applying defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Taskwise.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	LLM          LLMConfig          `yaml:"llm"`
	Agent        AgentConfig        `yaml:"agent"`
	Streaming    StreamingConfig    `yaml:"streaming"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// URL is a Postgres connection string. When empty, stores fall back to
	// the SQLite path (or in-memory for tests).
	URL             string        `yaml:"url"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// AgentConfig tunes the orchestration loop and the per-tool circuit breaker.
type AgentConfig struct {
	MaxSteps         int           `yaml:"max_steps"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
}

// StreamingConfig controls the stream event log and the migration bridge to
// the legacy document store.
type StreamingConfig struct {
	// Backend selects the event log store: "memory", "sqlite", or "postgres".
	Backend string `yaml:"backend"`

	// DualWrite mirrors every event into the legacy document while the
	// migration is in flight.
	DualWrite bool `yaml:"dual_write"`

	// ReadFromEvents serves reads from the event log when the stream exists
	// there, falling back to the legacy document otherwise.
	ReadFromEvents bool `yaml:"read_from_events"`

	// RetentionDays is how long finished streams are kept. Zero disables
	// retention deletion.
	RetentionDays int `yaml:"retention_days"`

	// RetentionSchedule is a cron expression for the retention sweeper.
	RetentionSchedule string `yaml:"retention_schedule"`
}

type IntegrationsConfig struct {
	Todoist  TodoistConfig  `yaml:"todoist"`
	Calendar CalendarConfig `yaml:"calendar"`
}

type TodoistConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIToken string `yaml:"api_token"`
	BaseURL  string `yaml:"base_url"`
}

type CalendarConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	BaseURL      string `yaml:"base_url"`

	// AccessToken and RefreshToken come from a completed OAuth consent flow.
	// With a refresh token present the client refreshes access on its own.
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file
// read. Useful for tests and the chat CLI.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "taskwise.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 8
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Agent.FailureThreshold == 0 {
		cfg.Agent.FailureThreshold = 3
	}
	if cfg.Agent.FailureWindow == 0 {
		cfg.Agent.FailureWindow = 5 * time.Minute
	}
	if cfg.Streaming.Backend == "" {
		cfg.Streaming.Backend = "memory"
	}
	if cfg.Streaming.RetentionSchedule == "" {
		cfg.Streaming.RetentionSchedule = "0 3 * * *"
	}
	if cfg.Integrations.Todoist.BaseURL == "" {
		cfg.Integrations.Todoist.BaseURL = "https://api.todoist.com/rest/v2"
	}
	if cfg.Integrations.Calendar.BaseURL == "" {
		cfg.Integrations.Calendar.BaseURL = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	switch c.Streaming.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("streaming.backend must be memory, sqlite, or postgres, got %q", c.Streaming.Backend)
	}
	if c.Streaming.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("streaming.backend postgres requires database.url")
	}
	if c.Streaming.RetentionDays < 0 {
		return fmt.Errorf("streaming.retention_days must not be negative")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps must be at least 1")
	}
	return nil
}
