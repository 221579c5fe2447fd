// Package config loads the dispatcher configuration from a YAML or TOML file
// with ${VAR} expansion, then applies DISPATCHER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentdispatch/dispatch"
	"github.com/hupe1980/agentdispatch/registry"
)

// EnvPrefix prefixes every environment override, e.g. DISPATCHER_SERVER_ADDR.
const EnvPrefix = "DISPATCHER"

// Config is the complete dispatcher configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" toml:"server"`
	Storage   StorageConfig    `yaml:"storage" toml:"storage"`
	Bot       BotConfig        `yaml:"bot" toml:"bot"`
	Auth      AuthConfig       `yaml:"auth" toml:"auth"`
	Agents    []registry.Agent `yaml:"agents" toml:"agents"`
	Model     ModelConfig      `yaml:"model" toml:"model"`
	Dispatch  DispatchConfig   `yaml:"dispatch" toml:"dispatch"`
	Telemetry TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr         string `yaml:"addr" toml:"addr" split_words:"true"`
	MessagesPath string `yaml:"messages_path" toml:"messages_path" split_words:"true"`
	// JWTSecret enables HS256 bearer verification on the messages endpoint.
	JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret" split_words:"true"`
	JWTAudience string `yaml:"jwt_audience" toml:"jwt_audience" split_words:"true"`
	HostName    string `yaml:"host_name" toml:"host_name" split_words:"true"`
	Environment string `yaml:"environment" toml:"environment" split_words:"true"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-" split_words:"true"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout" ignored:"true"`
}

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageBolt   = "bolt"
)

// StorageConfig selects the persistence collaborator.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver" split_words:"true"`
	Path   string `yaml:"path" toml:"path" split_words:"true"`
}

// BotConfig holds the bot registration used for connector and token
// service calls.
type BotConfig struct {
	AppID           string `yaml:"app_id" toml:"app_id" split_words:"true"`
	AppSecret       string `yaml:"app_secret" toml:"app_secret" split_words:"true"`
	TenantID        string `yaml:"tenant_id" toml:"tenant_id" split_words:"true"`
	Authority       string `yaml:"authority" toml:"authority" split_words:"true"`
	Scope           string `yaml:"scope" toml:"scope" split_words:"true"`
	TokenServiceURL string `yaml:"token_service_url" toml:"token_service_url" split_words:"true"`
}

// AuthConfig holds the delegated sign-in and on-behalf-of settings.
type AuthConfig struct {
	// ConnectionName is the OAuth connection registered on the bot.
	ConnectionName string `yaml:"connection_name" toml:"connection_name" split_words:"true"`
	// OBOConnectionKey names the confidential client used for the exchange.
	OBOConnectionKey string `yaml:"obo_connection_key" toml:"obo_connection_key" split_words:"true"`
	Authority        string `yaml:"authority" toml:"authority" split_words:"true"`
	TenantID         string `yaml:"tenant_id" toml:"tenant_id" split_words:"true"`
	ClientID         string `yaml:"client_id" toml:"client_id" split_words:"true"`
	ClientSecret     string `yaml:"client_secret" toml:"client_secret" split_words:"true"`

	ChallengeTimeout    time.Duration `yaml:"-" toml:"-" split_words:"true"`
	MaxFlowLifetime     time.Duration `yaml:"-" toml:"-" split_words:"true"`
	ChallengeTimeoutRaw string        `yaml:"challenge_timeout" toml:"challenge_timeout" ignored:"true"`
	MaxFlowLifetimeRaw  string        `yaml:"max_flow_lifetime" toml:"max_flow_lifetime" ignored:"true"`
}

// Model providers.
const (
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelConfig selects the language model of the general chat path.
type ModelConfig struct {
	Provider          string  `yaml:"provider" toml:"provider" split_words:"true"`
	Name              string  `yaml:"name" toml:"name" split_words:"true"`
	Temperature       float64 `yaml:"temperature" toml:"temperature" split_words:"true"`
	MaxTokens         int64   `yaml:"max_tokens" toml:"max_tokens" split_words:"true"`
	MaxToolIterations int     `yaml:"max_tool_iterations" toml:"max_tool_iterations" split_words:"true"`
	APIKey            string  `yaml:"api_key" toml:"api_key" split_words:"true"`
	BaseURL           string  `yaml:"base_url" toml:"base_url" split_words:"true"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-" split_words:"true"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout" ignored:"true"`
}

// DispatchConfig holds the remote attempt policy.
type DispatchConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts" split_words:"true"`

	InitialBackoff    time.Duration `yaml:"-" toml:"-" split_words:"true"`
	MaxBackoff        time.Duration `yaml:"-" toml:"-" split_words:"true"`
	InitialBackoffRaw string        `yaml:"initial_backoff" toml:"initial_backoff" ignored:"true"`
	MaxBackoffRaw     string        `yaml:"max_backoff" toml:"max_backoff" ignored:"true"`
}

// RetryPolicy converts the section to a dispatch.RetryPolicy.
func (c DispatchConfig) RetryPolicy() dispatch.RetryPolicy {
	return dispatch.RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}

// TelemetryConfig selects the telemetry sinks.
type TelemetryConfig struct {
	Console      bool     `yaml:"console" toml:"console" split_words:"true"`
	KafkaBrokers []string `yaml:"kafka_brokers" toml:"kafka_brokers" split_words:"true"`
	KafkaTopic   string   `yaml:"kafka_topic" toml:"kafka_topic" split_words:"true"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level" split_words:"true"`
	Format     string `yaml:"format" toml:"format" split_words:"true"`
	TraceLinks bool   `yaml:"trace_links" toml:"trace_links" split_words:"true"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3978",
			MessagesPath:    "/api/messages",
			Environment:     "Production",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Auth: AuthConfig{
			ChallengeTimeout: 30 * time.Second,
			MaxFlowLifetime:  15 * time.Minute,
		},
		Model: ModelConfig{
			Provider:          ProviderMock,
			Temperature:       0.2,
			MaxTokens:         2048,
			MaxToolIterations: 5,
		},
		Dispatch:  DispatchConfig{MaxAttempts: 1, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second},
		Telemetry: TelemetryConfig{KafkaTopic: "dispatcher.telemetry"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(data, cfg)
		return err
	default:
		return yaml.Unmarshal([]byte(data), cfg)
	}
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec any
	}{
		{"SERVER", &cfg.Server},
		{"STORAGE", &cfg.Storage},
		{"BOT", &cfg.Bot},
		{"AUTH", &cfg.Auth},
		{"MODEL", &cfg.Model},
		{"DISPATCH", &cfg.Dispatch},
		{"TELEMETRY", &cfg.Telemetry},
		{"LOGGING", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return err
		}
	}
	return nil
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.challenge_timeout", cfg.Auth.ChallengeTimeoutRaw, &cfg.Auth.ChallengeTimeout},
		{"auth.max_flow_lifetime", cfg.Auth.MaxFlowLifetimeRaw, &cfg.Auth.MaxFlowLifetime},
		{"model.request_timeout", cfg.Model.RequestTimeoutRaw, &cfg.Model.RequestTimeout},
		{"dispatch.initial_backoff", cfg.Dispatch.InitialBackoffRaw, &cfg.Dispatch.InitialBackoff},
		{"dispatch.max_backoff", cfg.Dispatch.MaxBackoffRaw, &cfg.Dispatch.MaxBackoff},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration, reporting every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !strings.HasPrefix(c.Server.MessagesPath, "/") {
		errs = append(errs, errors.New("server.messages_path must start with /"))
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite, StorageBolt:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, bolt", c.Storage.Driver))
	}

	switch c.Model.Provider {
	case ProviderMock, ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of mock, openai, anthropic", c.Model.Provider))
	}
	if c.Model.MaxToolIterations < 0 {
		errs = append(errs, errors.New("model.max_tool_iterations must not be negative"))
	}

	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatch.max_attempts must be at least 1"))
	}
	if c.Auth.MaxFlowLifetime <= 0 {
		errs = append(errs, errors.New("auth.max_flow_lifetime must be positive"))
	}
	if (c.Bot.AppID == "") != (c.Bot.AppSecret == "") {
		errs = append(errs, errors.New("bot.app_id and bot.app_secret must be set together"))
	}
	if c.Auth.ConnectionName != "" && (c.Auth.ClientID == "" || c.Auth.ClientSecret == "") {
		errs = append(errs, errors.New("auth.client_id and auth.client_secret are required with auth.connection_name"))
	}
	if len(c.Telemetry.KafkaBrokers) > 0 && c.Telemetry.KafkaTopic == "" {
		errs = append(errs, errors.New("telemetry.kafka_topic is required with kafka brokers"))
	}

	if _, err := registry.New(c.Agents); err != nil {
		errs = append(errs, fmt.Errorf("agents: %w", err))
	}
	return errors.Join(errs...)
}
