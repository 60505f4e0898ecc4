package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/harun/chainscout/internal/logger"
	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/queryset"
	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
	"github.com/harun/chainscout/pkg/toolserver"
)

// Config represents the chainscout configuration
type Config struct {
	Explorer   ExplorerConfig   `json:"explorer" yaml:"explorer" mapstructure:"explorer"`
	Agent      AgentConfig      `json:"agent" yaml:"agent" mapstructure:"agent"`
	ToolServer ToolServerConfig `json:"tool_server" yaml:"tool_server" mapstructure:"tool_server"`
	Runner     RunnerConfig     `json:"runner" yaml:"runner" mapstructure:"runner"`

	// Contracts and Addresses are referenced from query templates by name
	Contracts []NamedAddress `json:"contracts" yaml:"contracts" mapstructure:"contracts"`
	Addresses []NamedAddress `json:"addresses" yaml:"addresses" mapstructure:"addresses"`

	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// ExplorerConfig points at the Blockscout instance
type ExplorerConfig struct {
	EndpointURL string `json:"endpoint_url" yaml:"endpoint_url" mapstructure:"endpoint_url"`
}

// AgentConfig holds reasoning engine settings
type AgentConfig struct {
	Provider    string  `json:"provider" yaml:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" yaml:"model" mapstructure:"model"`
	Credential  string  `json:"credential,omitempty" yaml:"credential,omitempty" mapstructure:"credential"`
	Instruction string  `json:"instruction" yaml:"instruction" mapstructure:"instruction"`
	MaxTurns    int     `json:"max_turns" yaml:"max_turns" mapstructure:"max_turns"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// ToolServerConfig describes how the MCP server process is launched
type ToolServerConfig struct {
	Command     string            `json:"command" yaml:"command" mapstructure:"command"`
	Args        []string          `json:"args" yaml:"args" mapstructure:"args"`
	WorkingDir  string            `json:"working_dir" yaml:"working_dir" mapstructure:"working_dir"`
	Env         map[string]string `json:"env" yaml:"env" mapstructure:"env"`
	CallTimeout time.Duration     `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`
}

// RunnerConfig holds query pacing
type RunnerConfig struct {
	Pacing time.Duration `json:"pacing" yaml:"pacing" mapstructure:"pacing"`
}

// NamedAddress is one entry of the contracts or addresses list
type NamedAddress struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Address string `json:"address" yaml:"address" mapstructure:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	Pretty    bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"` // empty disables the server
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:    agent.ProviderAnthropic,
			Instruction: agent.DefaultInstruction,
			MaxTurns:    agent.DefaultMaxTurns,
			MaxTokens:   agent.DefaultMaxTokens,
			MaxRetries:  agent.DefaultMaxRetries,
		},
		ToolServer: ToolServerConfig{
			Command:     toolserver.DefaultCommand,
			Args:        toolserver.DefaultArgs(),
			Env:         map[string]string{},
			CallTimeout: toolserver.DefaultCallTimeout,
		},
		Runner: RunnerConfig{
			Pacing: runner.DefaultPacing,
		},
		Contracts: []NamedAddress{},
		Addresses: []NamedAddress{},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// Model returns the configured model or the provider default.
func (c *Config) Model() string {
	if c.Agent.Model != "" {
		return c.Agent.Model
	}
	return agent.DefaultModel(c.Agent.Provider)
}

// String returns a JSON representation of the config with the credential masked
func (c *Config) String() string {
	masked := *c
	masked.Agent.Credential = MaskSecret(c.Agent.Credential)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// MaskSecret keeps the first four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}

// Validate checks formats of the configured values. Missing required values
// are left to session validation so they can be reported together.
func (c *Config) Validate() error {
	problems := NewValidator().ValidateConfig(c)
	if len(problems) == 0 {
		return nil
	}
	cfgErr := &session.ConfigurationError{}
	for _, p := range problems {
		cfgErr.Invalid = append(cfgErr.Invalid, p.Error())
	}
	return cfgErr
}

// Session converts the configuration into session settings.
func (c *Config) Session() session.Config {
	// An explicit zero pacing disables the pause; the runner reads zero as "default".
	pacing := c.Runner.Pacing
	if pacing == 0 {
		pacing = -1
	}
	// Likewise zero retries means a single provider attempt.
	retries := c.Agent.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return session.Config{
		EndpointURL: c.Explorer.EndpointURL,
		Credential:  c.Agent.Credential,
		Provider:    c.Agent.Provider,
		Model:       c.Model(),
		Instruction: c.Agent.Instruction,
		MaxTurns:    c.Agent.MaxTurns,
		MaxTokens:   c.Agent.MaxTokens,
		Temperature: c.Agent.Temperature,
		MaxRetries:  retries,
		Command:     c.ToolServer.Command,
		Args:        c.ToolServer.Args,
		WorkingDir:  c.ToolServer.WorkingDir,
		Env:         c.ToolServer.Env,
		CallTimeout: c.ToolServer.CallTimeout,
		Pacing:      pacing,
	}
}

// TemplateData exposes contracts and addresses to query templates.
func (c *Config) TemplateData() queryset.TemplateData {
	return queryset.TemplateData{
		Contracts: namedMap(c.Contracts),
		Addresses: namedMap(c.Addresses),
	}
}

// ContractMap returns the contracts keyed by name.
func (c *Config) ContractMap() map[string]string {
	return namedMap(c.Contracts)
}

func namedMap(entries []NamedAddress) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Address
	}
	return out
}

// LoggerConfig converts logging settings for logger.New.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
		MaxSize:   c.Logging.MaxSize,
		MaxAge:    c.Logging.MaxAge,
		Compress:  c.Logging.Compress,
	}
	if c.Agent.Credential != "" {
		cfg.Secrets = append(cfg.Secrets, c.Agent.Credential)
	}
	return cfg
}
