package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/toolserver"
)

const (
	EnvPrefix      = "CHAINSCOUT"
	DefaultEnvFile = ".env"

	anthropicKeyEnv = "ANTHROPIC_API_KEY"
	openAIKeyEnv    = "OPENAI_API_KEY"
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"chainscout.yaml",
	"chainscout.json",
	filepath.Join("~", ".chainscout", "config.yaml"),
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
	overrides  map[string]interface{}
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvFile loads the given dotenv file instead of ./.env. A missing
// explicit file is an error.
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// WithOverride sets a key with the highest precedence, as a flag would.
func WithOverride(key string, value interface{}) Option {
	return func(l *Loader) {
		l.overrides[key] = value
	}
}

// NewLoader creates a new config loader
func NewLoader(configPath string, opts ...Option) *Loader {
	l := &Loader{
		configPath: configPath,
		overrides:  map[string]interface{}{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the configuration: defaults, then the config file, then the
// dotenv file, then the environment, then overrides.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	configPath, err := l.resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by the MCP server and the provider SDKs
	if err := v.BindEnv("explorer.endpoint_url", EnvPrefix+"_EXPLORER_ENDPOINT_URL", toolserver.EndpointEnvVar); err != nil {
		return nil, err
	}

	for key, value := range l.overrides {
		v.Set(key, value)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Agent.Credential == "" {
		cfg.Agent.Credential = providerCredential(cfg.Agent.Provider)
	}
	cfg.ToolServer.Env = upperKeys(cfg.ToolServer.Env)

	return cfg, nil
}

func (l *Loader) loadEnvFile() error {
	path := l.envFile
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}

	// godotenv.Load leaves variables that are already set untouched
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (l *Loader) resolveConfigPath() (string, error) {
	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return l.configPath, nil
	}

	for _, candidate := range searchPaths {
		path, err := expandHome(candidate)
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// upperKeys undoes viper's lowercasing of map keys; environment variable
// names are expected in upper case.
func upperKeys(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func providerCredential(provider string) string {
	switch provider {
	case agent.ProviderOpenAI:
		return os.Getenv(openAIKeyEnv)
	default:
		return os.Getenv(anthropicKeyEnv)
	}
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("explorer.endpoint_url", cfg.Explorer.EndpointURL)

	v.SetDefault("agent.provider", cfg.Agent.Provider)
	v.SetDefault("agent.model", cfg.Agent.Model)
	v.SetDefault("agent.credential", cfg.Agent.Credential)
	v.SetDefault("agent.instruction", cfg.Agent.Instruction)
	v.SetDefault("agent.max_turns", cfg.Agent.MaxTurns)
	v.SetDefault("agent.max_tokens", cfg.Agent.MaxTokens)
	v.SetDefault("agent.temperature", cfg.Agent.Temperature)
	v.SetDefault("agent.max_retries", cfg.Agent.MaxRetries)

	v.SetDefault("tool_server.command", cfg.ToolServer.Command)
	v.SetDefault("tool_server.args", cfg.ToolServer.Args)
	v.SetDefault("tool_server.working_dir", cfg.ToolServer.WorkingDir)
	v.SetDefault("tool_server.call_timeout", cfg.ToolServer.CallTimeout)

	v.SetDefault("runner.pacing", cfg.Runner.Pacing)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// Save writes cfg as YAML. The credential is never written; it belongs in
// the environment or a dotenv file.
func (l *Loader) Save(cfg *Config) error {
	path := l.configPath
	if path == "" {
		path = searchPaths[0]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *cfg
	out.Agent.Credential = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file that Load would read, or "" if none.
func (l *Loader) GetConfigPath() string {
	path, err := l.resolveConfigPath()
	if err != nil {
		return ""
	}
	return path
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string, opts ...Option) (*Config, error) {
	return NewLoader(configPath, opts...).Load()
}

// SaveEnvFile merges values into a dotenv file, keeping existing entries.
func SaveEnvFile(path string, values map[string]string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		env = existing
	}
	for k, v := range values {
		env[k] = v
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// CredentialEnv returns the environment variable holding the provider's key.
func CredentialEnv(provider string) string {
	if provider == agent.ProviderOpenAI {
		return openAIKeyEnv
	}
	return anthropicKeyEnv
}
