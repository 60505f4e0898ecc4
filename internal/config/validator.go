package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/chainscout/pkg/agent"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case agent.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates the reasoning engine provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case agent.ProviderAnthropic, agent.ProviderOpenAI:
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s, %s)", provider, agent.ProviderAnthropic, agent.ProviderOpenAI)
}

// ValidateEndpointURL checks that the explorer endpoint is an absolute http(s) URL
func (v *Validator) ValidateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid explorer endpoint url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid explorer endpoint url %q: must be an absolute http(s) url", raw)
	}
	return nil
}

// ValidateAddress validates a 20-byte hex address
func (v *Validator) ValidateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return fmt.Errorf("invalid address %q: expected 0x followed by 40 hex characters", address)
	}
	return nil
}

// ValidateName validates a contract or address name usable in templates
func (v *Validator) ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name %q: must start with a letter and contain only letters, digits and underscores", name)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if _, err := zerolog.ParseLevel(level); err != nil || level == "" {
		return fmt.Errorf("invalid log level: %s (must be one of: trace, debug, info, warn, error)", level)
	}
	return nil
}

// ValidateConfig returns every format problem found. Empty required values
// are not reported here.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Explorer.EndpointURL != "" {
		if err := v.ValidateEndpointURL(cfg.Explorer.EndpointURL); err != nil {
			errs = append(errs, err)
		}
	}

	providerOK := true
	if err := v.ValidateProvider(cfg.Agent.Provider); err != nil {
		errs = append(errs, err)
		providerOK = false
	}
	if providerOK && cfg.Agent.Credential != "" {
		if err := v.ValidateAPIKey(cfg.Agent.Credential, cfg.Agent.Provider); err != nil {
			errs = append(errs, fmt.Errorf("agent.credential: %w", err))
		}
	}
	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errs = append(errs, fmt.Errorf("agent.temperature: %w", err))
	}
	if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
		errs = append(errs, fmt.Errorf("agent.max_tokens: %w", err))
	}
	if cfg.Agent.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be positive, got %d", cfg.Agent.MaxTurns))
	}
	if cfg.Agent.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("agent.max_retries cannot be negative, got %d", cfg.Agent.MaxRetries))
	}

	if strings.TrimSpace(cfg.ToolServer.Command) == "" {
		errs = append(errs, fmt.Errorf("tool_server.command cannot be empty"))
	}
	if cfg.ToolServer.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tool_server.call_timeout must be positive"))
	}
	if cfg.Runner.Pacing < 0 {
		errs = append(errs, fmt.Errorf("runner.pacing must be >= 0"))
	}

	errs = append(errs, v.validateNamed("contracts", cfg.Contracts)...)
	errs = append(errs, v.validateNamed("addresses", cfg.Addresses)...)

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (v *Validator) validateNamed(section string, entries []NamedAddress) []error {
	var errs []error
	seen := map[string]bool{}
	for i, e := range entries {
		if err := v.ValidateName(e.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", section, i, err))
		}
		if err := v.ValidateAddress(e.Address); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", section, i, err))
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("%s[%d]: duplicate name %q", section, i, e.Name))
		}
		seen[e.Name] = true
	}
	return errs
}
