package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/chainscout/pkg/agent"
)

// ErrNoCredential is returned by the wizard when input ends before a key is entered
var ErrNoCredential = errors.New("an API key is required")

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading from in and prompting on out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the explorer endpoint, the provider and its key, the model,
// the contracts to query and the log level.
func (w *Wizard) Run() (*Config, error) {
	w.println("=== chainscout configuration ===")
	w.println("")

	cfg := DefaultConfig()
	validator := NewValidator()

	for {
		endpoint, err := w.ask("Blockscout API URL (e.g. https://eth.blockscout.com/api)", "")
		if err != nil {
			return nil, err
		}
		if endpoint == "" {
			w.println("Error: the explorer endpoint is required")
			continue
		}
		if err := validator.ValidateEndpointURL(endpoint); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Explorer.EndpointURL = endpoint
		break
	}

	for {
		provider, err := w.ask("Provider (anthropic/openai)", agent.ProviderAnthropic)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Agent.Provider = provider
		break
	}

	for {
		key, err := w.ask(fmt.Sprintf("%s API key", cfg.Agent.Provider), "")
		if errors.Is(err, io.EOF) {
			return nil, ErrNoCredential
		}
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key, cfg.Agent.Provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Agent.Credential = key
		break
	}

	model, err := w.ask("Model", agent.DefaultModel(cfg.Agent.Provider))
	if err != nil {
		return nil, err
	}
	if model != agent.DefaultModel(cfg.Agent.Provider) {
		cfg.Agent.Model = model
	}

	w.println("")
	w.println("Contracts referenced by queries as {{.Contracts.Name}}. Enter Name=0xAddress, blank to finish.")
	for {
		entry, err := w.ask("Contract", "")
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if entry == "" {
			break
		}
		name, address, ok := strings.Cut(entry, "=")
		named := NamedAddress{Name: strings.TrimSpace(name), Address: strings.TrimSpace(address)}
		if !ok {
			w.println("Error: expected Name=0xAddress")
			continue
		}
		if err := validator.ValidateName(named.Name); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		if err := validator.ValidateAddress(named.Address); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Contracts = append(cfg.Contracts, named)
	}

	level, err := w.ask("Log level (debug/info/warn/error)", "info")
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println("")
	w.println("Configuration complete!")
	return cfg, nil
}

// ask prompts and returns the trimmed answer, or def when the answer is blank.
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		w.printf("%s [%s]: ", prompt, def)
	} else {
		w.printf("%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if line == "" && def != "" && errors.Is(err, io.EOF) {
			return def, nil
		}
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) println(s string) {
	fmt.Fprintln(w.out, s)
}

func (w *Wizard) printf(format string, args ...interface{}) {
	fmt.Fprintf(w.out, format, args...)
}
