package session

import (
	"fmt"
	"strings"

	"github.com/harun/chainscout/pkg/toolserver"
)

// ConfigurationError lists every missing or invalid setting found before
// anything was started.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// ConnectionError reports a failure to open the tool server or to bind the
// agent to it.
type ConnectionError = toolserver.ConnectionError

func agentError(err error) error {
	return &ConnectionError{Stage: "agent", Err: fmt.Errorf("failed to create agent: %w", err)}
}
