package agent

import "errors"

var (
	// ErrProviderRequired is returned by New without an LLM provider
	ErrProviderRequired = errors.New("llm provider is required")

	// ErrToolsRequired is returned by New without a tool dispatcher
	ErrToolsRequired = errors.New("tool dispatcher is required")

	// ErrModelRequired is returned by New without a model id
	ErrModelRequired = errors.New("model is required")

	// ErrMaxTurnsExceeded ends a query that keeps requesting tools
	ErrMaxTurnsExceeded = errors.New("maximum tool execution turns exceeded")

	// ErrQueryInProgress is reported when a second query starts on a busy client
	ErrQueryInProgress = errors.New("another query is already running on this agent")
)
