package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/chainscout/internal/observability"
	"github.com/harun/chainscout/internal/tracing"
	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/queryset"
	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/toolserver"
)

// Config is everything one session needs.
type Config struct {
	EndpointURL string
	Credential  string

	Provider    string
	Model       string
	Instruction string
	MaxTurns    int
	MaxTokens   int
	Temperature float64
	MaxRetries  int

	Command     string
	Args        []string
	WorkingDir  string
	Env         map[string]string
	CallTimeout time.Duration

	Pacing time.Duration
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	cfgErr := &ConfigurationError{}
	if strings.TrimSpace(c.EndpointURL) == "" {
		cfgErr.Missing = append(cfgErr.Missing, "endpoint_url")
	}
	if strings.TrimSpace(c.Credential) == "" {
		cfgErr.Missing = append(cfgErr.Missing, "credential")
	}
	switch c.Provider {
	case "", agent.ProviderAnthropic, agent.ProviderOpenAI:
	default:
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("unsupported provider %q", c.Provider))
	}
	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return cfgErr
	}
	return nil
}

func (c Config) toolOptions(logger zerolog.Logger) toolserver.Options {
	return toolserver.Options{
		EndpointURL: c.EndpointURL,
		Command:     c.Command,
		Args:        c.Args,
		WorkingDir:  c.WorkingDir,
		ExtraEnv:    c.Env,
		InheritEnv:  true,
		CallTimeout: c.CallTimeout,
		Logger:      logger,
	}
}

// ToolConnection is an open tool server.
type ToolConnection interface {
	agent.ToolDispatcher
	Close() error
}

// OpenToolsFunc opens the tool server. On error it may still return a
// partially opened connection, which the session closes.
type OpenToolsFunc func(ctx context.Context, opts toolserver.Options) (ToolConnection, error)

// NewAgentFunc binds an agent to an open tool server.
type NewAgentFunc func(cfg Config, tools agent.ToolDispatcher, logger zerolog.Logger) (runner.QueryAgent, error)

// Deps are the collaborators a session uses. Zero fields get defaults.
type Deps struct {
	OpenTools OpenToolsFunc
	NewAgent  NewAgentFunc
	Observer  runner.Observer
	Sleep     runner.SleepFunc
	Logger    zerolog.Logger
}

// OpenToolServer is the default OpenToolsFunc.
func OpenToolServer(ctx context.Context, opts toolserver.Options) (ToolConnection, error) {
	conn, err := toolserver.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewAgent is the default NewAgentFunc.
func NewAgent(cfg Config, tools agent.ToolDispatcher, logger zerolog.Logger) (runner.QueryAgent, error) {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = agent.ProviderAnthropic
	}
	provider, err := agent.NewProvider(providerName, cfg.Credential)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = agent.DefaultModel(providerName)
	}

	client, err := agent.New(agent.Config{
		Model:       model,
		Instruction: cfg.Instruction,
		Provider:    provider,
		Tools:       tools,
		MaxTurns:    cfg.MaxTurns,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		MaxRetries:  cfg.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return runner.AgentFromClient(client), nil
}

// Session runs query lists against a fresh tool server each time.
type Session struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a session.
func New(deps Deps) *Session {
	if deps.OpenTools == nil {
		deps.OpenTools = OpenToolServer
	}
	if deps.NewAgent == nil {
		deps.NewAgent = NewAgent
	}
	if deps.Observer == nil {
		deps.Observer = runner.LogObserver{Logger: deps.Logger}
	}
	return &Session{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "session").Logger(),
	}
}

// Run validates cfg, opens the tool server, runs specs in order and releases
// the tool server. The results hold one entry per query whenever the tool
// server was opened.
func (s *Session) Run(ctx context.Context, cfg Config, specs []queryset.QuerySpec) (results []runner.RunResult, err error) {
	start := time.Now()
	defer func() {
		observability.RecordSession(outcome(results, err), time.Since(start))
	}()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx = tracing.NewSessionContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "chainscout.session", "session.run",
		attribute.Int("session.queries", len(specs)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	conn, release, err := s.open(ctx, cfg, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	queryAgent, err := s.deps.NewAgent(cfg, conn, logger)
	if err != nil {
		return nil, agentError(err)
	}

	r, err := runner.New(runner.Config{
		Agent:    queryAgent,
		Observer: s.deps.Observer,
		Pacing:   cfg.Pacing,
		Sleep:    s.deps.Sleep,
	})
	if err != nil {
		return nil, agentError(err)
	}

	logger.Info().Int("queries", len(specs)).Msg("Session started")
	results, err = r.Run(ctx, specs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return results, err
}

// ListTools opens the tool server, snapshots its tools and releases it. Only
// the endpoint is required.
func (s *Session) ListTools(ctx context.Context, cfg Config) ([]toolserver.ToolDescriptor, error) {
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return nil, &ConfigurationError{Missing: []string{"endpoint_url"}}
	}

	conn, release, err := s.open(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	defer release()

	return conn.ListTools(), nil
}

// open returns the connection and a release func that closes it once.
func (s *Session) open(ctx context.Context, cfg Config, logger zerolog.Logger) (ToolConnection, func(), error) {
	conn, err := s.deps.OpenTools(ctx, cfg.toolOptions(logger))

	var once sync.Once
	release := func() {
		once.Do(func() {
			if conn == nil {
				return
			}
			if cerr := conn.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("Failed to close tool server")
				return
			}
			logger.Debug().Msg("Tool server released")
		})
	}

	if err != nil {
		release()
		var connErr *ConnectionError
		if !errors.As(err, &connErr) && !errors.Is(err, toolserver.ErrEndpointRequired) {
			err = &ConnectionError{Stage: "open", Err: err}
		}
		return nil, nil, err
	}

	logger.Info().Int("tools", len(conn.ListTools())).Msg("Tool server connected")
	return conn, release, nil
}

func outcome(results []runner.RunResult, err error) string {
	var cfgErr *ConfigurationError
	var connErr *ConnectionError
	switch {
	case errors.As(err, &cfgErr):
		return "config_error"
	case errors.As(err, &connErr):
		return "connection_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	case err != nil:
		return "error"
	}
	for _, r := range results {
		if !r.OK() {
			return "query_failed"
		}
	}
	return "ok"
}
