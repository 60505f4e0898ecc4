package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/chainscout/internal/observability"
	"github.com/harun/chainscout/internal/tracing"
	"github.com/harun/chainscout/pkg/toolserver"
)

const (
	DefaultMaxTurns   = 10
	DefaultMaxTokens  = 4096
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	tracerName = "chainscout.agent"
)

// ToolDispatcher is the part of a tool server connection the agent needs.
type ToolDispatcher interface {
	ListTools() []toolserver.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]interface{}) (toolserver.CallResult, error)
}

// Config holds agent client configuration
type Config struct {
	Model       string
	Instruction string
	Provider    LLMProvider
	Tools       ToolDispatcher
	MaxTurns    int
	MaxTokens   int
	Temperature float64
	MaxRetries  int           // retries after the first attempt; negative disables
	RetryDelay  time.Duration // first backoff step, doubled per attempt
	Logger      zerolog.Logger
}

// Client binds a provider, an instruction and the tool snapshot.
type Client struct {
	cfg    Config
	tools  []ToolSpec
	logger zerolog.Logger
	busy   atomic.Bool
}

// New creates an agent client. The tool snapshot is taken once, here.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == nil {
		return nil, ErrProviderRequired
	}
	if cfg.Tools == nil {
		return nil, ErrToolsRequired
	}
	if cfg.Model == "" {
		return nil, ErrModelRequired
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Client{
		cfg:    cfg,
		tools:  ToolSpecsFromDescriptors(cfg.Tools.ListTools()),
		logger: cfg.Logger.With().Str("component", "agent").Str("provider", cfg.Provider.Provider()).Logger(),
	}, nil
}

// Tools returns the tool specs presented to the model.
func (c *Client) Tools() []ToolSpec {
	out := make([]ToolSpec, len(c.tools))
	copy(out, c.tools)
	return out
}

// RunQuery starts a query. Nothing happens until the stream is pulled.
// A client already running a query returns a stream holding a single FatalError.
func (c *Client) RunQuery(ctx context.Context, text string) *Stream {
	if !c.busy.CompareAndSwap(false, true) {
		return &Stream{
			pending:    []Event{{Kind: FatalError, Err: ErrQueryInProgress}},
			terminated: true,
		}
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.query",
		attribute.String("llm.provider", c.cfg.Provider.Provider()),
		attribute.String("llm.model", c.cfg.Model),
	)

	return &Stream{
		client:   c,
		ctx:      ctx,
		span:     span,
		logger:   tracing.LoggerFromContext(ctx, c.logger),
		messages: []AgentMessage{{Role: RoleUser, Content: text}},
	}
}

// Stream is the lazily produced event sequence of one query.
type Stream struct {
	client   *Client
	ctx      context.Context
	span     trace.Span
	logger   zerolog.Logger
	messages []AgentMessage

	pending    []Event
	calls      []ToolCall // requested by the model, not yet dispatched
	turn       int
	usage      TokenUsage
	terminated bool
}

// Next returns the next event. It reports false once the terminal event has
// been delivered.
func (s *Stream) Next() (Event, bool) {
	for len(s.pending) == 0 {
		if s.terminated {
			return Event{}, false
		}
		if len(s.calls) > 0 {
			s.dispatch()
			continue
		}
		s.step()
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

// Usage returns the tokens consumed so far.
func (s *Stream) Usage() TokenUsage {
	return s.usage
}

func (s *Stream) emit(ev Event) {
	s.pending = append(s.pending, ev)
}

func (s *Stream) finish(ev Event) {
	s.emit(ev)
	s.terminated = true

	if s.span != nil {
		if ev.Kind == FatalError {
			s.span.RecordError(ev.Err)
			s.span.SetStatus(codes.Error, ev.Err.Error())
		}
		s.span.SetAttributes(
			attribute.Int("llm.turns", s.turn),
			attribute.Int("llm.input_tokens", s.usage.InputTokens),
			attribute.Int("llm.output_tokens", s.usage.OutputTokens),
		)
		s.span.End()
	}
	if s.client != nil {
		s.client.busy.Store(false)
	}
}

func (s *Stream) fail(err error, connectionFatal bool) {
	s.finish(Event{Kind: FatalError, Err: err, ConnectionFatal: connectionFatal})
}

// step runs one model turn. Tool calls it requests are only announced here.
func (s *Stream) step() {
	if err := s.ctx.Err(); err != nil {
		s.fail(err, false)
		return
	}
	if s.turn >= s.client.cfg.MaxTurns {
		s.fail(ErrMaxTurnsExceeded, false)
		return
	}
	s.turn++

	response, err := s.client.callWithRetry(s.ctx, s.logger, s.messages)
	if err != nil {
		s.fail(fmt.Errorf("reasoning engine: %w", err), false)
		return
	}
	s.usage.Add(response.Usage)
	s.logger.Debug().
		Int("turn", s.turn).
		Str("stop_reason", response.StopReason).
		Int("tool_calls", len(response.ToolCalls)).
		Msg("Model responded")

	if len(response.ToolCalls) == 0 {
		if response.Content != "" {
			s.emit(Event{Kind: TextChunk, Text: response.Content})
		}
		s.finish(Event{Kind: Completion})
		return
	}

	if response.Content != "" {
		s.logger.Debug().Str("text", response.Content).Msg("Model reasoning alongside tool calls")
	}

	s.messages = append(s.messages, AgentMessage{
		Role:      RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	})

	s.calls = append(s.calls, response.ToolCalls...)
	s.announce()
}

// announce queues the request event of the next pending tool call. The call
// itself runs on the following pull.
func (s *Stream) announce() {
	call := s.calls[0]
	s.emit(Event{Kind: ToolCallRequest, Call: &call})
}

// dispatch runs the pending tool call whose request was already delivered and
// queues its outcome.
func (s *Stream) dispatch() {
	call := s.calls[0]
	s.calls = s.calls[1:]
	if err := s.ctx.Err(); err != nil {
		s.calls = nil
		s.fail(err, false)
		return
	}

	result, err := s.client.cfg.Tools.CallTool(s.ctx, call.Name, call.Parameters)
	if err != nil {
		s.emit(Event{Kind: ToolError, Call: &call, Err: err})
		if toolserver.IsConnectionFatal(err) {
			s.calls = nil
			s.fail(fmt.Errorf("tool %s: %w", call.Name, err), true)
			return
		}
		s.messages = append(s.messages, AgentMessage{
			Role:       RoleTool,
			Content:    err.Error(),
			ToolCallID: call.ID,
			IsError:    true,
		})
	} else {
		output := &ToolOutput{ToolName: call.Name, Text: result.Text, IsError: result.IsError}
		if result.IsError {
			s.emit(Event{Kind: ToolError, Call: &call, Result: output})
		} else {
			s.emit(Event{Kind: ToolCallResult, Call: &call, Result: output})
		}
		s.messages = append(s.messages, AgentMessage{
			Role:       RoleTool,
			Content:    result.Text,
			ToolCallID: call.ID,
			IsError:    result.IsError,
		})
	}

	if len(s.calls) > 0 {
		s.announce()
	}
}

// callWithRetry calls the provider with exponential backoff on retryable errors
func (c *Client) callWithRetry(ctx context.Context, logger zerolog.Logger, messages []AgentMessage) (*LLMResponse, error) {
	request := LLMRequest{
		Model:        c.cfg.Model,
		Messages:     messages,
		Tools:        c.tools,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		SystemPrompt: c.cfg.Instruction,
	}

	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		response, err := c.cfg.Provider.Call(ctx, request)
		observability.RecordLLMCall(c.cfg.Provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			return response, nil
		}
		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == attempts-1 {
			break
		}

		delay := c.cfg.RetryDelay * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.cfg.MaxRetries, lastErr)
}

// Close abandons the stream. It is a no-op once the terminal event was queued.
func (s *Stream) Close() {
	if s.terminated {
		return
	}
	s.calls = nil
	s.fail(context.Canceled, false)
	s.pending = nil
}
