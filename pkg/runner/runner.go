package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/chainscout/internal/observability"
	"github.com/harun/chainscout/internal/tracing"
	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/queryset"
)

// DefaultPacing is the pause between two consecutive queries.
const DefaultPacing = 5 * time.Second

// EventStream yields the events of one query.
type EventStream interface {
	Next() (agent.Event, bool)
}

// QueryAgent starts queries.
type QueryAgent interface {
	RunQuery(ctx context.Context, text string) EventStream
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type clientAgent struct {
	client *agent.Client
}

func (a clientAgent) RunQuery(ctx context.Context, text string) EventStream {
	return a.client.RunQuery(ctx, text)
}

// AgentFromClient adapts an agent client to QueryAgent.
func AgentFromClient(client *agent.Client) QueryAgent {
	return clientAgent{client: client}
}

// RunResult is the outcome of one query.
type RunResult struct {
	Index       int           `json:"index"`
	QueryID     string        `json:"query_id"`
	Description string        `json:"description"`
	Text        string        `json:"text"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ToolCalls   int           `json:"tool_calls"`
	Duration    time.Duration `json:"duration_ns"`

	Err error `json:"-"`
}

// OK reports whether the query completed.
func (r RunResult) OK() bool {
	return r.ErrorKind == KindNone
}

func (r *RunResult) fail(kind ErrorKind, err error) {
	r.Text = ""
	r.ErrorKind = kind
	r.Err = err
	r.Error = err.Error()
}

// Config holds runner configuration
type Config struct {
	Agent    QueryAgent
	Observer Observer
	Pacing   time.Duration
	Sleep    SleepFunc
}

// Runner executes query lists in order.
type Runner struct {
	cfg Config
}

// New creates a runner. A zero Pacing means DefaultPacing; a negative one disables pacing.
func New(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, ErrAgentRequired
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Pacing == 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes specs in order and returns one result per spec, in spec order.
// The error is non-nil only when ctx was cancelled; the results are complete
// even then.
func (r *Runner) Run(ctx context.Context, specs []queryset.QuerySpec) ([]RunResult, error) {
	results := make([]RunResult, 0, len(specs))

	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return r.skipRemaining(results, specs, i, KindInterrupted, ErrInterrupted), err
		}

		if i > 0 && r.cfg.Pacing > 0 {
			r.cfg.Observer.Pausing(r.cfg.Pacing)
			start := time.Now()
			if err := r.cfg.Sleep(ctx, r.cfg.Pacing); err != nil {
				return r.skipRemaining(results, specs, i, KindInterrupted, ErrInterrupted), err
			}
			observability.RecordPacing(time.Since(start))
		}

		result, connectionLost := r.runOne(ctx, i, len(specs), spec)
		results = append(results, result)
		r.cfg.Observer.QuerySettled(result)

		if result.ErrorKind == KindInterrupted {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			return r.skipRemaining(results, specs, i+1, KindInterrupted, ErrInterrupted), err
		}
		if connectionLost {
			return r.skipRemaining(results, specs, i+1, KindConnection, ErrConnectionLost), nil
		}
	}

	return results, nil
}

func (r *Runner) skipRemaining(results []RunResult, specs []queryset.QuerySpec, from int, kind ErrorKind, err error) []RunResult {
	for i := from; i < len(specs); i++ {
		result := newResult(i, specs[i])
		result.fail(kind, err)
		results = append(results, result)
		observability.RecordQuery(string(kind), 0)
		r.cfg.Observer.QuerySettled(result)
	}
	return results
}

func newResult(index int, spec queryset.QuerySpec) RunResult {
	return RunResult{
		Index:       index,
		QueryID:     spec.ID,
		Description: spec.Description,
	}
}

// runOne pulls one query's stream to its terminal event. The second return
// value reports a connection-fatal failure.
func (r *Runner) runOne(ctx context.Context, index, total int, spec queryset.QuerySpec) (result RunResult, connectionLost bool) {
	start := time.Now()
	result = newResult(index, spec)

	ctx = tracing.WithQueryID(ctx, spec.ID)
	ctx, span := tracing.StartSpan(ctx, "chainscout.runner", "runner.query",
		attribute.String("query.id", spec.ID),
		attribute.Int("query.index", index),
	)

	defer func() {
		if p := recover(); p != nil {
			result.fail(KindUnexpected, fmt.Errorf("panic while running query: %v", p))
			connectionLost = false
		}
		result.Duration = time.Since(start)

		status := "ok"
		if !result.OK() {
			status = string(result.ErrorKind)
			span.SetStatus(codes.Error, result.Error)
		}
		span.SetAttributes(attribute.Int("query.tool_calls", result.ToolCalls))
		span.End()
		observability.RecordQuery(status, result.Duration)
	}()

	r.cfg.Observer.QueryStarted(index, total, spec)

	stream := r.cfg.Agent.RunQuery(ctx, spec.Text)
	if stream == nil {
		result.fail(KindUnexpected, fmt.Errorf("agent returned no event stream"))
		return result, false
	}
	if closer, ok := stream.(interface{ Close() }); ok {
		defer closer.Close()
	}

	var text strings.Builder
	for {
		ev, ok := stream.Next()
		if !ok {
			result.fail(KindUnexpected, ErrStreamUnterminated)
			return result, false
		}
		if err := ev.Validate(); err != nil {
			result.fail(KindUnexpected, err)
			return result, false
		}

		r.cfg.Observer.Event(index, spec, ev)

		switch ev.Kind {
		case agent.TextChunk:
			text.WriteString(ev.Text)
		case agent.ToolCallRequest:
			result.ToolCalls++
		case agent.Completion:
			result.Text = text.String()
			return result, false
		case agent.FatalError:
			kind := KindQuery
			if ctx.Err() != nil {
				kind = KindInterrupted
			}
			result.fail(kind, ev.Err)
			return result, ev.ConnectionFatal
		}
	}
}
