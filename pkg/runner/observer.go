package runner

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/queryset"
)

// Observer is notified of run progress. Calls happen on the runner's goroutine.
type Observer interface {
	QueryStarted(index, total int, spec queryset.QuerySpec)
	Event(index int, spec queryset.QuerySpec, ev agent.Event)
	QuerySettled(result RunResult)
	Pausing(d time.Duration)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) QueryStarted(int, int, queryset.QuerySpec)  {}
func (NopObserver) Event(int, queryset.QuerySpec, agent.Event) {}
func (NopObserver) QuerySettled(RunResult)                     {}
func (NopObserver) Pausing(time.Duration)                      {}

// MultiObserver fans out to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) QueryStarted(index, total int, spec queryset.QuerySpec) {
	for _, o := range m {
		o.QueryStarted(index, total, spec)
	}
}

func (m MultiObserver) Event(index int, spec queryset.QuerySpec, ev agent.Event) {
	for _, o := range m {
		o.Event(index, spec, ev)
	}
}

func (m MultiObserver) QuerySettled(result RunResult) {
	for _, o := range m {
		o.QuerySettled(result)
	}
}

func (m MultiObserver) Pausing(d time.Duration) {
	for _, o := range m {
		o.Pausing(d)
	}
}

// LogObserver writes run progress to a zerolog logger.
type LogObserver struct {
	Logger zerolog.Logger
}

func (o LogObserver) QueryStarted(index, total int, spec queryset.QuerySpec) {
	o.Logger.Info().
		Int("index", index+1).
		Int("total", total).
		Str("query_id", spec.ID).
		Str("description", spec.Description).
		Msg("Running query")
}

func (o LogObserver) Event(index int, spec queryset.QuerySpec, ev agent.Event) {
	logger := o.Logger.With().Str("query_id", spec.ID).Str("event", ev.Kind.String()).Logger()

	switch ev.Kind {
	case agent.ToolCallRequest:
		logger.Info().Str("tool", ev.Call.Name).Interface("args", ev.Call.Parameters).Msg("Tool call")
	case agent.ToolCallResult:
		logger.Info().
			Str("tool", ev.Result.ToolName).
			Int("bytes", len(ev.Result.Text)).
			Str("text", ev.Result.Text).
			Msg("Tool result")
	case agent.ToolError:
		tool := ""
		if ev.Call != nil {
			tool = ev.Call.Name
		}
		logger.Warn().Str("tool", tool).Str("error", ev.ErrorText()).Msg("Tool error")
	case agent.TextChunk:
		logger.Debug().Str("text", ev.Text).Msg("Text chunk")
	case agent.FatalError:
		logger.Error().Err(ev.Err).Bool("connection_fatal", ev.ConnectionFatal).Msg("Query failed")
	}
}

func (o LogObserver) QuerySettled(result RunResult) {
	if result.OK() {
		o.Logger.Info().
			Str("query_id", result.QueryID).
			Dur("duration", result.Duration).
			Int("tool_calls", result.ToolCalls).
			Msg("Query completed")
		return
	}
	o.Logger.Warn().
		Str("query_id", result.QueryID).
		Str("kind", string(result.ErrorKind)).
		Str("error", result.Error).
		Msg("Query did not complete")
}

func (o LogObserver) Pausing(d time.Duration) {
	o.Logger.Debug().Dur("pacing", d).Msg("Pausing before next query")
}
