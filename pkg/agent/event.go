package agent

import (
	"errors"
	"fmt"
)

// EventKind identifies one step of a query run.
type EventKind int

const (
	ToolCallRequest EventKind = iota + 1
	ToolCallResult
	ToolError
	TextChunk
	FatalError
	Completion
)

func (k EventKind) String() string {
	switch k {
	case ToolCallRequest:
		return "tool_call_request"
	case ToolCallResult:
		return "tool_call_result"
	case ToolError:
		return "tool_error"
	case TextChunk:
		return "text_chunk"
	case FatalError:
		return "fatal_error"
	case Completion:
		return "completion"
	default:
		return fmt.Sprintf("event_kind(%d)", int(k))
	}
}

// Terminal reports whether the kind ends a stream.
func (k EventKind) Terminal() bool {
	return k == FatalError || k == Completion
}

// ToolOutput is what a tool call produced.
type ToolOutput struct {
	ToolName string `json:"tool_name"`
	Text     string `json:"text"`
	IsError  bool   `json:"is_error,omitempty"`
}

// Event is one unit of progress emitted while a query executes.
type Event struct {
	Kind   EventKind
	Call   *ToolCall
	Result *ToolOutput
	Text   string
	Err    error

	// ConnectionFatal marks a FatalError caused by losing the tool server.
	ConnectionFatal bool
}

// ErrEventInvalid is returned by Validate for events missing their payload.
var ErrEventInvalid = errors.New("invalid agent event")

// Validate checks that the event carries the payload its kind requires.
func (e Event) Validate() error {
	switch e.Kind {
	case ToolCallRequest:
		if e.Call == nil || e.Call.Name == "" {
			return fmt.Errorf("%w: %s without tool call", ErrEventInvalid, e.Kind)
		}
	case ToolCallResult:
		if e.Result == nil {
			return fmt.Errorf("%w: %s without result", ErrEventInvalid, e.Kind)
		}
	case ToolError:
		if e.Err == nil && e.Result == nil {
			return fmt.Errorf("%w: %s without error or result", ErrEventInvalid, e.Kind)
		}
	case FatalError:
		if e.Err == nil {
			return fmt.Errorf("%w: %s without error", ErrEventInvalid, e.Kind)
		}
	case TextChunk, Completion:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrEventInvalid, int(e.Kind))
	}
	return nil
}

// ErrorText returns the human readable failure carried by a ToolError or FatalError.
func (e Event) ErrorText() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Result != nil {
		return e.Result.Text
	}
	return ""
}
