package runner

import "errors"

// ErrorKind classifies why a query did not complete.
type ErrorKind string

const (
	// KindNone marks a completed query
	KindNone ErrorKind = ""

	// KindQuery is a failure reported by the agent (fatal-error event)
	KindQuery ErrorKind = "query"

	// KindUnexpected covers panics and streams that break their contract
	KindUnexpected ErrorKind = "unexpected"

	// KindConnection marks queries skipped after the tool server was lost
	KindConnection ErrorKind = "connection"

	// KindInterrupted marks queries stopped or skipped by cancellation
	KindInterrupted ErrorKind = "interrupted"
)

var (
	ErrAgentRequired      = errors.New("agent is required")
	ErrStreamUnterminated = errors.New("event stream ended without a terminal event")
	ErrConnectionLost     = errors.New("skipped: tool server connection lost")
	ErrInterrupted        = errors.New("interrupted")
)
