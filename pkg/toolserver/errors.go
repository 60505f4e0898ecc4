package toolserver

import (
	"errors"
	"fmt"
)

var (
	// ErrEndpointRequired is returned by Open when no explorer endpoint is configured
	ErrEndpointRequired = errors.New("explorer endpoint url is required")

	// ErrConnectionClosed is returned when the server process has gone away
	ErrConnectionClosed = errors.New("tool server connection closed")

	// ErrCallTimeout is returned when the server does not answer within the call timeout
	ErrCallTimeout = errors.New("tool server request timed out")

	// ErrUnknownTool is returned when a call names a tool that was not discovered
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when call arguments fail the tool's input schema
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrCursorCycle is returned when tools/list pagination revisits a cursor
	ErrCursorCycle = errors.New("tools/list cursor repeated")
)

// ConnectionError reports a failure to start the server or complete discovery.
type ConnectionError struct {
	Stage string // spawn, initialize, tools/list
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server %s failed: %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("MCP error (%d): %s", e.Code, e.Message)
}

// IsConnectionFatal reports whether err means the connection can no longer serve calls.
func IsConnectionFatal(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}
