package cli

import (
	"context"
	"errors"

	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitConfig      = 2
	ExitConnection  = 3
	ExitInterrupted = 130
)

// ErrQueriesFailed is returned when the session ran but a query did not complete.
var ErrQueriesFailed = errors.New("one or more queries failed")

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	var cfgErr *session.ConfigurationError
	var connErr *session.ConnectionError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.Is(err, context.Canceled), errors.Is(err, runner.ErrInterrupted):
		return ExitInterrupted
	case errors.As(err, &connErr):
		return ExitConnection
	default:
		return ExitFailed
	}
}

// resultError folds a finished session into one error for ExitCode.
func resultError(results []runner.RunResult, err error) error {
	if err != nil {
		return err
	}
	failed := false
	for _, r := range results {
		switch r.ErrorKind {
		case runner.KindNone:
		case runner.KindInterrupted:
			return runner.ErrInterrupted
		case runner.KindConnection:
			return &session.ConnectionError{Stage: "call", Err: runner.ErrConnectionLost}
		default:
			failed = true
		}
	}
	if failed {
		return ErrQueriesFailed
	}
	return nil
}
