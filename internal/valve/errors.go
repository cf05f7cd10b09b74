package valve

import (
	"errors"
	"fmt"
)

// Operation names a retried session operation.
type Operation string

const (
	OperationConnect Operation = "connect"
	OperationRead    Operation = "read"
	OperationWrite   Operation = "write"
)

// AttemptsExceededError reports that a retried operation ran out of attempts.
// errors.Is matches it against the sentinel of the same Operation.
type AttemptsExceededError struct {
	Operation Operation
	Address   string
	Attempts  int
}

func (e *AttemptsExceededError) Error() string {
	switch e.Operation {
	case OperationConnect:
		return fmt.Sprintf("too many attempts trying to connect to %s (%d)", e.Address, e.Attempts)
	case OperationRead:
		return fmt.Sprintf("timed out reading response from %s after %d attempts", e.Address, e.Attempts)
	case OperationWrite:
		return fmt.Sprintf("too many failed attempts at updating configuration of %s (%d)", e.Address, e.Attempts)
	default:
		return fmt.Sprintf("%s: %d attempts exceeded for %s", e.Operation, e.Attempts, e.Address)
	}
}

// Is allows errors.Is to compare AttemptsExceededError values by Operation
func (e *AttemptsExceededError) Is(target error) bool {
	t, ok := target.(*AttemptsExceededError)
	if !ok {
		return false
	}
	return e.Operation == t.Operation
}

// Predefined sentinel errors for exhausted retries
var (
	ErrConnectionAttemptsExceeded = &AttemptsExceededError{Operation: OperationConnect}
	ErrResponseTimeout            = &AttemptsExceededError{Operation: OperationRead}
	ErrWriteAttemptsExceeded      = &AttemptsExceededError{Operation: OperationWrite}
)

// ErrNameTooLong is returned by SetName for names over MaxNameLength characters.
var ErrNameTooLong = errors.New("name too long")

// ErrUnknownPreset is returned for a Preset outside saving/auto/manual.
var ErrUnknownPreset = errors.New("unknown preset")
