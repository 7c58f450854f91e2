package modem

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport.
	//
	// This can occur if the Dialer returned a nil Transport or if the Modem
	// was not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation attempted afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrTimeout is returned when the expected marker did not show up in the
	// modem output before the step's timeout elapsed.
	//
	// A command the modem rejected and a command the modem never answered
	// are indistinguishable: both surface as ErrTimeout.
	ErrTimeout = errors.New("timed out waiting for modem")

	// ErrEmptyNumber is returned when a call or message has no destination.
	ErrEmptyNumber = errors.New("destination number is empty")

	// ErrInvalidArgument is returned when a number, message or parameter
	// contains characters that would end or split the AT command carrying
	// it. Nothing is written to the modem in that case.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBodyTooLarge is returned when an HTTP POST body exceeds what the
	// modem accepts in a single AT+HTTPDATA transfer.
	ErrBodyTooLarge = errors.New("request body too large")
)

// CommandError reports the step that failed inside an operation.
type CommandError struct {
	// Command is the command that was written, without its line terminator.
	// It is empty when the step only waited for output.
	Command string
	// Marker is the text the step waited for.
	Marker string
	// Timeout is the step's wait budget.
	Timeout time.Duration
	// Err is ErrTimeout or the context error that ended the wait.
	Err error
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("wait for %q: %v", e.Marker, e.Err)
	}
	return fmt.Sprintf("%s: wait for %q: %v", e.Command, e.Marker, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func trimCommand(cmd string) string {
	return strings.TrimRight(cmd, "\r\n")
}
