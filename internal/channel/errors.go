package channel

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when the caller cancels a running command.
var ErrInterrupted = errors.New(InterruptedNote)

// TransportError reports that a command could not be delivered to, or its
// outcome could not be read back from, a target.
type TransportError struct {
	Target  string // target address
	Command string // command as requested, secrets masked
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Target, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportFailure(t Target, command string, opts Options, err error) (Result, error) {
	te := &TransportError{
		Target:  t.Address(),
		Command: opts.redact(command),
		Err:     err,
	}
	return Result{ExitCode: ExitTransport, Stderr: []byte(opts.redact(err.Error())), Err: te}, te
}

func interrupted(out *capture) (Result, error) {
	return Result{
		ExitCode: ExitInterrupted,
		Stdout:   out.stdoutBytes(),
		Stderr:   out.stderrBytes(),
		Note:     InterruptedNote,
		Err:      ErrInterrupted,
	}, ErrInterrupted
}
