// Package channel runs single commands on a target host: the local machine,
// an SSH-reachable server, or a Kubernetes pod.
//
// Every implementation honours the same contract. Non-zero exit codes are
// reported in Result, not as errors. Transport failures and interruptions
// are reported both in Result (with a negative sentinel exit code) and as
// the returned error.
package channel

import (
	"context"
	"fmt"
	"io"

	"github.com/timvw/sweepmux/internal/shell"
)

// Sentinel exit codes. Real exit statuses are always >= 0.
const (
	ExitInterrupted = -1
	ExitTransport   = -2
)

// InterruptedNote is attached to results of cancelled commands.
const InterruptedNote = "command interrupted by user"

// Channel executes commands on one target.
type Channel interface {
	// Execute runs command and waits for it to finish.
	Execute(ctx context.Context, command string, opts Options) (Result, error)

	// Target returns the descriptor the channel was opened for.
	Target() Target

	// Close releases transport resources (SSH connections).
	Close() error
}

// Options tune a single Execute call.
type Options struct {
	// PTY allocates a pseudo-terminal. stdout and stderr are merged by the
	// terminal and reported as stdout.
	PTY bool

	// NoWorkDir runs the command as-is instead of "cd <workdir> && command".
	NoWorkDir bool

	// Stream, when set, receives every chunk of stdout and stderr as it
	// arrives. Output is still accumulated in the Result.
	Stream io.Writer

	// Sensitive lists substrings masked in logs and error messages.
	Sensitive []string
}

// Result is the outcome of one Execute call.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	// Note is a human-readable remark, set for interrupted commands.
	Note string
	// Err is the transport or interruption error, nil when the command ran
	// to completion (whatever its exit code).
	Err error
}

// OK reports whether the command ran and exited with status zero.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// New opens a channel for the target's transport. SSH connections are
// established lazily on the first Execute.
func New(t Target) (Channel, error) {
	switch t.Transport {
	case TransportLocal, "":
		return NewLocal(t), nil
	case TransportSSH:
		if t.Host == "" {
			return nil, fmt.Errorf("target %q: ssh transport requires a host", t.Name)
		}
		return NewSSH(t), nil
	case TransportK8s:
		if t.Pod == "" {
			return nil, fmt.Errorf("target %q: k8s transport requires a pod", t.Name)
		}
		return NewKubectl(t), nil
	default:
		return nil, fmt.Errorf("target %q: unknown transport %q (supported: local, ssh, k8s)", t.Name, t.Transport)
	}
}

// composeLine applies working-directory injection.
func composeLine(t Target, command string, opts Options) string {
	if opts.NoWorkDir || t.WorkDir == "" {
		return command
	}
	return "cd " + shell.Quote(t.WorkDir) + " && " + command
}

// redact masks opts.Sensitive in s.
func (o Options) redact(s string) string {
	return shell.Redact(s, o.Sensitive...)
}
