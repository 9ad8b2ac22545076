// Package mux drives tmux on a target host.
//
// This package is pure transport: every operation is a single tmux
// invocation sent through a channel.Channel, so the same code runs against
// the local machine, an SSH host, or a pod. It reports what tmux says and
// leaves policy (what a failed split means, whether to retry) to callers.
package mux

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateSession is returned by NewSession when a session with the
// requested name already exists.
var ErrDuplicateSession = errors.New("duplicate session")

// Pane is one tmux pane as reported by list-panes.
type Pane struct {
	// Target is the "session:window.pane" address.
	Target string `json:"target"`
	// ID is tmux's stable pane id, e.g. "%3".
	ID      string `json:"id"`
	Session string `json:"session"`
	Window  int    `json:"window"`
	Pane    int    `json:"pane"`
	// PID is the pane's shell process ID.
	PID int `json:"pid"`
	// Command is the current foreground command (e.g. "python", "bash").
	Command string `json:"command"`
	// Dead is set when the pane's process has exited and the pane remains.
	Dead bool `json:"dead"`
	// ProcessTree lists descendant command lines when requested.
	ProcessTree []string `json:"process_tree,omitempty"`
}

// CommandError reports a tmux invocation that ran but exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("tmux %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// IsCommandError reports whether err is a tmux invocation that ran and
// failed, as opposed to a transport failure.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// IsNoServer reports whether err means tmux has no server running on the
// target, which callers listing panes treat as "no sessions".
func IsNoServer(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.Stderr, "no server running") ||
		strings.Contains(ce.Stderr, "error connecting to")
}
