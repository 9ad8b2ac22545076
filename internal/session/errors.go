package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionExists is wrapped by SessionError when the derived session
// name is already taken on the target. Nothing is overwritten; pick another
// token or wait for the next minute.
var ErrSessionExists = errors.New("session already exists")

// SessionError reports that the session could not be created. No pane was
// attempted.
type SessionError struct {
	Target  string // target address
	Session string
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("create session %q on %s: %v", e.Session, e.Target, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Stage names the step of pane setup that failed.
type Stage string

const (
	StageSplit    Stage = "split"
	StageDispatch Stage = "dispatch"
)

// PaneFailure is one pane that could not be set up.
type PaneFailure struct {
	PaneIndex int
	DeviceID  string
	Stage     Stage
	Err       error
}

// DegradedError accompanies a valid Handle when some panes failed after
// the session was created. Other panes may already be running.
type DegradedError struct {
	Session  string
	Total    int
	Failures []PaneFailure
}

func (e *DegradedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %d of %d panes failed", e.Session, len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; pane %d (%s): %v", f.PaneIndex, f.Stage, f.Err)
	}
	return b.String()
}

// Indices returns the pane indices that failed, in order.
func (e *DegradedError) Indices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.PaneIndex
	}
	return out
}

// IsDegraded reports whether err is a *DegradedError, i.e. a partial
// success.
func IsDegraded(err error) bool {
	var de *DegradedError
	return errors.As(err, &de)
}
