// Package channeltest provides a scripted, recording Channel for tests.
package channeltest

import (
	"context"
	"strings"
	"sync"

	"github.com/timvw/sweepmux/internal/channel"
)

// Call is one recorded Execute invocation.
type Call struct {
	Command string
	Opts    channel.Options
}

// Rule answers commands containing Match. The first matching rule wins.
type Rule struct {
	Match  string
	Result channel.Result
	Err    error
	// Times limits how often the rule applies; 0 means always.
	Times int
	used  int
}

// Fake records every command and answers from its rules. Unmatched
// commands succeed with empty output.
type Fake struct {
	T channel.Target

	mu     sync.Mutex
	rules  []*Rule
	calls  []Call
	closed bool
}

// New returns a Fake for a local target named "fake".
func New() *Fake {
	return &Fake{T: channel.Target{Name: "fake", Transport: channel.TransportLocal}}
}

// On adds a rule answering commands that contain match.
func (f *Fake) On(match string, res channel.Result, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &Rule{Match: match, Result: res, Err: err})
	return f
}

// OnStdout answers commands containing match with a successful result.
func (f *Fake) OnStdout(match, stdout string) *Fake {
	return f.On(match, channel.Result{Stdout: []byte(stdout)}, nil)
}

// OnExit answers commands containing match with the given exit status.
func (f *Fake) OnExit(match string, code int, stderr string) *Fake {
	return f.On(match, channel.Result{ExitCode: code, Stderr: []byte(stderr)}, nil)
}

// OnTransportError fails commands containing match as if the connection
// dropped.
func (f *Fake) OnTransportError(match string, cause error) *Fake {
	te := &channel.TransportError{Target: f.T.Address(), Command: match, Err: cause}
	return f.On(match, channel.Result{ExitCode: channel.ExitTransport, Err: te}, te)
}

// Once limits the most recently added rule to a single use.
func (f *Fake) Once() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.rules); n > 0 {
		f.rules[n-1].Times = 1
	}
	return f
}

func (f *Fake) Execute(ctx context.Context, command string, opts channel.Options) (channel.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Command: command, Opts: opts})
	if err := ctx.Err(); err != nil {
		return channel.Result{ExitCode: channel.ExitInterrupted, Note: channel.InterruptedNote, Err: channel.ErrInterrupted}, channel.ErrInterrupted
	}
	for _, r := range f.rules {
		if !strings.Contains(command, r.Match) {
			continue
		}
		if r.Times > 0 && r.used >= r.Times {
			continue
		}
		r.used++
		return r.Result, r.Err
	}
	return channel.Result{}, nil
}

func (f *Fake) Target() channel.Target { return f.T }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the recorded command strings.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Command
	}
	return out
}

// Count returns how many recorded commands contain substr.
func (f *Fake) Count(substr string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
