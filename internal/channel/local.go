package channel

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
)

// ptySize is the terminal geometry handed to commands run under a PTY.
var ptySize = &pty.Winsize{Rows: 40, Cols: 120}

// Local runs commands through "sh -c" on this machine.
type Local struct {
	target Target
	// Shell is the interpreter used for command lines. Defaults to "sh".
	Shell string
}

// NewLocal returns a channel for the local host.
func NewLocal(t Target) *Local {
	if t.Transport == "" {
		t.Transport = TransportLocal
	}
	return &Local{target: t, Shell: "sh"}
}

func (l *Local) Target() Target { return l.target }

func (l *Local) Close() error { return nil }

// Execute runs command under the local shell.
func (l *Local) Execute(ctx context.Context, command string, opts Options) (Result, error) {
	line := composeLine(l.target, command, opts)
	log.FromContext(ctx).Debug("exec", "target", l.target.Address(), "command", opts.redact(line), "pty", opts.PTY)
	return runProcess(ctx, process{
		target:  l.target,
		command: command,
		argv:    []string{l.Shell, "-c", line},
		opts:    opts,
	})
}

// process is one local subprocess invocation.
type process struct {
	target  Target
	command string // as requested, for error reporting
	argv    []string
	opts    Options
}

// runProcess starts argv in its own process group and waits for it.
//
// On cancellation the whole group receives SIGTERM, then SIGKILL once the
// target's kill grace has elapsed. WaitDelay bounds how long Wait keeps
// draining pipes held open by orphaned grandchildren.
func runProcess(ctx context.Context, p process) (Result, error) {
	grace := p.target.killGrace()
	out := newCapture(p.opts.Stream)
	if ctx.Err() != nil {
		return interrupted(out)
	}

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Env = os.Environ()
	cmd.WaitDelay = grace

	var (
		killMu    sync.Mutex
		killTimer *time.Timer
	)
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		killMu.Lock()
		killTimer = time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
		killMu.Unlock()
		return nil
	}
	defer func() {
		killMu.Lock()
		if killTimer != nil {
			killTimer.Stop()
		}
		killMu.Unlock()
	}()

	var waitErr error
	if p.opts.PTY {
		// pty.StartWithSize puts the child in a new session, which also
		// makes it a process-group leader for the kill above.
		ptmx, err := pty.StartWithSize(cmd, ptySize)
		if err != nil {
			return startFailure(ctx, p, out, err)
		}
		copied := make(chan struct{})
		go func() {
			defer close(copied)
			_, _ = io.Copy(out.Stdout(), ptmx)
		}()
		waitErr = cmd.Wait()
		// Reads return EIO once the last slave descriptor closes; a
		// lingering grandchild may keep it open, so bound the drain.
		select {
		case <-copied:
		case <-time.After(grace):
		}
		_ = ptmx.Close()
		<-copied
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Stdout = out.Stdout()
		cmd.Stderr = out.Stderr()
		if err := cmd.Start(); err != nil {
			return startFailure(ctx, p, out, err)
		}
		waitErr = cmd.Wait()
	}

	if ctx.Err() != nil {
		log.FromContext(ctx).Warn("command interrupted", "target", p.target.Address(), "command", p.opts.redact(p.command))
		return interrupted(out)
	}

	res := Result{Stdout: out.stdoutBytes(), Stderr: out.stderrBytes()}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by a signal we did not send.
			res.ExitCode = 128 + signalOf(exitErr)
		}
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The command exited but something inherited its pipes.
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return transportFailure(p.target, p.command, p.opts, waitErr)
	}
	return res, nil
}

func signalOf(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal())
	}
	return 0
}

// startFailure reports a process that never started. Cancellation racing
// the start is still an interrupt.
func startFailure(ctx context.Context, p process, out *capture, err error) (Result, error) {
	if ctx.Err() != nil {
		return interrupted(out)
	}
	return transportFailure(p.target, p.command, p.opts, err)
}
