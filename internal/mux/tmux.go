package mux

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/shell"
)

// LayoutTiled spreads panes evenly over the window.
const LayoutTiled = "tiled"

// Tmux issues tmux commands on the channel's target.
type Tmux struct {
	ch channel.Channel
	// Binary is the tmux executable on the target. Defaults to "tmux".
	Binary string
}

// NewTmux creates a tmux driver for the channel's target.
func NewTmux(ch channel.Channel) *Tmux {
	return &Tmux{ch: ch, Binary: "tmux"}
}

// Channel returns the channel the driver runs on.
func (t *Tmux) Channel() channel.Channel { return t.ch }

// Available reports whether tmux is installed on the target.
func (t *Tmux) Available(ctx context.Context) (bool, error) {
	res, err := t.ch.Execute(ctx, "command -v "+shell.Quote(t.Binary), channel.Options{NoWorkDir: true})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// NewSession creates a detached session and returns the id of its first
// pane. dir, when set, becomes the session's starting directory.
// A name clash yields an error wrapping ErrDuplicateSession.
func (t *Tmux) NewSession(ctx context.Context, name, dir string) (string, error) {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	args = append(args, "-P", "-F", "#{pane_id}")
	out, err := t.run(ctx, nil, args...)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) && strings.Contains(ce.Stderr, "duplicate session") {
			return "", fmt.Errorf("%w: %s", ErrDuplicateSession, name)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SplitWindow splits the current pane of target and returns the new
// pane's id.
func (t *Tmux) SplitWindow(ctx context.Context, target, dir string) (string, error) {
	args := []string{"split-window", "-t", target}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	args = append(args, "-P", "-F", "#{pane_id}")
	out, err := t.run(ctx, nil, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SelectLayout applies a layout (e.g. LayoutTiled) to target's window.
func (t *Tmux) SelectLayout(ctx context.Context, target, layout string) error {
	_, err := t.run(ctx, nil, "select-layout", "-t", target, layout)
	return err
}

// SendLine types line into a pane and presses Enter.
//
// The text goes in literal mode (-l) so tmux never interprets words of
// the line as key names; Enter follows as a separate key. Both happen in
// one round trip. sensitive lists substrings masked in logs and errors.
//
// tmux's own parser takes an argument ending in ";" as a command
// separator (and "\;" as a literal ";"), even with -l, so such a line
// gets a trailing space, which the pane's shell ignores.
func (t *Tmux) SendLine(ctx context.Context, pane, line string, sensitive ...string) error {
	if strings.HasSuffix(line, ";") {
		line += " "
	}
	literal := []string{"send-keys", "-t", pane, "-l", line}
	enter := []string{"send-keys", "-t", pane, "Enter"}
	command := shell.Join(t.command(literal...), t.command(enter...))
	_, err := t.exec(ctx, command, sensitive, literal)
	return err
}

// SendKeys sends raw key names (e.g. "C-c") to a pane.
func (t *Tmux) SendKeys(ctx context.Context, pane string, keys ...string) error {
	args := append([]string{"send-keys", "-t", pane}, keys...)
	_, err := t.run(ctx, nil, args...)
	return err
}

// HasSession reports whether a session with exactly this name exists.
func (t *Tmux) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := t.run(ctx, nil, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return false, nil
	}
	return false, err
}

// KillSession destroys a session and every process in it.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	_, err := t.run(ctx, nil, "kill-session", "-t", "="+name)
	return err
}

// ListPanes returns the panes of one session, or of every session when
// session is empty. filter, when set, is a regular expression matched
// against session names.
func (t *Tmux) ListPanes(ctx context.Context, session, filter string) ([]Pane, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	// Format: session_name:window_index.pane_index\tpane_id\tpane_pid\tcurrent_command\tpane_dead
	format := "#{session_name}:#{window_index}.#{pane_index}\t#{pane_id}\t#{pane_pid}\t#{pane_current_command}\t#{pane_dead}"
	args := []string{"list-panes", "-a", "-F", format}
	if session != "" {
		args = []string{"list-panes", "-s", "-t", "=" + session, "-F", format}
	}
	out, err := t.run(ctx, nil, args...)
	if err != nil {
		return nil, err
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 5)
		if len(parts) != 5 {
			continue
		}
		pane, err := parseTarget(parts[0])
		if err != nil {
			continue
		}
		pane.ID = parts[1]
		pane.PID, _ = strconv.Atoi(parts[2])
		pane.Command = parts[3]
		pane.Dead = parts[4] == "1"

		if re != nil && !re.MatchString(pane.Session) {
			continue
		}
		panes = append(panes, pane)
	}
	return panes, nil
}

// CapturePane returns the visible content of a pane, joined (-J) so
// wrapped lines come back whole. lines > 0 also includes that much
// scrollback.
func (t *Tmux) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", target}
	if lines > 0 {
		args = append(args, "-S", strconv.Itoa(-lines))
	}
	return t.run(ctx, nil, args...)
}

// command renders a tmux invocation with every argument quoted.
func (t *Tmux) command(args ...string) string {
	return shell.QuoteAll(append([]string{t.Binary}, args...)...)
}

// run executes one tmux invocation and returns its stdout.
func (t *Tmux) run(ctx context.Context, sensitive []string, args ...string) (string, error) {
	return t.exec(ctx, t.command(args...), sensitive, args)
}

// exec sends command and maps a non-zero exit to *CommandError. Transport
// failures and interruptions come back unchanged from the channel.
func (t *Tmux) exec(ctx context.Context, command string, sensitive, args []string) (string, error) {
	res, err := t.ch.Execute(ctx, command, channel.Options{NoWorkDir: true, Sensitive: sensitive})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		shown := make([]string, len(args))
		for i, a := range args {
			shown[i] = shell.Redact(a, sensitive...)
		}
		return "", &CommandError{
			Args:     shown,
			ExitCode: res.ExitCode,
			Stderr:   shell.Redact(strings.TrimSpace(string(res.Stderr)), sensitive...),
		}
	}
	return string(res.Stdout), nil
}

// parseTarget parses a tmux target string "session:window.pane" into a Pane.
func parseTarget(target string) (Pane, error) {
	// Split "session:window.pane"
	colonIdx := strings.LastIndex(target, ":")
	if colonIdx < 0 {
		return Pane{}, fmt.Errorf("invalid target %q: missing ':'", target)
	}

	session := target[:colonIdx]
	rest := target[colonIdx+1:]

	dotIdx := strings.LastIndex(rest, ".")
	if dotIdx < 0 {
		return Pane{}, fmt.Errorf("invalid target %q: missing '.'", target)
	}

	window, err := strconv.Atoi(rest[:dotIdx])
	if err != nil {
		return Pane{}, fmt.Errorf("invalid window index in %q: %w", target, err)
	}

	pane, err := strconv.Atoi(rest[dotIdx+1:])
	if err != nil {
		return Pane{}, fmt.Errorf("invalid pane index in %q: %w", target, err)
	}

	return Pane{
		Target:  target,
		Session: session,
		Window:  window,
		Pane:    pane,
	}, nil
}
