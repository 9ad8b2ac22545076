// Package report renders human-readable command output.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/device"
	"github.com/timvw/sweepmux/internal/mux"
	"github.com/timvw/sweepmux/internal/placement"
	"github.com/timvw/sweepmux/internal/session"
	"github.com/timvw/sweepmux/internal/shell"
)

// Printer writes styled lines to w. It is safe for concurrent use, so
// several targets can report progress at once.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	s  Styles
}

// New returns a Printer using theme.
func New(w io.Writer, theme Theme) *Printer {
	return &Printer{w: w, s: NewStyles(theme)}
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// Event renders one orchestration progress event.
func (p *Printer) Event(e session.Event) {
	prefix := p.s.Title.Render(e.Target)
	switch e.Kind {
	case session.EventSessionCreated:
		p.println(fmt.Sprintf("%s  session %s created", prefix, p.s.Text.Render(e.Session)))
	case session.EventPaneDispatched:
		p.println(fmt.Sprintf("%s  %s pane %d%s", prefix, p.s.OK.Render("✓"), e.Pane, p.device(e.DeviceID)))
	case session.EventPaneFailed:
		p.println(fmt.Sprintf("%s  %s pane %d%s: %s", prefix, p.s.Err.Render("✗"), e.Pane, p.device(e.DeviceID), p.s.Err.Render(errText(e.Err))))
	}
}

func (p *Printer) device(id string) string {
	if id == "" {
		return p.s.Dim.Render(" (cpu)")
	}
	return " → " + p.s.Info.Render("device "+id)
}

// Started summarizes a started session and how to reach it.
func (p *Printer) Started(t channel.Target, h *session.Handle) {
	var b strings.Builder
	status := p.s.OK.Render("started")
	if len(h.Failed) > 0 {
		status = p.s.Warn.Render("degraded")
	}
	fmt.Fprintf(&b, "%s  %s %s: %d panes", p.s.Title.Render(t.Name), p.s.Text.Render(h.Name), status, h.PaneCount)
	if len(h.Failed) > 0 {
		fmt.Fprintf(&b, ", failed %s", joinInts(h.Failed))
	}
	fmt.Fprintf(&b, "\n    %s %s", p.s.Dim.Render("attach:"), Hint(t, "attach-session", "-t", h.Name))
	fmt.Fprintf(&b, "\n    %s %s", p.s.Dim.Render("stop:  "), Hint(t, "kill-session", "-t", h.Name))
	p.println(b.String())
}

// Failed reports a target that could not be processed.
func (p *Printer) Failed(target string, err error) {
	p.println(fmt.Sprintf("%s  %s %s", p.s.Title.Render(target), p.s.Err.Render("error:"), errText(err)))
}

// Warn reports a non-fatal condition for a target.
func (p *Printer) Warn(target, msg string) {
	p.println(fmt.Sprintf("%s  %s %s", p.s.Title.Render(target), p.s.Warn.Render("warning:"), msg))
}

// Devices reports a discovery result.
func (p *Printer) Devices(target string, cfg placement.DeviceConfig, d device.Discovery) {
	var detail string
	switch {
	case d.ToolMissing:
		detail = p.s.Dim.Render("no enumeration tool, cpu only")
	case d.Count == 0:
		detail = p.s.Dim.Render("no devices, cpu only")
	default:
		detail = p.s.Info.Render(strconv.Itoa(d.Count) + " devices")
	}
	ids := placement.DeviceIDs(cfg, d.Count)
	line := fmt.Sprintf("%s  %s  config=%s", p.s.Title.Render(target), detail, cfg.String())
	if len(ids) > 0 {
		line += "  using=" + strings.Join(ids, ",")
	}
	p.println(line)
}

// Plan renders a placement table, one row per pane.
func (p *Printer) Plan(target string, table placement.Table) {
	var b strings.Builder
	b.WriteString(p.s.Title.Render(target))
	if len(table) == 0 {
		b.WriteString("  " + p.s.Dim.Render("no workers planned"))
		p.println(b.String())
		return
	}
	fmt.Fprintf(&b, "  %d panes\n", len(table))
	b.WriteString(p.s.Header.Render(padRight("  PANE", 8) + padRight("DEVICE", 10) + "PROCESS"))
	for _, e := range table {
		dev := e.DeviceID
		if e.CPUOnly() {
			dev = "cpu"
		}
		fmt.Fprintf(&b, "\n  %s%s%d", padRight(strconv.Itoa(e.PaneIndex), 6), padRight(dev, 10), e.ProcessIndex)
	}
	p.println(b.String())
}

// Check is one connectivity or prerequisite probe.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Checks renders the probes run against one target.
func (p *Printer) Checks(target string, checks []Check) {
	var b strings.Builder
	b.WriteString(p.s.Title.Render(target))
	for _, c := range checks {
		mark := p.s.OK.Render("✓")
		if !c.OK {
			mark = p.s.Err.Render("✗")
		}
		fmt.Fprintf(&b, "\n  %s %s", mark, padRight(c.Name, 10))
		if c.Detail != "" {
			b.WriteString(p.s.Dim.Render(c.Detail))
		}
	}
	p.println(b.String())
}

// Panes lists tmux panes on one target.
func (p *Printer) Panes(target string, panes []mux.Pane) {
	var b strings.Builder
	b.WriteString(p.s.Title.Render(target))
	if len(panes) == 0 {
		b.WriteString("  " + p.s.Dim.Render("no panes"))
		p.println(b.String())
		return
	}
	width := 8
	for _, pn := range panes {
		width = max(width, len(pn.Target)+2)
	}
	for _, pn := range panes {
		cmd := p.s.Text.Render(pn.Command)
		if pn.Dead {
			cmd = p.s.Warn.Render(pn.Command + " (dead)")
		}
		fmt.Fprintf(&b, "\n  %s%s%s", padRight(pn.Target, width), padRight(pn.ID, 6), cmd)
		for _, proc := range pn.ProcessTree {
			fmt.Fprintf(&b, "\n  %s%s", strings.Repeat(" ", width+6), p.s.Dim.Render(proc))
		}
	}
	p.println(b.String())
}

// Hint renders a command the user can paste to run tmux with args on t.
func Hint(t channel.Target, args ...string) string {
	tmux := words(append([]string{"tmux"}, args...))
	switch t.Transport {
	case channel.TransportSSH:
		parts := []string{"ssh", "-t"}
		if t.Port > 0 && t.Port != 22 {
			parts = append(parts, "-p", strconv.Itoa(t.Port))
		}
		if t.Proxy != nil {
			jump := t.Proxy.Host
			if t.Proxy.User != "" {
				jump = t.Proxy.User + "@" + jump
			}
			if t.Proxy.Port > 0 {
				jump += ":" + strconv.Itoa(t.Proxy.Port)
			}
			parts = append(parts, "-J", jump)
		}
		host := t.Host
		if t.User != "" {
			host = t.User + "@" + host
		}
		parts = append(parts, host)
		return words(parts) + " " + tmux
	case channel.TransportK8s:
		parts := []string{"kubectl"}
		if t.KubeContext != "" {
			parts = append(parts, "--context", t.KubeContext)
		}
		ns := t.Namespace
		if ns == "" {
			ns = "default"
		}
		parts = append(parts, "exec", "-it", "-n", ns, t.Pod)
		if t.Container != "" {
			parts = append(parts, "-c", t.Container)
		}
		return words(parts) + " -- " + tmux
	default:
		return tmux
	}
}

// word quotes s only when the shell would otherwise split or expand it.
func word(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./=:%@") == "" {
		return s
	}
	return shell.Quote(s)
}

func words(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = word(a)
	}
	return strings.Join(out, " ")
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ",")
}

// padRight pads s with spaces to the desired visible width.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-visible)
}
