package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/timvw/sweepmux/internal/report"
)

// Watch runs the interactive pane monitor.
type Watch struct {
	Sources         []Source
	Filter          string        // regex on session names
	RefreshInterval time.Duration // 0 disables auto-refresh
	Theme           report.Theme
}

type snapshotMsg Snapshot

type tickMsg struct{}

type watchModel struct {
	ctx     context.Context
	sources []Source
	filter  string
	refresh time.Duration
	styles  report.Styles
	spinner spinner.Model

	snap      Snapshot
	cursor    int
	scanning  bool
	scanCount int

	width  int
	height int
}

// Run blocks until the user quits or ctx is cancelled.
func (w *Watch) Run(ctx context.Context) error {
	m := newWatchModel(ctx, w)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func newWatchModel(ctx context.Context, w *Watch) *watchModel {
	s := newSpinner(w.Theme)
	return &watchModel{
		ctx:     ctx,
		sources: w.Sources,
		filter:  w.Filter,
		refresh: w.RefreshInterval,
		styles:  report.NewStyles(w.Theme),
		spinner: s,
	}
}

// newSpinner returns the spinner shown while a refresh is running.
func newSpinner(t report.Theme) spinner.Model {
	return spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(t.Secondary)),
	)
}

func (m *watchModel) Init() tea.Cmd {
	m.scanning = true
	return tea.Batch(m.spinner.Tick, m.collect())
}

func (m *watchModel) collect() tea.Cmd {
	ctx, sources, filter := m.ctx, m.sources, m.filter
	return func() tea.Msg {
		return snapshotMsg(Collect(ctx, sources, filter))
	}
}

// scheduleTick returns nil when auto-refresh is disabled.
func (m *watchModel) scheduleTick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.scanning = false
		m.snap = Snapshot(msg)
		sort.SliceStable(m.snap.Rows, func(i, j int) bool {
			a, b := m.snap.Rows[i], m.snap.Rows[j]
			if a.Target != b.Target {
				return a.Target < b.Target
			}
			return a.Pane.Target < b.Pane.Target
		})
		m.scanCount++
		if m.cursor >= len(m.snap.Rows) {
			m.cursor = max(0, len(m.snap.Rows)-1)
		}
		return m, m.scheduleTick()

	case tickMsg:
		if m.scanning {
			return m, m.scheduleTick()
		}
		m.scanning = true
		return m, tea.Batch(m.spinner.Tick, m.collect())

	case spinner.TickMsg:
		if !m.scanning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Rows)-1 {
			m.cursor++
		}
	case "r":
		if !m.scanning {
			m.scanning = true
			return m, tea.Batch(m.spinner.Tick, m.collect())
		}
	}
	return m, nil
}

func (m *watchModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("sweepmux watch"))
	b.WriteString("  ")
	b.WriteString(m.styles.Dim.Render("↑↓=select  r=refresh  q=quit"))
	if m.scanning {
		b.WriteString("  " + m.spinner.View())
	}
	b.WriteString("\n")

	if len(m.snap.Rows) == 0 && len(m.snap.Errors) == 0 {
		if m.scanCount == 0 {
			b.WriteString("  Collecting panes...\n")
		} else {
			b.WriteString("  No worker panes found.\n")
		}
		return b.String()
	}

	targetWidth, paneWidth := 8, 10
	for _, r := range m.snap.Rows {
		targetWidth = max(targetWidth, len(r.Target)+2)
		paneWidth = max(paneWidth, len(r.Pane.Target)+2)
	}
	lastWidth := max(10, m.width-targetWidth-paneWidth-14)

	// Keep the cursor visible.
	visible := max(1, m.height-4)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := min(len(m.snap.Rows), start+visible)

	dead := 0
	for i, r := range m.snap.Rows {
		if r.Pane.Dead {
			dead++
		}
		if i < start || i >= end {
			continue
		}
		cmd := r.Pane.Command
		if r.Pane.Dead {
			cmd = "dead"
		}
		line := fmt.Sprintf("%s%s%s%s",
			padRight(r.Target, targetWidth),
			padRight(r.Pane.Target, paneWidth),
			padRight(cmd, 12),
			truncate(r.Last, lastWidth))
		switch {
		case i == m.cursor:
			b.WriteString(m.styles.Selected.Render("> " + line))
		case r.Pane.Dead:
			b.WriteString(m.styles.Warn.Render("  " + line))
		default:
			b.WriteString(m.styles.Text.Render("  " + line))
		}
		b.WriteString("\n")
	}

	names := make([]string, 0, len(m.snap.Errors))
	for name := range m.snap.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(m.styles.Err.Render(fmt.Sprintf("  %s: %v", name, m.snap.Errors[name])))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("  %d panes | %d dead | %d unreachable | refresh #%d",
		len(m.snap.Rows), dead, len(m.snap.Errors), m.scanCount)
	if !m.snap.At.IsZero() {
		summary += " | updated " + humanize.Time(m.snap.At)
	}
	b.WriteString(m.styles.Dim.Render(summary))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}
