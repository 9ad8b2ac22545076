package report

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors used in terminal output.
// Use DarkTheme() or LightTheme() to get a pre-built theme.
type Theme struct {
	Primary   lipgloss.Color // titles, session names
	Secondary lipgloss.Color // selected rows
	Error     lipgloss.Color // failed panes, unreachable targets
	Warning   lipgloss.Color // degraded sessions, dead panes
	Success   lipgloss.Color // dispatched panes, passing checks
	Info      lipgloss.Color // device ids
	Text      lipgloss.Color
	TextMuted lipgloss.Color // hints, secondary columns
	Border    lipgloss.Color
	Highlight lipgloss.Color // selected row background
}

// DarkTheme returns the default dark theme.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		Secondary: lipgloss.Color("#5c9cf5"),
		Error:     lipgloss.Color("#e06c75"),
		Warning:   lipgloss.Color("#f5a742"),
		Success:   lipgloss.Color("#7fd88f"),
		Info:      lipgloss.Color("#56b6c2"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
		Border:    lipgloss.Color("#484848"),
		Highlight: lipgloss.Color("#1e1e1e"),
	}
}

// LightTheme returns a light theme for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		Secondary: lipgloss.Color("#0550ae"),
		Error:     lipgloss.Color("#cf222e"),
		Warning:   lipgloss.Color("#bf8700"),
		Success:   lipgloss.Color("#116329"),
		Info:      lipgloss.Color("#0969da"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
		Border:    lipgloss.Color("#d0d7de"),
		Highlight: lipgloss.Color("#f6f8fa"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// Styles holds the lipgloss styles derived from a Theme.
type Styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style
	OK       lipgloss.Style
	Warn     lipgloss.Style
	Err      lipgloss.Style
	Info     lipgloss.Style
	Dim      lipgloss.Style
	Text     lipgloss.Style
}

// NewStyles builds all styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(t.TextMuted),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.Highlight),
		OK:       lipgloss.NewStyle().Foreground(t.Success),
		Warn:     lipgloss.NewStyle().Foreground(t.Warning),
		Err:      lipgloss.NewStyle().Foreground(t.Error),
		Info:     lipgloss.NewStyle().Foreground(t.Info),
		Dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		Text:     lipgloss.NewStyle().Foreground(t.Text),
	}
}
