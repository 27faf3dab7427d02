package reporting

import "github.com/charmbracelet/lipgloss"

// Styles is the console palette.
type Styles struct {
	Banner  lipgloss.Style
	Subject lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles builds the palette for a renderer.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Banner:  r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}),
		Subject: r.NewStyle().Bold(true),
		Header:  r.NewStyle().Bold(true).Underline(true),
		Success: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02BF87"}),
		Warning: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}),
		Error:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}),
		Muted:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}),
	}
}

// Symbol returns the status marker for a state.
func (s Styles) Symbol(state State) string {
	switch state {
	case StateReady:
		return s.Success.Render("✓")
	case StateSkipped:
		return s.Muted.Render("-")
	case StateWarning:
		return s.Warning.Render("!")
	case StateFailed:
		return s.Error.Render("✗")
	case StateStopped:
		return s.Muted.Render("■")
	default:
		return s.Muted.Render("…")
	}
}
