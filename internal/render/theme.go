package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

// Colors use AdaptiveColor so light and dark terminals both stay readable.
var (
	ColorTextPrimary   = ac("0", "252")
	ColorTextSecondary = ac("8", "245")
	ColorTextMuted     = ac("245", "240")

	ColorPrimary = lipgloss.AdaptiveColor{Light: "#4F72FF", Dark: "#7B93FF"}

	// Badge severities
	ColorNeutral = ac("245", "247") // slate
	ColorMissed  = ac("1", "196")   // red
	ColorUrgent  = ac("3", "214")   // amber
	ColorNormal  = ac("2", "42")    // emerald
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// SeverityColor maps a badge severity to its color
func SeverityColor(s dose.Severity) lipgloss.AdaptiveColor {
	switch s {
	case dose.SeverityMissed:
		return ColorMissed
	case dose.SeverityUrgent:
		return ColorUrgent
	case dose.SeverityNormal:
		return ColorNormal
	default:
		return ColorNeutral
	}
}

// Styles is the set of lipgloss styles bound to one renderer
type Styles struct {
	Header   lipgloss.Style
	Name     lipgloss.Style
	Dosage   lipgloss.Style
	Tag      lipgloss.Style
	Notes    lipgloss.Style
	Muted    lipgloss.Style
	Missed   lipgloss.Style
	Taken    lipgloss.Style
	Selected lipgloss.Style
	Error    lipgloss.Style

	badge map[dose.Severity]lipgloss.Style
}

// NewStyles builds styles on r. Pass a renderer with an ASCII profile to drop colors.
func NewStyles(r *lipgloss.Renderer) *Styles {
	s := &Styles{
		Header:   r.NewStyle().Bold(true).Foreground(ColorPrimary),
		Name:     r.NewStyle().Bold(true).Foreground(ColorTextPrimary),
		Dosage:   r.NewStyle().Foreground(ColorTextSecondary),
		Tag:      r.NewStyle().Foreground(ColorTextMuted),
		Notes:    r.NewStyle().Italic(true).Foreground(ColorTextSecondary),
		Muted:    r.NewStyle().Foreground(ColorTextMuted),
		Missed:   r.NewStyle().Bold(true).Foreground(ColorMissed),
		Taken:    r.NewStyle().Foreground(ColorNormal),
		Selected: r.NewStyle().Bold(true).Foreground(ColorPrimary),
		Error:    r.NewStyle().Bold(true).Foreground(ColorMissed),
		badge:    make(map[dose.Severity]lipgloss.Style),
	}
	for _, sev := range []dose.Severity{dose.SeverityNeutral, dose.SeverityMissed, dose.SeverityUrgent, dose.SeverityNormal} {
		s.badge[sev] = r.NewStyle().Bold(sev != dose.SeverityNeutral).Foreground(SeverityColor(sev))
	}
	return s
}

// Badge renders the time badge in the color of sev
func (s *Styles) Badge(sev dose.Severity, text string) string {
	return s.badge[sev].Render(text)
}
