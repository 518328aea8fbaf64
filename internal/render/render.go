// Package render writes classified dose lists as colored text, JSON, YAML or a
// markdown detail card.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

// EmptyMessage is printed instead of an empty list
const EmptyMessage = "There are no upcoming doses scheduled."

// Format selects the list encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (text, json, yaml)", s)
}

// Options controls text output
type Options struct {
	Color   bool
	ShowIDs bool
	Width   int
}

// DetectColor reports whether f is a terminal and NO_COLOR is not set
func DetectColor(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of f, or fallback when it is not a terminal
func TerminalWidth(f *os.File, fallback int) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

func newRenderer(w io.Writer, color bool) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// List writes groups in format
func List(w io.Writer, format Format, groups []dose.GroupView, opts Options) error {
	switch format {
	case FormatJSON:
		return JSON(w, groups)
	case FormatYAML:
		return YAML(w, groups)
	default:
		return Text(w, groups, opts)
	}
}

// Text writes one header per group followed by one row per dose
func Text(w io.Writer, groups []dose.GroupView, opts Options) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, EmptyMessage)
		return err
	}

	st := NewStyles(newRenderer(w, opts.Color))
	var sb strings.Builder
	for i, g := range groups {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(st.Header.Render(string(g.Label)))
		sb.WriteString("\n")
		for _, v := range g.Doses {
			sb.WriteString("  ")
			sb.WriteString(st.Row(v))
			if opts.ShowIDs {
				sb.WriteString("  ")
				sb.WriteString(st.Muted.Render(v.DoseID))
			}
			sb.WriteString("\n")
			if notes := strings.TrimSpace(v.Medication.Notes); notes != "" {
				sb.WriteString("      ")
				sb.WriteString(st.Notes.Render(notes))
				sb.WriteString("\n")
			}
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Row renders a single dose line without indentation
func (s *Styles) Row(v dose.View) string {
	name := v.Medication.Name
	if name == "" {
		name = "Medication"
	}

	parts := []string{
		s.Muted.Render(fmt.Sprintf("%-6s", v.Date)),
		s.Badge(v.Severity, v.Time),
		s.Name.Render(name),
	}
	if v.Medication.Dosage != "" {
		parts = append(parts, s.Dosage.Render(v.Medication.Dosage))
	}
	if v.Medication.Recurrence != "" {
		parts = append(parts, s.Tag.Render("["+strings.ToUpper(v.Medication.Recurrence)+"]"))
	}
	if v.Missed {
		parts = append(parts, s.Missed.Render("Missed"))
	}
	if v.Status == dose.StatusTaken {
		parts = append(parts, s.Taken.Render("Taken"))
	}
	if !v.Medication.IsActive() {
		parts = append(parts, s.Muted.Render("(inactive)"))
	}
	return strings.Join(parts, "  ")
}

// JSON writes the groups as an indented JSON array
func JSON(w io.Writer, groups []dose.GroupView) error {
	if groups == nil {
		groups = []dose.GroupView{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(groups)
}

// YAML writes the groups as a YAML sequence
func YAML(w io.Writer, groups []dose.GroupView) error {
	if groups == nil {
		groups = []dose.GroupView{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(groups); err != nil {
		return err
	}
	return enc.Close()
}

// DetailMarkdown is the dose card as markdown
func DetailMarkdown(v dose.View) string {
	name := v.Medication.Name
	if name == "" {
		name = "Medication"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", name)

	var line []string
	if v.Medication.Dosage != "" {
		line = append(line, "**"+v.Medication.Dosage+"**")
	}
	if v.Medication.Recurrence != "" {
		line = append(line, "`"+strings.ToUpper(v.Medication.Recurrence)+"`")
	}
	if len(line) > 0 {
		sb.WriteString(strings.Join(line, " "))
		sb.WriteString("\n\n")
	}

	active := "active"
	if !v.Medication.IsActive() {
		active = "inactive"
	}

	sb.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Due | %s %s |\n", v.Date, v.Time)
	fmt.Fprintf(&sb, "| Group | %s |\n", v.Label)
	fmt.Fprintf(&sb, "| State | %s |\n", v.Lifecycle)
	fmt.Fprintf(&sb, "| Urgency | %s |\n", v.Severity)
	fmt.Fprintf(&sb, "| Medication | %s |\n", active)
	fmt.Fprintf(&sb, "| Dose ID | `%s` |\n", v.DoseID)
	fmt.Fprintf(&sb, "| Medication ID | `%s` |\n", v.MedicationID)

	if notes := strings.TrimSpace(v.Medication.Notes); notes != "" {
		fmt.Fprintf(&sb, "\n> %s\n", notes)
	}
	if v.CanMarkTaken() {
		fmt.Fprintf(&sb, "\nRun `careclock take %s` to mark it as taken.\n", v.DoseID)
	}
	return sb.String()
}

// Detail renders the dose card through glamour
func Detail(v dose.View, opts Options) (string, error) {
	width := opts.Width
	if width <= 0 {
		width = 80
	}

	var style ansi.StyleConfig
	switch {
	case !opts.Color:
		style = styles.NoTTYStyleConfig
	case termenv.HasDarkBackground():
		style = styles.DarkStyleConfig
	default:
		style = styles.LightStyleConfig
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	out, err := r.Render(DetailMarkdown(v))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n") + "\n", nil
}
