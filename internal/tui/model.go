// Package tui is the interactive dose list.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/dose"
	"github.com/gmsas95/careclock-cli/internal/render"
)

const (
	refreshEvery   = time.Minute
	errorVisible   = 5 * time.Second
	requestTimeout = 30 * time.Second
)

// Backend is the part of the care API the list needs
type Backend interface {
	UpcomingDoses(ctx context.Context, careRecipientID string) ([]dose.Dose, error)
	MarkTaken(ctx context.Context, careRecipientID, medicationID string, dueAt time.Time) error
	SetMedicationActive(ctx context.Context, medicationID string, active bool) error
}

type Options struct {
	CareRecipientID string
	Thresholds      dose.Thresholds
	Color           bool
	Output          io.Writer
	Now             func() time.Time
}

type dosesMsg struct {
	doses []dose.Dose
	err   error
}

type actionKind int

const (
	actionTake actionKind = iota
	actionToggle
)

type actionMsg struct {
	kind         actionKind
	doseID       string
	medicationID string
	active       bool
	name         string
	err          error
}

type tickMsg time.Time

type clearErrMsg struct{ seq int }

// Model is the bubbletea model of the dose list
type Model struct {
	backend    Backend
	cid        string
	classifier *dose.Classifier
	now        func() time.Time

	styles  *render.Styles
	keys    keyMap
	help    help.Model
	spinner spinner.Model

	doses  []dose.Dose
	groups []dose.GroupView
	flat   []dose.View
	cursor int

	loading bool
	busy    bool
	loaded  bool
	err     error
	errSeq  int
	status  string
	width   int
}

func New(backend Backend, opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	r := lipgloss.NewRenderer(out)
	if !opts.Color {
		r.SetColorProfile(termenv.Ascii)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		backend:    backend,
		cid:        opts.CareRecipientID,
		classifier: dose.NewClassifier(opts.Thresholds),
		now:        opts.Now,
		styles:     render.NewStyles(r),
		keys:       defaultKeys(),
		help:       help.New(),
		spinner:    sp,
		loading:    true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	backend, cid := m.backend, m.cid
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		doses, err := backend.UpcomingDoses(ctx, cid)
		return dosesMsg{doses: doses, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case dosesMsg:
		m.loading = false
		if msg.err != nil {
			return m.fail(msg.err)
		}
		m.loaded = true
		m.doses = msg.doses
		m.rebuild()
		return m, nil

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			return m.fail(msg.err)
		}
		switch msg.kind {
		case actionTake:
			m.doses = dose.MarkTaken(m.doses, msg.doseID)
			m.status = fmt.Sprintf("Marked %s as taken", msg.name)
		case actionToggle:
			m.doses = dose.SetMedicationActive(m.doses, msg.medicationID, msg.active)
			if msg.active {
				m.status = fmt.Sprintf("Resumed %s", msg.name)
			} else {
				m.status = fmt.Sprintf("Paused %s", msg.name)
			}
		}
		m.rebuild()
		return m, nil

	case tickMsg:
		// reclassify right away so badges move even if the fetch fails
		m.rebuild()
		return m, tea.Batch(m.fetch(), tick())

	case clearErrMsg:
		if msg.seq == m.errSeq {
			m.err = nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.flat)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Refresh):
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetch()
	case key.Matches(msg, m.keys.Take):
		return m.take()
	case key.Matches(msg, m.keys.Toggle):
		return m.toggle()
	}
	return m, nil
}

func (m Model) selected() (dose.View, bool) {
	if m.cursor < 0 || m.cursor >= len(m.flat) {
		return dose.View{}, false
	}
	return m.flat[m.cursor], true
}

func (m Model) take() (tea.Model, tea.Cmd) {
	v, ok := m.selected()
	if !ok || m.busy {
		return m, nil
	}
	if !v.CanMarkTaken() {
		return m.fail(fmt.Errorf("%s cannot be marked as taken", displayName(v)))
	}

	m.busy = true
	backend, cid, d := m.backend, m.cid, v.Dose
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := backend.MarkTaken(ctx, cid, d.MedicationID, d.DueAt)
		return actionMsg{kind: actionTake, doseID: d.DoseID, medicationID: d.MedicationID, name: displayName(v), err: err}
	}
}

func (m Model) toggle() (tea.Model, tea.Cmd) {
	v, ok := m.selected()
	if !ok || m.busy {
		return m, nil
	}

	m.busy = true
	backend, medID, active := m.backend, v.MedicationID, !v.Medication.IsActive()
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := backend.SetMedicationActive(ctx, medID, active)
		return actionMsg{kind: actionToggle, medicationID: medID, active: active, name: displayName(v), err: err}
	}
}

// fail shows err until errorVisible passes or a newer error replaces it
func (m Model) fail(err error) (tea.Model, tea.Cmd) {
	m.err = err
	m.errSeq++
	seq := m.errSeq
	return m, tea.Tick(errorVisible, func(time.Time) tea.Msg { return clearErrMsg{seq: seq} })
}

// rebuild reclassifies against the current time and keeps the cursor on the same dose
func (m *Model) rebuild() {
	var current string
	if v, ok := m.selected(); ok {
		current = v.DoseID
	}

	m.groups = m.classifier.Views(m.doses, m.now())
	m.flat = nil
	for _, g := range m.groups {
		m.flat = append(m.flat, g.Doses...)
	}

	m.cursor = clamp(m.cursor, len(m.flat))
	for i, v := range m.flat {
		if v.DoseID == current {
			m.cursor = i
			break
		}
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func displayName(v dose.View) string {
	if v.Medication.Name == "" {
		return "Medication"
	}
	return v.Medication.Name
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render("careclock"))
	if m.loading {
		sb.WriteString(" " + m.spinner.View())
	}
	sb.WriteString("\n\n")

	switch {
	case !m.loaded && m.loading:
		sb.WriteString(m.styles.Muted.Render("Loading doses..."))
		sb.WriteString("\n")
	case len(m.flat) == 0 && m.loaded:
		sb.WriteString(m.styles.Muted.Render(render.EmptyMessage))
		sb.WriteString("\n")
	default:
		i := 0
		for _, g := range m.groups {
			sb.WriteString(m.styles.Header.Render(string(g.Label)))
			sb.WriteString("\n")
			for _, v := range g.Doses {
				prefix := "  "
				if i == m.cursor {
					prefix = m.styles.Selected.Render("> ")
				}
				sb.WriteString(prefix)
				sb.WriteString(m.styles.Row(v))
				sb.WriteString("\n")
				i++
			}
		}
	}

	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(m.styles.Error.Render(careapi.Message(m.err)))
		sb.WriteString("\n")
	} else if m.status != "" {
		sb.WriteString(m.styles.Muted.Render(m.status))
		sb.WriteString("\n")
	}
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

// Run shows the list until the user quits or ctx is cancelled
func Run(ctx context.Context, backend Backend, opts Options) error {
	p := tea.NewProgram(New(backend, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
