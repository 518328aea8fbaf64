package dose

import (
	"time"
)

const (
	DefaultMissedAfter  = 30 * time.Minute
	DefaultUrgentWithin = 2 * time.Hour
)

// Thresholds configures missed and urgent classification.
type Thresholds struct {
	// MissedAfter is how long past due a dose that is not taken becomes missed.
	MissedAfter time.Duration
	// UrgentWithin is how close to due a pending dose is shown as urgent.
	UrgentWithin time.Duration
}

// DefaultThresholds returns the 30 minute / 2 hour thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MissedAfter:  DefaultMissedAfter,
		UrgentWithin: DefaultUrgentWithin,
	}
}

// Classifier derives missed state and badge severity from a single Thresholds value so
// IsMissed and BadgeSeverity cannot drift apart.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier. Zero thresholds fall back to the defaults.
func NewClassifier(t Thresholds) *Classifier {
	if t.MissedAfter <= 0 {
		t.MissedAfter = DefaultMissedAfter
	}
	if t.UrgentWithin <= 0 {
		t.UrgentWithin = DefaultUrgentWithin
	}
	return &Classifier{thresholds: t}
}

// Thresholds returns the effective thresholds
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// IsMissed reports whether a dose not yet taken is at least MissedAfter past due.
func (c *Classifier) IsMissed(due time.Time, status Status, now time.Time) bool {
	if status == StatusTaken {
		return false
	}
	return now.Sub(due) >= c.thresholds.MissedAfter
}

// BadgeSeverity picks the time badge emphasis. A dose that is overdue but still inside
// the missed grace window is reported as Missed as well.
func (c *Classifier) BadgeSeverity(due time.Time, status Status, now time.Time) Severity {
	if status == StatusTaken {
		return SeverityNeutral
	}
	if now.Sub(due) >= c.thresholds.MissedAfter {
		return SeverityMissed
	}

	untilDue := due.Sub(now)
	switch {
	case untilDue < 0:
		return SeverityMissed
	case untilDue < c.thresholds.UrgentWithin:
		return SeverityUrgent
	default:
		return SeverityNormal
	}
}

// Lifecycle derives the dose state from (due, status, now). The server MISSED status is
// not consulted; missed is always computed from the due time.
func (c *Classifier) Lifecycle(d Dose, now time.Time) Lifecycle {
	switch {
	case d.Status == StatusTaken:
		return LifecycleTaken
	case c.IsMissed(d.DueAt, d.Status, now):
		return LifecycleMissed
	default:
		return LifecycleUpcoming
	}
}

// Classification is everything a renderer needs for one dose at one instant.
type Classification struct {
	Label     DateGroupLabel `json:"label" yaml:"label"`
	Severity  Severity       `json:"severity" yaml:"severity"`
	Missed    bool           `json:"missed" yaml:"missed"`
	Lifecycle Lifecycle      `json:"lifecycle" yaml:"lifecycle"`
	DateTime  `yaml:",inline"`
}

// Classify evaluates every rule for d against the same now
func (c *Classifier) Classify(d Dose, now time.Time) Classification {
	return Classification{
		Label:     GroupLabel(d.DueAt, now),
		Severity:  c.BadgeSeverity(d.DueAt, d.Status, now),
		Missed:    c.IsMissed(d.DueAt, d.Status, now),
		Lifecycle: c.Lifecycle(d, now),
		DateTime:  FormatDateTime(d.DueAt),
	}
}

// View is a dose together with its classification.
type View struct {
	Dose           `yaml:",inline"`
	Classification `yaml:",inline"`
}

// GroupView is a labelled group of classified doses.
type GroupView struct {
	Label DateGroupLabel `json:"label" yaml:"label"`
	Doses []View         `json:"doses" yaml:"doses"`
}

// Views organizes doses and classifies each one using a single now.
func (c *Classifier) Views(doses []Dose, now time.Time) []GroupView {
	groups := Organize(doses, now)
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		gv := GroupView{Label: g.Label, Doses: make([]View, len(g.Doses))}
		for i, d := range g.Doses {
			gv.Doses[i] = View{Dose: d, Classification: c.Classify(d, now)}
		}
		out = append(out, gv)
	}
	return out
}
