// Package dose classifies and groups medication doses relative to a caller-supplied "now".
package dose

import (
	"encoding/json"
	"time"
)

// Status is the server-reported state of a dose
type Status string

const (
	StatusUpcoming Status = "UPCOMING"
	StatusTaken    Status = "TAKEN"
	StatusMissed   Status = "MISSED"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusTaken, StatusMissed:
		return true
	}
	return false
}

// Medication is the medication snapshot embedded in every dose
type Medication struct {
	Name       string `json:"name" yaml:"name"`
	Dosage     string `json:"dosage" yaml:"dosage"`
	Recurrence string `json:"recurrence" yaml:"recurrence"`
	Notes      string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Active     *bool  `json:"active,omitempty" yaml:"active,omitempty"`
}

// IsActive treats a missing flag as active
func (m Medication) IsActive() bool {
	return m.Active == nil || *m.Active
}

// Dose is one scheduled occurrence of a medication
type Dose struct {
	DoseID          string     `json:"doseId" yaml:"doseId"`
	MedicationID    string     `json:"medicationId" yaml:"medicationId"`
	CareRecipientID string     `json:"careRecipientId" yaml:"careRecipientId"`
	DueAt           time.Time  `json:"dueAt" yaml:"dueAt"`
	Status          Status     `json:"status" yaml:"status"`
	Medication      Medication `json:"medication" yaml:"medication"`
}

// UnmarshalJSON reads dueAt through ParseInstant so zone-less timestamps are accepted as
// UTC and malformed ones fail with ErrInvalidTimestamp.
func (d *Dose) UnmarshalJSON(data []byte) error {
	type plain Dose
	var aux struct {
		plain
		DueAt string `json:"dueAt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	due, err := ParseInstant(aux.DueAt)
	if err != nil {
		return err
	}
	*d = Dose(aux.plain)
	d.DueAt = due
	return nil
}

// CanMarkTaken reports whether the dose is eligible for the mark-as-taken action
func (d Dose) CanMarkTaken() bool {
	return d.Status == StatusUpcoming && d.Medication.IsActive()
}

// DateGroupLabel names one of the display buckets
type DateGroupLabel string

const (
	GroupToday    DateGroupLabel = "Today"
	GroupTomorrow DateGroupLabel = "Tomorrow"
	GroupThisWeek DateGroupLabel = "This Week"
	GroupLater    DateGroupLabel = "Later"
)

// DateGroupLabels is the fixed display order of the buckets.
var DateGroupLabels = []DateGroupLabel{GroupToday, GroupTomorrow, GroupThisWeek, GroupLater}

// GroupedDoses pairs a label with its doses sorted by due time
type GroupedDoses struct {
	Label DateGroupLabel `json:"label" yaml:"label"`
	Doses []Dose         `json:"doses" yaml:"doses"`
}

// Severity drives the emphasis of the time badge
type Severity int

const (
	SeverityNeutral Severity = iota
	SeverityMissed
	SeverityUrgent
	SeverityNormal
)

func (s Severity) String() string {
	switch s {
	case SeverityMissed:
		return "missed"
	case SeverityUrgent:
		return "urgent"
	case SeverityNormal:
		return "normal"
	default:
		return "neutral"
	}
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lifecycle is the derived state of a dose at a given instant
type Lifecycle string

const (
	LifecycleUpcoming Lifecycle = "upcoming"
	LifecycleTaken    Lifecycle = "taken"
	LifecycleMissed   Lifecycle = "missed"
)
