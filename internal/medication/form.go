// Package medication builds the payload for registering a medication with the care API.
package medication

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/security"
)

// Recurrence is how often a medication repeats
type Recurrence string

const (
	RecurrenceDaily  Recurrence = "DAILY"
	RecurrenceWeekly Recurrence = "WEEKLY"
)

// ParseRecurrence accepts DAILY or WEEKLY in any case
func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(strings.ToUpper(strings.TrimSpace(s))); r {
	case RecurrenceDaily, RecurrenceWeekly:
		return r, nil
	}
	return "", apperrors.New(apperrors.ErrMedicationInvalid.Code, fmt.Sprintf("unknown recurrence %q, expected DAILY or WEEKLY", s))
}

const (
	DefaultTime = "08:00"
	// DefaultDay is Monday
	DefaultDay = 1
)

const timeLayout = "15:04"

// MsgRequired is the message shown when name or dosage is blank
const MsgRequired = "Name and dosage are required."

var dayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// DayName returns the short English name of a weekday index, or "Day N" outside 0..6
func DayName(day int) string {
	if day >= 0 && day < len(dayNames) {
		return dayNames[day]
	}
	return fmt.Sprintf("Day %d", day)
}

// ParseDay accepts a weekday index or a day name of at least three letters ("mon", "Monday")
func ParseDay(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	lower := strings.ToLower(s)
	if len(lower) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), lower) {
				return int(d), nil
			}
		}
	}
	return 0, apperrors.New(apperrors.ErrMedicationInvalid.Code, fmt.Sprintf("unknown day %q", s))
}

// Payload is the body of POST /medications
type Payload struct {
	CareRecipientID string     `json:"careRecipientId"`
	Name            string     `json:"name"`
	Dosage          string     `json:"dosage"`
	Notes           string     `json:"notes"`
	Recurrence      Recurrence `json:"recurrence"`
	TimesOfDay      []string   `json:"timesOfDay"`
	DaysOfWeek      []int      `json:"daysOfWeek"`
	Active          bool       `json:"active"`
}

// Form collects medication fields before submission. The zero value is not ready for use,
// start from NewForm.
type Form struct {
	Name       string
	Dosage     string
	Notes      string
	Recurrence Recurrence
	TimesOfDay []string
	DaysOfWeek []int
	Active     bool
}

// NewForm returns a daily, active form with one 08:00 time and Monday selected
func NewForm() *Form {
	return &Form{
		Recurrence: RecurrenceDaily,
		TimesOfDay: []string{DefaultTime},
		DaysOfWeek: []int{DefaultDay},
		Active:     true,
	}
}

// Reset restores the defaults after a successful submission
func (f *Form) Reset() {
	*f = *NewForm()
}

// AddTime adds an HH:MM time. Blank input and duplicates are ignored; the list stays sorted.
func (f *Form) AddTime(t string) error {
	t = strings.TrimSpace(t)
	if t == "" {
		return nil
	}
	parsed, err := time.Parse(timeLayout, t)
	if err != nil {
		return apperrors.New(apperrors.ErrMedicationInvalid.Code, fmt.Sprintf("time %q must be HH:MM", t), err)
	}
	t = parsed.Format(timeLayout)

	for _, existing := range f.TimesOfDay {
		if existing == t {
			return nil
		}
	}
	f.TimesOfDay = append(f.TimesOfDay, t)
	sort.Strings(f.TimesOfDay)
	return nil
}

// RemoveTime drops t from the list
func (f *Form) RemoveTime(t string) {
	out := f.TimesOfDay[:0]
	for _, existing := range f.TimesOfDay {
		if existing != t {
			out = append(out, existing)
		}
	}
	f.TimesOfDay = out
}

// AddDay adds a weekday index. Values outside 0..6 and duplicates are ignored.
func (f *Form) AddDay(day int) {
	if day < 0 || day > 6 {
		return
	}
	for _, existing := range f.DaysOfWeek {
		if existing == day {
			return
		}
	}
	f.DaysOfWeek = append(f.DaysOfWeek, day)
	sort.Ints(f.DaysOfWeek)
}

// RemoveDay drops day from the list
func (f *Form) RemoveDay(day int) {
	out := f.DaysOfWeek[:0]
	for _, existing := range f.DaysOfWeek {
		if existing != day {
			out = append(out, existing)
		}
	}
	f.DaysOfWeek = out
}

// Build validates the form and produces the request payload. Only the schedule field
// matching the recurrence is sent; the other one, or an empty one, is null.
func (f *Form) Build(careRecipientID string) (Payload, error) {
	name := strings.TrimSpace(f.Name)
	dosage := strings.TrimSpace(f.Dosage)
	if name == "" || dosage == "" {
		return Payload{}, apperrors.New(apperrors.ErrMedicationInvalid.Code, MsgRequired)
	}
	if strings.TrimSpace(careRecipientID) == "" {
		return Payload{}, apperrors.New(apperrors.ErrMedicationInvalid.Code, "care recipient id is required")
	}
	notes := strings.TrimSpace(f.Notes)
	for _, field := range []struct {
		name, value string
		max         int
	}{
		{"name", name, security.MaxNameLength},
		{"dosage", dosage, security.MaxDosageLength},
		{"notes", notes, security.MaxNotesLength},
	} {
		if err := security.ValidateField(field.name, field.value, field.max); err != nil {
			return Payload{}, apperrors.New(apperrors.ErrMedicationInvalid.Code, err.Error(), err)
		}
	}

	recurrence := RecurrenceDaily
	if f.Recurrence != "" {
		r, err := ParseRecurrence(string(f.Recurrence))
		if err != nil {
			return Payload{}, err
		}
		recurrence = r
	}

	p := Payload{
		CareRecipientID: careRecipientID,
		Name:            name,
		Dosage:          dosage,
		Notes:           notes,
		Recurrence:      recurrence,
		Active:          f.Active,
	}
	if recurrence == RecurrenceDaily && len(f.TimesOfDay) > 0 {
		p.TimesOfDay = append([]string(nil), f.TimesOfDay...)
	}
	if recurrence == RecurrenceWeekly && len(f.DaysOfWeek) > 0 {
		p.DaysOfWeek = append([]int(nil), f.DaysOfWeek...)
	}
	return p, nil
}

// Schedule summarises the recurrence for display, e.g. "daily at 08:00, 20:00"
func (p Payload) Schedule() string {
	switch p.Recurrence {
	case RecurrenceWeekly:
		if len(p.DaysOfWeek) == 0 {
			return "weekly"
		}
		names := make([]string, len(p.DaysOfWeek))
		for i, d := range p.DaysOfWeek {
			names[i] = DayName(d)
		}
		return "weekly on " + strings.Join(names, ", ")
	default:
		if len(p.TimesOfDay) == 0 {
			return "daily"
		}
		return "daily at " + strings.Join(p.TimesOfDay, ", ")
	}
}
