package dose

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidTimestamp is returned when a due timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ThisWeekDays is the width of the This Week window, anchored at now rather than midnight.
const ThisWeekDays = 7

// GroupLabel buckets due relative to now. Today and Tomorrow compare calendar dates in
// now's location; This Week compares instants against now plus seven days.
func GroupLabel(due, now time.Time) DateGroupLabel {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)

	d := due.In(loc)
	doseDate := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)

	switch {
	case doseDate.Equal(today):
		return GroupToday
	case doseDate.Equal(tomorrow):
		return GroupTomorrow
	case !due.After(now.AddDate(0, 0, ThisWeekDays)):
		return GroupThisWeek
	default:
		return GroupLater
	}
}

// Organize partitions doses into date groups, sorts each group by due time ascending
// (ties keep input order) and returns the non-empty groups in DateGroupLabels order.
// The input slice is not modified.
func Organize(doses []Dose, now time.Time) []GroupedDoses {
	buckets := make(map[DateGroupLabel][]Dose, len(DateGroupLabels))
	for _, d := range doses {
		label := GroupLabel(d.DueAt, now)
		buckets[label] = append(buckets[label], d)
	}

	var groups []GroupedDoses
	for _, label := range DateGroupLabels {
		ds := buckets[label]
		if len(ds) == 0 {
			continue
		}
		sort.SliceStable(ds, func(i, j int) bool {
			return ds[i].DueAt.Before(ds[j].DueAt)
		})
		groups = append(groups, GroupedDoses{Label: label, Doses: ds})
	}
	return groups
}

// MarkTaken returns a copy of doses with the matching dose set to TAKEN.
func MarkTaken(doses []Dose, doseID string) []Dose {
	out := make([]Dose, len(doses))
	copy(out, doses)
	for i := range out {
		if out[i].DoseID == doseID {
			out[i].Status = StatusTaken
		}
	}
	return out
}

// SetMedicationActive returns a copy of doses with the active flag of every dose of
// medicationID replaced.
func SetMedicationActive(doses []Dose, medicationID string, active bool) []Dose {
	out := make([]Dose, len(doses))
	copy(out, doses)
	for i := range out {
		if out[i].MedicationID == medicationID {
			v := active
			out[i].Medication.Active = &v
		}
	}
	return out
}

// Find returns the dose with doseID
func Find(doses []Dose, doseID string) (Dose, bool) {
	for _, d := range doses {
		if d.DoseID == doseID {
			return d, true
		}
	}
	return Dose{}, false
}
