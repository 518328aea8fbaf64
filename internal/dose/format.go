package dose

import (
	"fmt"
	"strings"
	"time"
)

var monthAbbrev = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// DateTime is the display form of a due instant
type DateTime struct {
	Date string `json:"date" yaml:"date"`
	Time string `json:"time" yaml:"time"`
}

// FormatDateTime renders due from its UTC fields without any timezone conversion:
// "Mar 10" and "12:05 AM".
func FormatDateTime(due time.Time) DateTime {
	u := due.UTC()
	h := u.Hour()

	hour12 := h % 12
	if hour12 == 0 {
		hour12 = 12
	}
	meridiem := "AM"
	if h >= 12 {
		meridiem = "PM"
	}

	return DateTime{
		Date: fmt.Sprintf("%s %d", monthAbbrev[u.Month()-1], u.Day()),
		Time: fmt.Sprintf("%02d:%02d %s", hour12, u.Minute(), meridiem),
	}
}

// instantLayouts are tried in order by ParseInstant. Zone-less forms are read as UTC.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseInstant parses an ISO-8601 due timestamp at the input boundary
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// FormatInstant encodes an instant the way the care API expects it
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
