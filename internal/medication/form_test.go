package medication

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
)

func TestNewForm_Defaults(t *testing.T) {
	f := NewForm()

	assert.Equal(t, RecurrenceDaily, f.Recurrence)
	assert.Equal(t, []string{"08:00"}, f.TimesOfDay)
	assert.Equal(t, []int{1}, f.DaysOfWeek)
	assert.True(t, f.Active)
}

func TestForm_AddTime(t *testing.T) {
	f := NewForm()

	require.NoError(t, f.AddTime(" 20:30 "))
	require.NoError(t, f.AddTime("07:15"))
	require.NoError(t, f.AddTime("08:00"))
	require.NoError(t, f.AddTime(""))
	require.NoError(t, f.AddTime("9:05"))

	assert.Equal(t, []string{"07:15", "08:00", "09:05", "20:30"}, f.TimesOfDay)

	err := f.AddTime("25:00")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrMedicationInvalid.Code, apperrors.GetCode(err))

	f.RemoveTime("08:00")
	f.RemoveTime("11:11")
	assert.Equal(t, []string{"07:15", "09:05", "20:30"}, f.TimesOfDay)
}

func TestForm_AddDay(t *testing.T) {
	f := NewForm()

	f.AddDay(5)
	f.AddDay(0)
	f.AddDay(1)
	f.AddDay(7)
	f.AddDay(-1)

	assert.Equal(t, []int{0, 1, 5}, f.DaysOfWeek)

	f.RemoveDay(1)
	assert.Equal(t, []int{0, 5}, f.DaysOfWeek)
}

func TestDayName(t *testing.T) {
	tests := []struct {
		day  int
		want string
	}{
		{0, "Sun"},
		{1, "Mon"},
		{6, "Sat"},
		{7, "Day 7"},
		{-1, "Day -1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DayName(tt.day))
	}
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"mon", 1, false},
		{"Saturday", 6, false},
		{"THU", 4, false},
		{"su", 0, true},
		{"funday", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRecurrence(t *testing.T) {
	r, err := ParseRecurrence("weekly")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceWeekly, r)

	_, err = ParseRecurrence("monthly")
	assert.Error(t, err)
}

func TestForm_Build_RequiresNameAndDosage(t *testing.T) {
	tests := []struct {
		name   string
		dosage string
	}{
		{"", "200mg"},
		{"Ibuprofen", "  "},
		{"   ", ""},
	}
	for _, tt := range tests {
		f := NewForm()
		f.Name, f.Dosage = tt.name, tt.dosage

		_, err := f.Build("cr-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), MsgRequired)
	}
}

func TestForm_Build_RejectsBadText(t *testing.T) {
	f := NewForm()
	f.Name, f.Dosage = "Aspirin", strings.Repeat("5", 101)
	_, err := f.Build("cr-1")
	assert.Equal(t, apperrors.ErrMedicationInvalid.Code, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "dosage must be at most 100 characters")

	f.Dosage = "100mg"
	f.Name = "Asp\x1birin"
	_, err = f.Build("cr-1")
	assert.Equal(t, apperrors.ErrMedicationInvalid.Code, apperrors.GetCode(err))

	f.Name = "Aspirin"
	f.Notes = "with food\nnot before bed"
	_, err = f.Build("cr-1")
	assert.NoError(t, err)
}

func TestForm_Build_Daily(t *testing.T) {
	f := NewForm()
	f.Name = "  Ibuprofen "
	f.Dosage = "200mg"
	f.Notes = " with food "
	require.NoError(t, f.AddTime("20:00"))

	p, err := f.Build("cr-1")
	require.NoError(t, err)

	assert.Equal(t, "Ibuprofen", p.Name)
	assert.Equal(t, "with food", p.Notes)
	assert.Equal(t, []string{"08:00", "20:00"}, p.TimesOfDay)
	assert.Nil(t, p.DaysOfWeek)
	assert.Equal(t, "daily at 08:00, 20:00", p.Schedule())

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"careRecipientId": "cr-1",
		"name": "Ibuprofen",
		"dosage": "200mg",
		"notes": "with food",
		"recurrence": "DAILY",
		"timesOfDay": ["08:00", "20:00"],
		"daysOfWeek": null,
		"active": true
	}`, string(raw))
}

func TestForm_Build_Weekly(t *testing.T) {
	f := NewForm()
	f.Name, f.Dosage = "Vitamin D", "1000IU"
	f.Recurrence = "weekly"
	f.AddDay(4)

	p, err := f.Build("cr-1")
	require.NoError(t, err)

	assert.Equal(t, RecurrenceWeekly, p.Recurrence)
	assert.Nil(t, p.TimesOfDay)
	assert.Equal(t, []int{1, 4}, p.DaysOfWeek)
	assert.Equal(t, "weekly on Mon, Thu", p.Schedule())
}

func TestForm_Build_EmptyScheduleIsNull(t *testing.T) {
	f := NewForm()
	f.Name, f.Dosage = "Aspirin", "81mg"
	f.RemoveTime("08:00")

	p, err := f.Build("cr-1")
	require.NoError(t, err)
	assert.Nil(t, p.TimesOfDay)
	assert.Equal(t, "daily", p.Schedule())

	f.Recurrence = RecurrenceWeekly
	f.RemoveDay(1)
	p, err = f.Build("cr-1")
	require.NoError(t, err)
	assert.Nil(t, p.DaysOfWeek)
}

func TestForm_Build_DoesNotAliasForm(t *testing.T) {
	f := NewForm()
	f.Name, f.Dosage = "Aspirin", "81mg"

	p, err := f.Build("cr-1")
	require.NoError(t, err)

	f.TimesOfDay[0] = "23:59"
	assert.Equal(t, []string{"08:00"}, p.TimesOfDay)
}

func TestForm_Reset(t *testing.T) {
	f := NewForm()
	f.Name = "x"
	f.Active = false
	f.AddDay(3)

	f.Reset()
	assert.Equal(t, NewForm(), f)
}
