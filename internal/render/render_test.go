package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func sampleViews(t *testing.T) []dose.GroupView {
	t.Helper()
	inactive := false
	doses := []dose.Dose{
		{
			DoseID: "d1", MedicationID: "m1", DueAt: testNow.Add(-time.Hour), Status: dose.StatusUpcoming,
			Medication: dose.Medication{Name: "Metformin", Dosage: "500mg", Recurrence: "DAILY", Notes: "with food"},
		},
		{
			DoseID: "d2", MedicationID: "m2", DueAt: testNow.Add(30 * time.Minute), Status: dose.StatusTaken,
			Medication: dose.Medication{Name: "Aspirin", Dosage: "81mg", Recurrence: "daily"},
		},
		{
			DoseID: "d3", MedicationID: "m3", DueAt: testNow.Add(26 * time.Hour), Status: dose.StatusUpcoming,
			Medication: dose.Medication{Dosage: "1 tab", Active: &inactive},
		},
	}
	return dose.NewClassifier(dose.DefaultThresholds()).Views(doses, testNow)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestText_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, nil, Options{}))
	assert.Equal(t, EmptyMessage+"\n", buf.String())
}

func TestText_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleViews(t), Options{ShowIDs: true}))

	want := strings.Join([]string{
		"Today",
		"  Mar 10  11:00 AM  Metformin  500mg  [DAILY]  Missed  d1",
		"      with food",
		"  Mar 10  12:30 PM  Aspirin  81mg  [DAILY]  Taken  d2",
		"",
		"Tomorrow",
		"  Mar 11  02:00 PM  Medication  1 tab  (inactive)  d3",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestText_NoANSIWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleViews(t), Options{}))
	assert.NotContains(t, buf.String(), "\x1b[")
	assert.NotContains(t, buf.String(), "d1")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sampleViews(t)))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Today", out[0]["label"])

	first := out[0]["doses"].([]any)[0].(map[string]any)
	assert.Equal(t, "d1", first["doseId"])
	assert.Equal(t, "missed", first["severity"])
	assert.Equal(t, true, first["missed"])
	assert.Equal(t, "missed", first["lifecycle"])
	assert.Equal(t, "11:00 AM", first["time"])
	assert.Equal(t, "Mar 10", first["date"])

	buf.Reset()
	require.NoError(t, JSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, YAML(&buf, sampleViews(t)))

	var out []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Tomorrow", out[1]["label"])

	d := out[1]["doses"].([]any)[0].(map[string]any)
	assert.Equal(t, "d3", d["doseId"])
	assert.Equal(t, "normal", d["severity"])
	assert.Equal(t, "02:00 PM", d["time"])
}

func TestList_Dispatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, List(&buf, FormatJSON, nil, Options{}))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, List(&buf, FormatText, nil, Options{}))
	assert.Equal(t, EmptyMessage+"\n", buf.String())
}

func TestDetailMarkdown(t *testing.T) {
	views := sampleViews(t)

	md := DetailMarkdown(views[0].Doses[0])
	assert.Contains(t, md, "# Metformin")
	assert.Contains(t, md, "| Due | Mar 10 11:00 AM |")
	assert.Contains(t, md, "| State | missed |")
	assert.Contains(t, md, "> with food")
	assert.Contains(t, md, "careclock take d1")

	taken := DetailMarkdown(views[0].Doses[1])
	assert.NotContains(t, taken, "careclock take")

	inactive := DetailMarkdown(views[1].Doses[0])
	assert.Contains(t, inactive, "# Medication")
	assert.Contains(t, inactive, "| Medication | inactive |")
	assert.NotContains(t, inactive, "careclock take")
}

func TestDetail(t *testing.T) {
	out, err := Detail(sampleViews(t)[0].Doses[0], Options{Width: 60})
	require.NoError(t, err)
	assert.Contains(t, out, "Metformin")
	assert.Contains(t, out, "11:00 AM")
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, ColorMissed, SeverityColor(dose.SeverityMissed))
	assert.Equal(t, ColorUrgent, SeverityColor(dose.SeverityUrgent))
	assert.Equal(t, ColorNormal, SeverityColor(dose.SeverityNormal))
	assert.Equal(t, ColorNeutral, SeverityColor(dose.SeverityNeutral))
}
