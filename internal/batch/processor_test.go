package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/medication"
)

type fakeCreator struct {
	mu       sync.Mutex
	created  []medication.Payload
	failures map[string][]error // per medication name, consumed in order
	calls    map[string]int
}

func (f *fakeCreator) CreateMedication(_ context.Context, p medication.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[p.Name]++
	if errs := f.failures[p.Name]; len(errs) > 0 {
		f.failures[p.Name] = errs[1:]
		return errs[0]
	}
	f.created = append(f.created, p)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RatePerMinute = 0
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxConcurrency != 3 {
		t.Errorf("Expected MaxConcurrency 3, got %d", cfg.MaxConcurrency)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.RetryCount != 2 {
		t.Errorf("Expected RetryCount 2, got %d", cfg.RetryCount)
	}
	if cfg.DryRun {
		t.Error("DryRun should be off by default")
	}
}

func TestNewProcessor_ZeroConfig(t *testing.T) {
	p := NewProcessor(&fakeCreator{}, Config{}, nil)

	if p.config.MaxConcurrency != 1 {
		t.Errorf("Expected MaxConcurrency 1, got %d", p.config.MaxConcurrency)
	}
	if p.config.Timeout <= 0 {
		t.Error("Timeout should fall back to the default")
	}
}

func TestEntry_Form(t *testing.T) {
	e := Entry{
		Name:       "Vitamin D",
		Dosage:     "1000 IU",
		Recurrence: "weekly",
		Days:       []string{"thu", "1", "Monday"},
	}
	f, err := e.Form()
	if err != nil {
		t.Fatal(err)
	}
	p, err := f.Build("cr")
	if err != nil {
		t.Fatal(err)
	}
	if p.Recurrence != medication.RecurrenceWeekly {
		t.Errorf("Expected WEEKLY, got %s", p.Recurrence)
	}
	if got := p.Schedule(); got != "weekly on Mon, Thu" {
		t.Errorf("Unexpected schedule %q", got)
	}
	if p.TimesOfDay != nil {
		t.Error("Weekly payload should not carry times")
	}
}

func TestEntry_FormDefaults(t *testing.T) {
	f, err := Entry{Name: "Aspirin", Dosage: "81mg"}.Form()
	if err != nil {
		t.Fatal(err)
	}
	if len(f.TimesOfDay) != 1 || f.TimesOfDay[0] != medication.DefaultTime {
		t.Errorf("Expected default time, got %v", f.TimesOfDay)
	}
	if !f.Active {
		t.Error("Entry should be active unless marked inactive")
	}
}

func TestEntry_FormErrors(t *testing.T) {
	tests := []Entry{
		{Name: "a", Dosage: "b", Recurrence: "monthly"},
		{Name: "a", Dosage: "b", Times: []string{"25:00"}},
		{Name: "a", Dosage: "b", Days: []string{"funday"}},
	}
	for i, e := range tests {
		if _, err := e.Form(); err == nil {
			t.Errorf("entry %d: expected an error", i)
		}
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "meds.yaml", `
- name: Metformin
  dosage: 500mg
  times: ["20:00", "08:00"]
- id: vit
  name: Vitamin D
  dosage: 1000 IU
  recurrence: WEEKLY
  days: [mon]
`)
	p := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop())
	entries, err := p.loadInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Times[1] != "08:00" {
		t.Errorf("Unexpected times %v", entries[0].Times)
	}
	if entries[1].ID != "vit" {
		t.Errorf("Expected id vit, got %s", entries[1].ID)
	}
}

func TestLoadJSONFile_Array(t *testing.T) {
	path := writeFile(t, "meds.json", `  [{"name": "Metformin", "dosage": "500mg"}, {"name": "Aspirin", "dosage": "81mg"}]`)
	p := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop())

	entries, err := p.loadInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].Name != "Aspirin" {
		t.Errorf("Unexpected entries %+v", entries)
	}
}

func TestLoadJSONFile_Lines(t *testing.T) {
	path := writeFile(t, "meds.jsonl", `{"name": "Metformin", "dosage": "500mg"}
{"name": 42}
{"name": "Aspirin", "dosage": "81mg"}
`)
	p := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop())

	entries, err := p.loadInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected invalid record to be skipped, got %d entries", len(entries))
	}

	cfg := testConfig()
	cfg.SkipInvalid = false
	if _, err := NewProcessor(&fakeCreator{}, cfg, zap.NewNop()).loadInputFile(path); err == nil {
		t.Error("Expected an error when invalid records are not skipped")
	}
}

func TestLoadJSONFile_Empty(t *testing.T) {
	path := writeFile(t, "empty.json", "\n")
	entries, err := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop()).loadInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}

func TestLoadTextFile(t *testing.T) {
	path := writeFile(t, "meds.txt", `# name | dosage | times
Metformin | 500mg | 08:00, 20:00

Aspirin | 81mg
`)
	entries, err := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop()).loadInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "line-2" {
		t.Errorf("Expected ID line-2, got %s", entries[0].ID)
	}
	if len(entries[0].Times) != 2 || entries[0].Times[1] != "20:00" {
		t.Errorf("Unexpected times %v", entries[0].Times)
	}
	if entries[1].Dosage != "81mg" || entries[1].Times != nil {
		t.Errorf("Unexpected entry %+v", entries[1])
	}
}

func TestProcess(t *testing.T) {
	creator := &fakeCreator{failures: map[string][]error{
		"Flaky":    {&careapi.APIError{StatusCode: http.StatusServiceUnavailable}},
		"Rejected": {&careapi.APIError{StatusCode: http.StatusBadRequest, Body: "dosage is invalid"}},
		"Down": {
			&careapi.APIError{StatusCode: http.StatusBadGateway},
			&careapi.APIError{StatusCode: http.StatusBadGateway},
			&careapi.APIError{StatusCode: http.StatusBadGateway},
		},
	}}
	p := NewProcessor(creator, testConfig(), zap.NewNop())

	result := p.Process(context.Background(), "cr", []Entry{
		{Name: "Metformin", Dosage: "500mg"},
		{Name: "Flaky", Dosage: "1"},
		{Name: "Rejected", Dosage: "1"},
		{Name: "  ", Dosage: "1"},
		{Name: "Down", Dosage: "1"},
	})

	if result.Total != 5 || result.Success != 2 || result.Failed != 2 || result.Skipped != 1 {
		t.Fatalf("Unexpected counts: %s", result.Summary())
	}

	items := result.Items
	if items[0].ID != "item-1" || !items[0].Success || items[0].Schedule != "daily at 08:00" {
		t.Errorf("Unexpected first item %+v", items[0])
	}
	if items[1].Attempts != 2 || !items[1].Success {
		t.Errorf("Expected Flaky to succeed on retry, got %+v", items[1])
	}
	if items[2].Attempts != 1 || items[2].Error != "dosage is invalid" {
		t.Errorf("Expected Rejected to fail without retry, got %+v", items[2])
	}
	if !items[3].Skipped || !strings.Contains(items[3].Error, medication.MsgRequired) {
		t.Errorf("Expected blank name to be skipped, got %+v", items[3])
	}
	if items[4].Attempts != 3 || items[4].Error != "Request failed with status 502" {
		t.Errorf("Expected Down to exhaust retries, got %+v", items[4])
	}

	for _, c := range creator.created {
		if c.CareRecipientID != "cr" {
			t.Errorf("Payload sent for wrong care recipient: %s", c.CareRecipientID)
		}
	}
}

func TestProcess_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	creator := &fakeCreator{}

	result := NewProcessor(creator, cfg, zap.NewNop()).Process(context.Background(), "cr", []Entry{{Name: "a", Dosage: "b"}})
	if result.Success != 1 {
		t.Errorf("Expected dry run to validate the entry, got %s", result.Summary())
	}
	if len(creator.calls) != 0 {
		t.Error("Dry run must not call the API")
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop()).Process(ctx, "cr", []Entry{{Name: "a", Dosage: "b"}})
	if result.Failed != 1 || result.Items[0].Attempts != 0 {
		t.Errorf("Expected cancelled import to fail before calling the API, got %+v", result.Items[0])
	}
}

func TestProcessFile_WritesReport(t *testing.T) {
	in := writeFile(t, "meds.yaml", "- name: Metformin\n  dosage: 500mg\n")
	out := filepath.Join(t.TempDir(), "report.json")

	result, err := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop()).ProcessFile(context.Background(), "cr", in, out)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success != 1 {
		t.Errorf("Expected 1 created, got %d", result.Success)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var report Result
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("Report is not JSON: %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].Name != "Metformin" {
		t.Errorf("Unexpected report items %+v", report.Items)
	}
}

func TestProcessFile_MissingInput(t *testing.T) {
	_, err := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop()).ProcessFile(context.Background(), "cr", "/nonexistent/meds.yaml", "")
	if err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSaveOutputFile_Text(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.txt")
	p := NewProcessor(&fakeCreator{}, testConfig(), zap.NewNop())
	result := &Result{Items: []OutputItem{
		{ID: "item-1", Name: "Metformin", Schedule: "daily at 08:00", Success: true, Attempts: 1},
		{ID: "item-2", Name: "", Skipped: true, Error: "Name and dosage are required."},
	}}

	if err := p.saveOutputFile(out, result); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out)
	content := string(data)

	for _, want := range []string{"=== item-1 ===", "Schedule: daily at 08:00", "Status: created", "Status: skipped", "Error: Name and dosage"} {
		if !strings.Contains(content, want) {
			t.Errorf("Report should contain %q", want)
		}
	}
}

func TestResult_Summary(t *testing.T) {
	r := &Result{Total: 10, Success: 7, Failed: 2, Skipped: 1, Duration: 1500 * time.Millisecond}
	summary := r.Summary()

	for _, want := range []string{"Total:     10", "Created:   7", "Failed:    2", "Skipped:   1", "1.5s"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary should contain %q:\n%s", want, summary)
		}
	}
}

func TestResult_ToJSON(t *testing.T) {
	r := &Result{Total: 1, Success: 1, Items: []OutputItem{{ID: "item-1", Success: true}}}
	out, err := r.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"total": 1`) {
		t.Errorf("Unexpected JSON %s", out)
	}
}

func TestProgressTracker(t *testing.T) {
	p := &ProgressTracker{Total: 4, StartTime: time.Now().Add(-2 * time.Second)}
	if p.ETA() != 0 {
		t.Error("ETA should be zero before any item completes")
	}
	if n := p.Increment(); n != 1 {
		t.Errorf("Expected 1, got %d", n)
	}
	if p.Percent() != 25 {
		t.Errorf("Expected 25%%, got %v", p.Percent())
	}
	if eta := p.ETA(); eta < 5*time.Second {
		t.Errorf("Expected ETA of about 6s, got %v", eta)
	}
}

func TestPacer(t *testing.T) {
	var nilPacer *pacer
	if err := nilPacer.Wait(context.Background()); err != nil {
		t.Errorf("nil pacer should not fail: %v", err)
	}
	if newPacer(0) != nil {
		t.Error("zero rate should disable pacing")
	}

	p := newPacer(6)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	if err := p.Wait(ctx); err == nil {
		t.Error("second call should exceed the deadline")
	}
}
