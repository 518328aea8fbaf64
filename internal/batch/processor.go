// Package batch registers many medications from one file with a bounded worker pool
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/medication"
)

// Creator registers one medication
type Creator interface {
	CreateMedication(ctx context.Context, p medication.Payload) error
}

type Processor struct {
	creator Creator
	config  Config
	logger  *zap.Logger
}

type Config struct {
	MaxConcurrency int
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	// RatePerMinute caps created medications per minute, 0 means unlimited
	RatePerMinute int
	// SkipInvalid drops undecodable records instead of failing the whole file
	SkipInvalid bool
	// DryRun validates every entry without calling the API
	DryRun bool
}

// Entry is one medication in an import file
type Entry struct {
	ID         string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string   `json:"name" yaml:"name"`
	Dosage     string   `json:"dosage" yaml:"dosage"`
	Notes      string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	Recurrence string   `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
	Times      []string `json:"times,omitempty" yaml:"times,omitempty"`
	// Days holds weekday numbers (0 = Sunday) or names
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"`
	Inactive bool     `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// Form converts the entry into a medication form. Missing times or days keep the form
// defaults.
func (e Entry) Form() (*medication.Form, error) {
	f := medication.NewForm()
	f.Name = e.Name
	f.Dosage = e.Dosage
	f.Notes = e.Notes
	f.Active = !e.Inactive

	if e.Recurrence != "" {
		r, err := medication.ParseRecurrence(e.Recurrence)
		if err != nil {
			return nil, err
		}
		f.Recurrence = r
	}

	if len(e.Times) > 0 {
		f.TimesOfDay = nil
		for _, t := range e.Times {
			if err := f.AddTime(t); err != nil {
				return nil, err
			}
		}
	}

	if len(e.Days) > 0 {
		f.DaysOfWeek = nil
		for _, s := range e.Days {
			d, err := medication.ParseDay(s)
			if err != nil {
				return nil, err
			}
			f.AddDay(d)
		}
	}
	return f, nil
}

type OutputItem struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule,omitempty"`
	Attempts     int           `json:"attempts"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Skipped      bool          `json:"skipped,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Items     []OutputItem  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Timeout:        30 * time.Second,
		RetryCount:     2,
		RetryDelay:     1 * time.Second,
		RatePerMinute:  60,
		SkipInvalid:    true,
	}
}

func NewProcessor(creator Creator, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		creator: creator,
		config:  cfg,
		logger:  logger,
	}
}

// ProcessFile imports every entry of inputPath for careRecipientID and optionally writes
// a report to outputPath.
func (p *Processor) ProcessFile(ctx context.Context, careRecipientID, inputPath, outputPath string) (*Result, error) {
	entries, err := p.loadInputFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load input file: %w", err)
	}

	result := p.Process(ctx, careRecipientID, entries)

	if outputPath != "" {
		if err := p.saveOutputFile(outputPath, result); err != nil {
			return result, fmt.Errorf("failed to save output file: %w", err)
		}
	}
	return result, nil
}

// Process imports entries. Items come back in input order.
func (p *Processor) Process(ctx context.Context, careRecipientID string, entries []Entry) *Result {
	startTime := time.Now()
	result := &Result{
		Total:     len(entries),
		StartTime: startTime,
		Items:     make([]OutputItem, len(entries)),
	}

	concurrency := p.config.MaxConcurrency
	if concurrency > len(entries) {
		concurrency = len(entries)
	}

	p.logger.Info("Starting medication import",
		zap.Int("total_items", len(entries)),
		zap.Int("concurrency", concurrency),
		zap.Int("rpm_limit", p.config.RatePerMinute),
		zap.Bool("dry_run", p.config.DryRun),
	)

	pacer := newPacer(p.config.RatePerMinute)
	progress := &ProgressTracker{Total: len(entries), StartTime: startTime}

	type job struct {
		index int
		entry Entry
	}
	jobs := make(chan job, len(entries))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result.Items[j.index] = p.processItem(ctx, careRecipientID, j.index, j.entry, pacer)
				if n := progress.Increment(); n%25 == 0 {
					p.logger.Info("Import progress",
						zap.Int("completed", n),
						zap.Int("total", progress.Total),
						zap.Float64("percent", progress.Percent()),
						zap.Duration("eta", progress.ETA()),
					)
				}
			}
		}()
	}

	for i, e := range entries {
		jobs <- job{index: i, entry: e}
	}
	close(jobs)
	wg.Wait()

	for _, item := range result.Items {
		switch {
		case item.Success:
			result.Success++
		case item.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	p.logger.Info("Medication import complete",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (p *Processor) processItem(ctx context.Context, careRecipientID string, index int, e Entry, pacer *pacer) OutputItem {
	output := OutputItem{
		ID:        e.ID,
		Name:      strings.TrimSpace(e.Name),
		Timestamp: time.Now(),
	}
	if output.ID == "" {
		output.ID = fmt.Sprintf("item-%d", index+1)
	}

	form, err := e.Form()
	if err != nil {
		output.Skipped = true
		output.Error = err.Error()
		return output
	}
	payload, err := form.Build(careRecipientID)
	if err != nil {
		output.Skipped = true
		output.Error = err.Error()
		return output
	}
	output.Schedule = payload.Schedule()

	if p.config.DryRun {
		output.Success = true
		return output
	}

	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		if err = pacer.Wait(ctx); err != nil {
			break
		}

		output.Attempts++
		reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		start := time.Now()
		err = p.creator.CreateMedication(reqCtx, payload)
		output.ResponseTime = time.Since(start)
		cancel()

		if err == nil || !careapi.Retryable(err) || attempt == p.config.RetryCount {
			break
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(p.config.RetryDelay):
			continue
		}
		break
	}

	if err != nil {
		output.Error = careapi.Message(err)
		p.logger.Warn("Medication import failed",
			zap.String("id", output.ID),
			zap.String("name", output.Name),
			zap.Int("attempts", output.Attempts),
			zap.Error(err),
		)
		return output
	}

	output.Success = true
	return output
}

func (p *Processor) loadInputFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return p.loadYAMLFile(file)
	case ".json", ".jsonl", ".ndjson":
		return p.loadJSONFile(file)
	default:
		return p.loadTextFile(file)
	}
}

func (p *Processor) loadYAMLFile(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return entries, nil
}

// loadJSONFile accepts a single array or a stream of objects (JSON Lines)
func (p *Processor) loadJSONFile(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	decoder := json.NewDecoder(br)
	if first == '[' {
		var entries []Entry
		if err := decoder.Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
		return entries, nil
	}

	var entries []Entry
	for decoder.More() {
		var e Entry
		if err := decoder.Decode(&e); err != nil {
			var syntaxErr *json.SyntaxError
			if p.config.SkipInvalid && !errors.As(err, &syntaxErr) {
				continue
			}
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// loadTextFile reads one "name | dosage | times" line per medication. Times are
// separated by commas and always make a daily schedule.
func (p *Processor) loadTextFile(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "|")
		e := Entry{ID: fmt.Sprintf("line-%d", lineNum), Name: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			e.Dosage = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			for _, t := range strings.Split(fields[2], ",") {
				if t = strings.TrimSpace(t); t != "" {
					e.Times = append(e.Times, t)
				}
			}
		}
		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return entries, nil
}

func (p *Processor) saveOutputFile(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	for _, item := range result.Items {
		fmt.Fprintf(file, "=== %s ===\n", item.ID)
		fmt.Fprintf(file, "Name: %s\n", item.Name)
		if item.Schedule != "" {
			fmt.Fprintf(file, "Schedule: %s\n", item.Schedule)
		}
		switch {
		case item.Success:
			fmt.Fprintf(file, "Status: created\n")
		case item.Skipped:
			fmt.Fprintf(file, "Status: skipped\n")
		default:
			fmt.Fprintf(file, "Status: failed\n")
		}
		if item.Error != "" {
			fmt.Fprintf(file, "Error: %s\n", item.Error)
		}
		fmt.Fprintf(file, "Attempts: %d | Time: %v\n\n", item.Attempts, item.ResponseTime)
	}

	return nil
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Medication Import Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Created:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration.Round(time.Millisecond)))
	return sb.String()
}

func (r *Result) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
