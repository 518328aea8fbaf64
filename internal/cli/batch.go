package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/batch"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
)

func handleImport(ctx context.Context, s *session, args []string) error {
	fs := newFlags(s, "import", "import -i FILE [-o FILE] [-c N] [-t 30s] [--dry-run]")
	fs.Usage = func() { PrintImportHelp(s.errOut) }

	defaults := batch.DefaultConfig()
	var inputFile, outputFile string
	fs.StringVar(&inputFile, "i", "", "Input file")
	fs.StringVar(&inputFile, "input", "", "Input file")
	fs.StringVar(&outputFile, "o", "", "Output file")
	fs.StringVar(&outputFile, "output", "", "Output file")
	concurrency := fs.Int("c", defaults.MaxConcurrency, "Concurrent requests")
	timeout := fs.Duration("t", defaults.Timeout, "Timeout per medication")
	perMinute := fs.Int("rate", defaults.RatePerMinute, "Medications created per minute, 0 for unlimited")
	dryRun := fs.Bool("dry-run", false, "Validate without creating")
	strict := fs.Bool("strict", false, "Fail on the first undecodable record")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if inputFile == "" {
		PrintImportHelp(s.errOut)
		return apperrors.New(apperrors.ErrBadRequest.Code, "an input file is required")
	}
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return apperrors.New(apperrors.ErrBadRequest.Code, fmt.Sprintf("input file not found: %s", inputFile))
	}

	a, err := s.App()
	if err != nil {
		return err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}

	cfg := defaults
	cfg.MaxConcurrency = *concurrency
	cfg.Timeout = *timeout
	cfg.RatePerMinute = *perMinute
	cfg.DryRun = *dryRun
	cfg.SkipInvalid = !*strict

	var creator batch.Creator
	if !cfg.DryRun {
		backend, err := a.Backend()
		if err != nil {
			return err
		}
		creator = backend
	}

	processor := batch.NewProcessor(creator, cfg, a.Logger)

	verb := "Importing"
	if cfg.DryRun {
		verb = "Validating"
	}
	fmt.Fprintf(s.out, "%s %s (concurrency %d, timeout %s)\n", verb, inputFile, cfg.MaxConcurrency, cfg.Timeout)

	start := time.Now()
	result, err := processor.ProcessFile(ctx, cid, inputFile, outputFile)
	if err != nil && result == nil {
		return err
	}

	for _, item := range result.Items {
		switch {
		case item.Success:
			fmt.Fprintf(s.out, "  ✓ %s  %s\n", item.Name, item.Schedule)
		case item.Skipped:
			fmt.Fprintf(s.out, "  - %s  skipped: %s\n", item.ID, item.Error)
		default:
			fmt.Fprintf(s.out, "  ✗ %s  %s\n", item.Name, item.Error)
		}
	}
	fmt.Fprintln(s.out)
	fmt.Fprint(s.out, result.Summary())
	if outputFile != "" && err == nil {
		fmt.Fprintf(s.out, "Results written to %s\n", outputFile)
	}
	a.Logger.Debug("Import finished", zap.Duration("elapsed", time.Since(start)))

	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return apperrors.New(apperrors.ErrAPIRequest.Code, fmt.Sprintf("%d of %d medications failed", result.Failed, result.Total))
	}
	return nil
}
