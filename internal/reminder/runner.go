package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule checks once a minute, matching the dose list refresh of the UI
const DefaultSchedule = "@every 1m"

// checkTimeout bounds a single check
const checkTimeout = 30 * time.Second

// RunnerConfig holds reminder runner configuration
type RunnerConfig struct {
	Schedule string
	// OnResult is called after every successful check
	OnResult func(*Result)
}

// Runner manages scheduled check execution
type Runner struct {
	config  RunnerConfig
	checker *Checker
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// ValidateSchedule reports whether s is a cron expression or descriptor the runner accepts
func ValidateSchedule(s string) error {
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s, err)
	}
	return nil
}

// NewRunner creates a new reminder runner
func NewRunner(config RunnerConfig, checker *Checker, logger *zap.Logger) (*Runner, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if err := ValidateSchedule(config.Schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		config:  config,
		checker: checker,
		// a slow API must not stack checks on top of each other
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the runner and checks once immediately
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reminder runner already running")
	}

	if _, err := r.cron.AddFunc(r.config.Schedule, r.tick); err != nil {
		return err
	}

	r.running = true
	r.cron.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.tick()
	}()

	r.logger.Info("Reminder runner started", zap.String("schedule", r.config.Schedule))
	return nil
}

// Stop stops the runner and waits for a running check to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.logger.Info("Reminder runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// RunOnce performs a single check outside the schedule
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return r.checker.Check(ctx, r.now())
}

func (r *Runner) tick() {
	if r.ctx.Err() != nil {
		return
	}

	res, err := r.RunOnce(r.ctx)
	if err != nil {
		r.logger.Error("Reminder check failed", zap.Error(err))
		return
	}

	if len(res.Alerts) > 0 {
		r.logger.Info("Reminder alerts sent", zap.Int("count", len(res.Alerts)))
	}
	if r.config.OnResult != nil {
		r.config.OnResult(res)
	}
}
