package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/api"
	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/channels"
	"github.com/gmsas95/careclock-cli/internal/channels/discord"
	"github.com/gmsas95/careclock-cli/internal/channels/telegram"
	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/metrics"
	"github.com/gmsas95/careclock-cli/internal/reminder"
	"github.com/gmsas95/careclock-cli/internal/render"
	"github.com/gmsas95/careclock-cli/internal/store"
)

type App struct {
	Config  *config.Config
	Store   *store.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Version string

	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	Runner      *reminder.Runner

	now     func() time.Time
	mu      sync.Mutex
	backend api.Backend
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: metrics.Default(),
		Version: version,
		now:     time.Now,
	}
}

// NewLogger builds the zap logger selected by the log section
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "invalid log.level")
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// SetBackend replaces the care API client, mainly for tests
func (a *App) SetBackend(b api.Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backend = b
}

// Backend returns the care API client, creating it on first use
func (a *App) Backend() (api.Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != nil {
		return a.backend, nil
	}
	if err := a.Config.RequireAPI(); err != nil {
		return nil, err
	}
	client, err := careapi.New(a.Config.API, careapi.WithMetrics(a.Metrics), careapi.WithLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	a.backend = client
	return client, nil
}

// CareRecipientID prefers the configured id over the one kept in the store
func (a *App) CareRecipientID() (string, error) {
	if a.Config.CareRecipientID != "" {
		return a.Config.CareRecipientID, nil
	}
	return a.Store.CareRecipientID()
}

func (a *App) Classifier() *dose.Classifier {
	return dose.NewClassifier(a.Config.Thresholds())
}

// Doses returns the dose list of the care recipient. offline reads the cache only; otherwise
// the cache is refreshed and used as a fallback while the API is unreachable.
func (a *App) Doses(ctx context.Context, offline bool) (doses []dose.Dose, stale bool, err error) {
	cid, err := a.CareRecipientID()
	if err != nil {
		return nil, false, err
	}
	if offline {
		snap, err := a.Store.LoadSnapshot(cid)
		if err != nil {
			return nil, false, err
		}
		return snap.Doses, true, nil
	}

	backend, err := a.Backend()
	if err != nil {
		return nil, false, err
	}
	doses, err = backend.UpcomingDoses(ctx, cid)
	if err == nil {
		a.saveSnapshot(cid, doses)
		return doses, false, nil
	}
	if !careapi.Retryable(err) {
		return nil, false, err
	}

	snap, serr := a.Store.LoadSnapshot(cid)
	if serr != nil {
		return nil, false, err
	}
	a.Logger.Warn("Care API unavailable, using cached doses",
		zap.Time("fetched_at", snap.FetchedAt),
		zap.Error(err),
	)
	return snap.Doses, true, nil
}

func (a *App) saveSnapshot(cid string, doses []dose.Dose) {
	if err := a.Store.SaveSnapshot(store.Snapshot{CareRecipientID: cid, FetchedAt: a.now(), Doses: doses}); err != nil {
		a.Logger.Warn("Failed to cache doses", zap.Error(err))
	}
}

// Views classifies the dose list against the current time
func (a *App) Views(ctx context.Context, offline bool) ([]dose.GroupView, bool, error) {
	doses, stale, err := a.Doses(ctx, offline)
	if err != nil {
		return nil, false, err
	}
	return a.ViewsOf(doses), stale, nil
}

// ViewsOf groups and classifies doses against the App clock
func (a *App) ViewsOf(doses []dose.Dose) []dose.GroupView {
	return a.Classifier().Views(doses, a.now())
}

// View classifies a single dose against the App clock
func (a *App) View(d dose.Dose) dose.View {
	return dose.View{Dose: d, Classification: a.Classifier().Classify(d, a.now())}
}

// TakeResult describes a mark-as-taken request
type TakeResult struct {
	Dose   dose.Dose
	Queued bool
}

// TakeDose marks doseID as taken. When the API is unreachable the request is queued and
// sent by the next Sync.
func (a *App) TakeDose(ctx context.Context, doseID string) (*TakeResult, error) {
	cid, err := a.CareRecipientID()
	if err != nil {
		return nil, err
	}
	doses, _, err := a.Doses(ctx, false)
	if err != nil {
		return nil, err
	}
	d, ok := dose.Find(doses, doseID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrDoseNotFound.Code, fmt.Sprintf("dose %s not found", doseID))
	}
	if !d.CanMarkTaken() {
		return nil, apperrors.New(apperrors.ErrDoseNotActionable.Code, "dose cannot be marked as taken")
	}

	backend, err := a.Backend()
	if err != nil {
		return nil, err
	}

	res := &TakeResult{Dose: d}
	if err := backend.MarkTaken(ctx, cid, d.MedicationID, d.DueAt); err != nil {
		if !careapi.Retryable(err) {
			return nil, err
		}
		if qerr := a.Store.EnqueueTaken(store.PendingTaken{
			CareRecipientID: cid,
			DoseID:          d.DoseID,
			MedicationID:    d.MedicationID,
			DueAt:           d.DueAt,
			QueuedAt:        a.now(),
		}); qerr != nil {
			return nil, qerr
		}
		a.Logger.Warn("Care API unavailable, queued taken dose", zap.String("dose_id", d.DoseID), zap.Error(err))
		res.Queued = true
	}

	if err := a.Store.RecordTaken(&store.TakenRecord{
		DoseID:          d.DoseID,
		MedicationID:    d.MedicationID,
		CareRecipientID: cid,
		DueAt:           d.DueAt,
		Queued:          res.Queued,
	}); err != nil {
		a.Logger.Warn("Failed to record taken dose", zap.Error(err))
	}
	a.saveSnapshot(cid, dose.MarkTaken(doses, doseID))
	return res, nil
}

// SetMedicationActive pauses or resumes a medication and updates the cached doses
func (a *App) SetMedicationActive(ctx context.Context, medicationID string, active bool) error {
	backend, err := a.Backend()
	if err != nil {
		return err
	}
	if err := backend.SetMedicationActive(ctx, medicationID, active); err != nil {
		return err
	}

	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}
	if snap, err := a.Store.LoadSnapshot(cid); err == nil {
		a.saveSnapshot(cid, dose.SetMedicationActive(snap.Doses, medicationID, active))
	}
	return nil
}

// Sync sends queued taken doses. It stops at the first request the API rejects for a
// temporary reason and leaves the rest queued.
func (a *App) Sync(ctx context.Context) (int, error) {
	backend, err := a.Backend()
	if err != nil {
		return 0, err
	}

	n, err := a.Store.DrainTaken(func(p store.PendingTaken) error {
		err := backend.MarkTaken(ctx, p.CareRecipientID, p.MedicationID, p.DueAt)
		if err != nil && !careapi.Retryable(err) {
			// the API will never accept it, drop it
			a.Logger.Warn("Dropping queued taken dose", zap.String("dose_id", p.DoseID), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		if err := a.Store.MarkSynced(p.DoseID); err != nil {
			a.Logger.Warn("Failed to update taken history", zap.Error(err))
		}
		return nil
	})
	if n > 0 {
		a.Logger.Info("Synced queued taken doses", zap.Int("count", n))
	}
	return n, err
}

// Summary is the plain text dose list sent by the Telegram /doses command
func (a *App) Summary(ctx context.Context) (string, error) {
	groups, stale, err := a.Views(ctx, false)
	if err != nil {
		return "", errors.New(careapi.Message(err))
	}
	var buf bytes.Buffer
	if stale {
		buf.WriteString("(cached, the care API is unreachable)\n\n")
	}
	if err := render.Text(&buf, groups, render.Options{}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Notifiers builds the alert channels enabled in the configuration
func (a *App) Notifiers() ([]channels.Notifier, error) {
	notifiers := []channels.Notifier{channels.NewLogNotifier(a.Logger)}

	tg := a.Config.Channels.Telegram
	if tg.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:   tg.BotToken,
			Enabled: tg.Enabled,
			ChatIDs: tg.ChatIDs,
		}, a.Summary, a.Logger)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrChannelUnavailable.Code, "telegram")
		}
		if bot.Enabled() {
			a.TelegramBot = bot
			notifiers = append(notifiers, bot)
		}
	}

	dc := a.Config.Channels.Discord
	if dc.Enabled {
		bot, err := discord.NewBot(discord.Config{
			Token:      dc.Token,
			Enabled:    dc.Enabled,
			ChannelIDs: dc.ChannelIDs,
		}, a.Logger)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrChannelUnavailable.Code, "discord")
		}
		if bot.Enabled() {
			a.DiscordBot = bot
			notifiers = append(notifiers, bot)
		}
	}
	return notifiers, nil
}

// NewChecker builds the reminder checker with the configured channels
func (a *App) NewChecker() (*reminder.Checker, error) {
	backend, err := a.Backend()
	if err != nil {
		return nil, err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return nil, err
	}
	notifiers, err := a.Notifiers()
	if err != nil {
		return nil, err
	}
	return reminder.NewChecker(backend, a.Store, reminder.Options{
		CareRecipientID: cid,
		Thresholds:      a.Config.Thresholds(),
		UrgentAlerts:    a.Config.Reminder.UrgentAlerts,
		Notifiers:       notifiers,
		Metrics:         a.Metrics,
		Logger:          a.Logger,
	}), nil
}

// CheckOnce runs a single reminder check
func (a *App) CheckOnce(ctx context.Context) (*reminder.Result, error) {
	checker, err := a.NewChecker()
	if err != nil {
		return nil, err
	}
	return checker.Check(ctx, a.now())
}

// startReminders starts the runner and the Telegram command loop. onResult sees every
// successful check.
func (a *App) startReminders(ctx context.Context, onResult func(*reminder.Result)) (*reminder.Checker, error) {
	checker, err := a.NewChecker()
	if err != nil {
		return nil, err
	}

	if a.TelegramBot != nil {
		if err := a.TelegramBot.Start(); err != nil {
			a.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			a.Logger.Info("Telegram bot started")
		}
	}

	if !a.Config.Reminder.Enabled {
		a.Logger.Info("Reminders disabled")
		return checker, nil
	}

	runner, err := reminder.NewRunner(reminder.RunnerConfig{
		Schedule: a.Config.Reminder.Schedule,
		OnResult: func(res *reminder.Result) {
			if _, err := a.Sync(ctx); err != nil {
				a.Logger.Debug("Queued taken doses not synced yet", zap.Error(err))
			}
			if onResult != nil {
				onResult(res)
			}
		},
	}, checker, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := runner.Start(); err != nil {
		return nil, err
	}
	a.Runner = runner
	a.Logger.Info("Reminder runner started", zap.String("schedule", a.Config.Reminder.Schedule))
	return checker, nil
}

func (a *App) stopReminders() {
	if a.TelegramBot != nil {
		a.TelegramBot.Stop()
	}
	if a.Runner != nil {
		a.Runner.Stop()
	}
}

// watchConfig applies threshold edits to the running checker and hands the new config
// to apply. Missing config files are not watched.
func (a *App) watchConfig(checker *reminder.Checker, apply func(*config.Config)) {
	if a.Config.Path() == "" {
		return
	}
	err := config.Watch(a.Config.Path(), a.Config.Storage.DataDir, func(cfg *config.Config) {
		checker.Reconfigure(cfg.Thresholds(), cfg.Reminder.UrgentAlerts)
		if apply != nil {
			apply(cfg)
		}
		a.Logger.Info("Configuration reloaded",
			zap.Duration("missed_after", cfg.Dose.MissedAfter),
			zap.Duration("urgent_within", cfg.Dose.UrgentWithin),
		)
	}, func(err error) {
		a.Logger.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
	if err != nil {
		a.Logger.Warn("Config watcher not started", zap.Error(err))
	}
}

// RunWatch sends reminders until ctx is done
func (a *App) RunWatch(ctx context.Context) error {
	if !a.Config.Reminder.Enabled {
		return apperrors.New(apperrors.ErrConfigInvalid.Code, "reminder.enabled is false")
	}
	checker, err := a.startReminders(ctx, nil)
	if err != nil {
		return err
	}
	a.watchConfig(checker, nil)

	<-ctx.Done()
	a.Logger.Info("Shutting down...")
	a.stopReminders()
	return nil
}

// RunServer serves the dashboard and sends reminders until ctx is done
func (a *App) RunServer(ctx context.Context) error {
	backend, err := a.Backend()
	if err != nil {
		return err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}

	api.Version = a.Version
	server := api.New(a.Config, a.Store, backend, cid, a.Metrics, a.Logger)

	checker, err := a.startReminders(ctx, func(res *reminder.Result) {
		server.Broadcast(res.Groups)
	})
	if err != nil {
		return err
	}
	a.watchConfig(checker, func(cfg *config.Config) {
		server.SetThresholds(cfg.Thresholds())
	})

	go server.RunRefresh(ctx, a.Config.Server.RefreshInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	a.Logger.Info("Server started",
		zap.String("address", a.Config.Server.Address),
		zap.Int("port", a.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		zap.String("care_recipient_id", cid),
	)

	select {
	case <-ctx.Done():
		a.Logger.Info("Shutting down...")
	case err = <-errCh:
		a.Logger.Error("Server error", zap.Error(err))
	}

	a.stopReminders()
	if serr := server.Shutdown(); serr != nil {
		a.Logger.Error("Server shutdown error", zap.Error(serr))
	}
	return err
}
