package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gmsas95/careclock-cli/internal/api"
	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/medication"
	"github.com/gmsas95/careclock-cli/internal/onboarding"
	"github.com/gmsas95/careclock-cli/internal/render"
	"github.com/gmsas95/careclock-cli/internal/tui"
)

var Version = "dev"

type command struct {
	run         func(ctx context.Context, s *session, args []string) error
	longRunning bool
}

var commands = map[string]command{
	"doses":          {run: handleDoses},
	"show":           {run: handleShow},
	"take":           {run: handleTake},
	"add-medication": {run: handleAddMedication},
	"deactivate":     {run: handleSetActive(false)},
	"activate":       {run: handleSetActive(true)},
	"whoami":         {run: handleWhoami},
	"set-recipient":  {run: handleSetRecipient},
	"sync":           {run: handleSync},
	"check":          {run: handleCheck},
	"import":         {run: handleImport},
	"token":          {run: handleToken},
	"config":         {run: handleConfig},
	"status":         {run: handleStatus},
	"init":           {run: handleInit},
	"tui":            {run: handleTUI},
	"serve":          {run: handleServe, longRunning: true},
	"watch":          {run: handleWatch, longRunning: true},
}

// Run executes the command line and returns the process exit code
func Run(args []string) int {
	return run(args, os.Stdin, os.Stdout, os.Stderr)
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	global := flag.NewFlagSet("careclock", flag.ContinueOnError)
	global.SetOutput(errOut)
	configPath := global.String("config", "", "Path to config file")
	dataDir := global.String("data", "", "Path to data directory")
	global.Usage = func() { PrintHelp(out) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		PrintHelp(out)
		return 0
	}

	name, cmdArgs := rest[0], rest[1:]
	switch name {
	case "help", "--help", "-h":
		PrintHelp(out)
		return 0
	case "version", "--version", "-v":
		fmt.Fprintf(out, "careclock version %s\n", Version)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(errOut, "Unknown command: %s\n\n", name)
		PrintHelp(errOut)
		return 2
	}

	s := &session{
		configPath:  *configPath,
		dataDir:     *dataDir,
		in:          in,
		out:         out,
		errOut:      errOut,
		longRunning: cmd.longRunning,
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, s, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "❌ %s\n", errorText(err))
		return 1
	}
	return 0
}

func errorText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrBaseURLMissing.Code:
			return appErr.Message + " (run 'careclock init' or set CARECLOCK_API_BASE_URL)"
		case apperrors.ErrSnapshotNotFound.Code:
			return "no cached doses yet, run 'careclock doses' while online first"
		}
		if appErr.Cause == nil {
			return appErr.Message
		}
	}
	return careapi.Message(err)
}

func newFlags(s *session, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(s.errOut)
	fs.Usage = func() {
		fmt.Fprintf(s.errOut, "Usage: careclock %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func renderOptions(s *session) render.Options {
	f, isFile := s.out.(*os.File)
	if !isFile {
		return render.Options{Width: 80}
	}
	return render.Options{Color: render.DetectColor(f), Width: render.TerminalWidth(f, 80)}
}

func handleDoses(ctx context.Context, s *session, args []string) error {
	fs := newFlags(s, "doses", "doses [--format text|json|yaml] [--offline] [--ids]")
	format := fs.String("format", "text", "Output format: text, json or yaml")
	offline := fs.Bool("offline", false, "Show the cached list without calling the care API")
	showIDs := fs.Bool("ids", false, "Print dose ids")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := render.ParseFormat(*format)
	if err != nil {
		return err
	}

	a, err := s.App()
	if err != nil {
		return err
	}
	groups, stale, err := a.Views(ctx, *offline)
	if err != nil {
		return err
	}
	if stale && !*offline {
		fmt.Fprintln(s.errOut, "⚠️  Care API unreachable, showing cached doses")
	}

	opts := renderOptions(s)
	opts.ShowIDs = *showIDs
	return render.List(s.out, f, groups, opts)
}

func handleShow(ctx context.Context, s *session, args []string) error {
	fs := newFlags(s, "show", "show [--offline] <doseId>")
	offline := fs.Bool("offline", false, "Use the cached list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return apperrors.New(apperrors.ErrBadRequest.Code, "a dose id is required")
	}

	a, err := s.App()
	if err != nil {
		return err
	}
	doses, _, err := a.Doses(ctx, *offline)
	if err != nil {
		return err
	}
	d, ok := dose.Find(doses, fs.Arg(0))
	if !ok {
		return apperrors.New(apperrors.ErrDoseNotFound.Code, fmt.Sprintf("dose %s not found", fs.Arg(0)))
	}

	v := a.View(d)
	card, err := render.Detail(v, renderOptions(s))
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, card)
	return nil
}

func handleTake(ctx context.Context, s *session, args []string) error {
	fs := newFlags(s, "take", "take <doseId>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return apperrors.New(apperrors.ErrBadRequest.Code, "a dose id is required")
	}

	a, err := s.App()
	if err != nil {
		return err
	}
	res, err := a.TakeDose(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	name := res.Dose.Medication.Name
	if name == "" {
		name = "Medication"
	}
	if res.Queued {
		fmt.Fprintf(s.out, "⏳ Care API unreachable, %s is queued. Run 'careclock sync' once you are back online.\n", name)
		return nil
	}
	fmt.Fprintf(s.out, "✓ Marked %s as taken\n", name)
	return nil
}

// stringList collects a repeatable flag
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func handleAddMedication(ctx context.Context, s *session, args []string) error {
	fs := newFlags(s, "add-medication", "add-medication --name NAME --dosage DOSAGE [--notes TEXT] [--recurrence daily|weekly] [--time HH:MM ...] [--day mon ...] [--inactive]")
	name := fs.String("name", "", "Medication name")
	dosage := fs.String("dosage", "", "Dosage, e.g. 500mg")
	notes := fs.String("notes", "", "Free-form notes")
	recurrence := fs.String("recurrence", string(medication.RecurrenceDaily), "daily or weekly")
	inactive := fs.Bool("inactive", false, "Create the medication paused")
	var times, days stringList
	fs.Var(&times, "time", "Time of day HH:MM, repeatable (daily)")
	fs.Var(&days, "day", "Weekday name or 0-6, repeatable (weekly)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	form := medication.NewForm()
	form.Name = *name
	form.Dosage = *dosage
	form.Notes = *notes
	form.Active = !*inactive

	rec, err := medication.ParseRecurrence(*recurrence)
	if err != nil {
		return err
	}
	form.Recurrence = rec

	if len(times) > 0 {
		form.TimesOfDay = nil
		for _, t := range times {
			if err := form.AddTime(t); err != nil {
				return err
			}
		}
	}
	if len(days) > 0 {
		form.DaysOfWeek = nil
		for _, d := range days {
			day, err := medication.ParseDay(d)
			if err != nil {
				return err
			}
			form.AddDay(day)
		}
	}

	a, err := s.App()
	if err != nil {
		return err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}
	payload, err := form.Build(cid)
	if err != nil {
		return err
	}

	backend, err := a.Backend()
	if err != nil {
		return err
	}
	if err := backend.CreateMedication(ctx, payload); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "✓ Added %s %s (%s)\n", payload.Name, payload.Dosage, payload.Schedule())
	return nil
}

func handleSetActive(active bool) func(context.Context, *session, []string) error {
	verb := "deactivate"
	if active {
		verb = "activate"
	}
	return func(ctx context.Context, s *session, args []string) error {
		fs := newFlags(s, verb, verb+" <medicationId>")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			fs.Usage()
			return apperrors.New(apperrors.ErrBadRequest.Code, "a medication id is required")
		}

		a, err := s.App()
		if err != nil {
			return err
		}
		if err := a.SetMedicationActive(ctx, fs.Arg(0), active); err != nil {
			return err
		}
		if active {
			fmt.Fprintf(s.out, "✓ Medication %s is active again\n", fs.Arg(0))
		} else {
			fmt.Fprintf(s.out, "✓ Medication %s is paused, its doses can no longer be marked taken\n", fs.Arg(0))
		}
		return nil
	}
}

func handleWhoami(_ context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}
	source := "local store"
	if a.Config.CareRecipientID != "" {
		source = "config"
	}
	fmt.Fprintf(s.out, "%s (%s)\n", cid, source)
	return nil
}

func handleSetRecipient(_ context.Context, s *session, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(s.errOut, "Usage: careclock set-recipient <careRecipientId>")
		return apperrors.New(apperrors.ErrBadRequest.Code, "a care recipient id is required")
	}
	st, err := s.Store()
	if err != nil {
		return err
	}
	if err := st.SetCareRecipientID(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "✓ Care recipient set to %s\n", strings.TrimSpace(args[0]))
	if s.cfg != nil && s.cfg.CareRecipientID != "" {
		fmt.Fprintln(s.out, "Note: care_recipient_id in the config file still takes precedence")
	}
	return nil
}

func handleSync(ctx context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	n, err := a.Sync(ctx)
	if n > 0 {
		fmt.Fprintf(s.out, "✓ Synced %d queued dose(s)\n", n)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(s.out, "Nothing to sync")
	}
	return nil
}

func handleCheck(ctx context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	res, err := a.CheckOnce(ctx)
	if err != nil {
		return err
	}
	if len(res.Alerts) == 0 {
		fmt.Fprintln(s.out, "No new alerts")
		return nil
	}
	for _, alert := range res.Alerts {
		fmt.Fprintln(s.out, alert.Text())
		fmt.Fprintln(s.out)
	}
	fmt.Fprintf(s.out, "%d alert(s) sent\n", len(res.Alerts))
	return nil
}

func handleToken(_ context.Context, s *session, args []string) error {
	fs := newFlags(s, "token", "token [--subject NAME] [--ttl 720h]")
	subject := fs.String("subject", "dashboard", "Token subject")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := s.Config()
	if err != nil {
		return err
	}
	token, err := api.IssueToken(cfg.Server.JWTSecret, *subject, *ttl)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "cannot issue token")
	}
	fmt.Fprintln(s.out, token)
	return nil
}

func handleTUI(ctx context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	backend, err := a.Backend()
	if err != nil {
		return err
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}
	return tui.Run(ctx, backend, tui.Options{
		CareRecipientID: cid,
		Thresholds:      a.Config.Thresholds(),
		Color:           renderOptions(s).Color,
		Output:          s.out,
	})
}

func handleServe(ctx context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Starting careclock server on http://%s\n", a.Config.ListenAddr())
	return a.RunServer(ctx)
}

func handleWatch(ctx context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Watching doses (%s), press Ctrl+C to stop\n", a.Config.Reminder.Schedule)
	return a.RunWatch(ctx)
}

func handleInit(_ context.Context, s *session, _ []string) error {
	logger, err := s.Logger()
	if err != nil {
		return err
	}
	wizard := onboarding.NewWizard(s.in, s.out, logger)
	path, err := wizard.Run(s.cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("onboarding failed: %w", err)
	}

	// the file was just written, read it back so the store lands in the right place
	s.cfg = nil
	s.configPath = path
	s.dataDir = filepath.Dir(path)
	st, err := s.Store()
	if err != nil {
		return err
	}
	cid, err := st.CareRecipientID()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Care recipient: %s\n", cid)
	return nil
}

func handleConfig(_ context.Context, s *session, args []string) error {
	if len(args) == 0 {
		PrintConfigHelp(s.out)
		return nil
	}
	cfg, err := s.Config()
	if err != nil {
		return err
	}

	switch args[0] {
	case "path":
		if cfg.Path() == "" {
			fmt.Fprintln(s.out, "(no config file, using defaults and environment)")
			return nil
		}
		fmt.Fprintln(s.out, cfg.Path())

	case "get":
		if len(args) < 2 {
			fmt.Fprintln(s.errOut, "Usage: careclock config get <key>")
			return apperrors.New(apperrors.ErrBadRequest.Code, "a key is required")
		}
		v, ok := configValue(cfg, args[1])
		if !ok {
			return apperrors.New(apperrors.ErrBadRequest.Code,
				fmt.Sprintf("unknown key %s, available: %s", args[1], strings.Join(configKeys(), ", ")))
		}
		fmt.Fprintln(s.out, v)

	case "show", "view":
		data, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, string(data))

	default:
		PrintConfigHelp(s.out)
	}
	return nil
}

var configGetters = map[string]func(*config.Config) string{
	"api.base_url":              func(c *config.Config) string { return c.API.BaseURL },
	"dose.missed_after":         func(c *config.Config) string { return c.Dose.MissedAfter.String() },
	"dose.urgent_within":        func(c *config.Config) string { return c.Dose.UrgentWithin.String() },
	"storage.data_dir":          func(c *config.Config) string { return c.Storage.DataDir },
	"server.address":            func(c *config.Config) string { return c.Server.Address },
	"server.port":               func(c *config.Config) string { return fmt.Sprint(c.Server.Port) },
	"reminder.enabled":          func(c *config.Config) string { return fmt.Sprint(c.Reminder.Enabled) },
	"reminder.schedule":         func(c *config.Config) string { return c.Reminder.Schedule },
	"channels.telegram.enabled": func(c *config.Config) string { return fmt.Sprint(c.Channels.Telegram.Enabled) },
	"channels.discord.enabled":  func(c *config.Config) string { return fmt.Sprint(c.Channels.Discord.Enabled) },
	"care_recipient_id":         func(c *config.Config) string { return c.CareRecipientID },
}

func configValue(cfg *config.Config, key string) (string, bool) {
	get, ok := configGetters[key]
	if !ok {
		return "", false
	}
	return get(cfg), true
}

func configKeys() []string {
	keys := make([]string, 0, len(configGetters))
	for k := range configGetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redacted is the config as shown by 'config show', secrets masked
func redacted(cfg *config.Config) map[string]any {
	return map[string]any{
		"api": map[string]any{
			"base_url":        cfg.API.BaseURL,
			"token":           maskToken(cfg.API.Token),
			"timeout":         cfg.API.Timeout,
			"rate_per_second": cfg.API.RatePerSecond,
			"burst":           cfg.API.Burst,
		},
		"dose": map[string]any{
			"missed_after":  cfg.Dose.MissedAfter.String(),
			"urgent_within": cfg.Dose.UrgentWithin.String(),
		},
		"storage": map[string]any{
			"data_dir":    cfg.Storage.DataDir,
			"sqlite_path": cfg.Storage.SQLitePath,
			"badger_path": cfg.Storage.BadgerPath,
		},
		"server": map[string]any{
			"address":    cfg.Server.Address,
			"port":       cfg.Server.Port,
			"jwt_secret": maskToken(cfg.Server.JWTSecret),
		},
		"reminder": map[string]any{
			"enabled":       cfg.Reminder.Enabled,
			"schedule":      cfg.Reminder.Schedule,
			"urgent_alerts": cfg.Reminder.UrgentAlerts,
		},
		"channels": map[string]any{
			"telegram": map[string]any{
				"enabled":   cfg.Channels.Telegram.Enabled,
				"bot_token": maskToken(cfg.Channels.Telegram.BotToken),
				"chat_ids":  cfg.Channels.Telegram.ChatIDs,
			},
			"discord": map[string]any{
				"enabled":     cfg.Channels.Discord.Enabled,
				"token":       maskToken(cfg.Channels.Discord.Token),
				"channel_ids": cfg.Channels.Discord.ChannelIDs,
			},
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"care_recipient_id": cfg.CareRecipientID,
	}
}

func handleStatus(_ context.Context, s *session, _ []string) error {
	a, err := s.App()
	if err != nil {
		return err
	}
	cfg := a.Config

	configFile := cfg.Path()
	if configFile == "" {
		configFile = "(none)"
	}

	fmt.Fprintln(s.out, "careclock Status")
	fmt.Fprintln(s.out, "================")
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "Version: %s\n", Version)
	fmt.Fprintf(s.out, "Config:  %s\n", configFile)
	fmt.Fprintf(s.out, "Data:    %s\n", cfg.Storage.DataDir)
	fmt.Fprintln(s.out)

	fmt.Fprintln(s.out, "Care API:")
	if cfg.API.BaseURL == "" {
		fmt.Fprintln(s.out, "  Base URL: not configured")
	} else {
		fmt.Fprintf(s.out, "  Base URL: %s\n", cfg.API.BaseURL)
	}
	cid, err := a.CareRecipientID()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  Care recipient: %s\n", cid)
	fmt.Fprintln(s.out)

	fmt.Fprintln(s.out, "Cached doses:")
	if snap, err := a.Store.LoadSnapshot(cid); err == nil {
		counts := map[dose.Severity]int{}
		for _, g := range a.ViewsOf(snap.Doses) {
			for _, v := range g.Doses {
				counts[v.Severity]++
			}
		}
		fmt.Fprintf(s.out, "  Fetched: %s\n", snap.FetchedAt.Local().Format(time.RFC1123))
		fmt.Fprintf(s.out, "  Total: %d (missed %d, urgent %d)\n",
			len(snap.Doses), counts[dose.SeverityMissed], counts[dose.SeverityUrgent])
	} else {
		fmt.Fprintln(s.out, "  none")
	}

	pending, err := a.Store.PendingTakenList()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  Queued taken: %d\n", len(pending))
	fmt.Fprintln(s.out)

	fmt.Fprintln(s.out, "Reminders:")
	fmt.Fprintf(s.out, "  Enabled: %s (%s)\n", channelStatus(cfg.Reminder.Enabled), cfg.Reminder.Schedule)
	fmt.Fprintf(s.out, "  Telegram: %s\n", channelStatus(cfg.Channels.Telegram.Enabled))
	fmt.Fprintf(s.out, "  Discord:  %s\n", channelStatus(cfg.Channels.Discord.Enabled))

	alerts, err := a.Store.RecentAlerts(5)
	if err != nil {
		return err
	}
	if len(alerts) > 0 {
		fmt.Fprintln(s.out, "  Recent alerts:")
		for _, al := range alerts {
			fmt.Fprintf(s.out, "    %s  %-6s %s\n", al.SentAt.Local().Format("Jan 2 15:04"), al.Kind, al.MedicationName)
		}
	}
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "Dashboard: http://%s\n", cfg.ListenAddr())
	return nil
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
