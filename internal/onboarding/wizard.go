package onboarding

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/security"
)

// Wizard handles the interactive setup process
type Wizard struct {
	in     io.Reader
	reader *bufio.Reader
	out    io.Writer
	logger *zap.Logger
	config *WizardConfig
}

// WizardConfig holds the configuration collected during setup
type WizardConfig struct {
	DataDir         string
	BaseURL         string
	APIToken        string
	CareRecipientID string
	RemindersOn     bool
	EnableTelegram  bool
	TelegramToken   string
	TelegramChatIDs []int64
	EnableDiscord   bool
	DiscordToken    string
	DiscordChannels []string
	JWTSecret       string
}

// NewWizard creates a new setup wizard
func NewWizard(in io.Reader, out io.Writer, logger *zap.Logger) *Wizard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wizard{
		in:     in,
		reader: bufio.NewReader(in),
		out:    out,
		logger: logger,
		config: &WizardConfig{RemindersOn: true},
	}
}

// Config returns what the wizard collected so far
func (w *Wizard) Config() *WizardConfig {
	return w.config
}

// Run asks for the setup values and writes careclock.yaml. It returns the path of the
// written file.
func (w *Wizard) Run(defaultDataDir string) (string, error) {
	fmt.Fprint(w.out, SetupWizardWelcome)

	if err := w.setupDataDir(defaultDataDir); err != nil {
		return "", fmt.Errorf("data directory setup failed: %w", err)
	}
	if err := w.setupCareAPI(); err != nil {
		return "", fmt.Errorf("care API setup failed: %w", err)
	}
	if err := w.setupReminders(); err != nil {
		return "", fmt.Errorf("reminder setup failed: %w", err)
	}

	path, err := w.WriteConfig()
	if err != nil {
		return "", fmt.Errorf("configuration creation failed: %w", err)
	}

	w.logger.Info("Configuration written", zap.String("path", path))
	w.showCompletion(path)
	return path, nil
}

func (w *Wizard) step(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "────────────────────────────────────────")
	fmt.Fprintf(w.out, "  %s\n", title)
	fmt.Fprintln(w.out, "────────────────────────────────────────")
}

func (w *Wizard) setupDataDir(defaultDataDir string) error {
	w.step("Step 1: Data directory")
	if defaultDataDir == "" {
		defaultDataDir = config.DefaultDataDir()
	}

	dir := w.ask(fmt.Sprintf("Where should careclock keep its data? [default: %s]: ", defaultDataDir))
	if dir == "" {
		dir = defaultDataDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	w.config.DataDir = dir
	fmt.Fprintln(w.out, "✓ Data directory ready")
	return nil
}

func (w *Wizard) setupCareAPI() error {
	w.step("Step 2: Care API")

	for {
		raw := w.ask("Care API base URL (e.g. https://care.example.com/api): ")
		if raw == "" {
			if w.eof() {
				return io.ErrUnexpectedEOF
			}
			fmt.Fprintln(w.out, "❌ The base URL is required.")
			continue
		}
		if err := validateBaseURL(raw); err != nil {
			if w.eof() {
				return err
			}
			fmt.Fprintf(w.out, "❌ %v\n", err)
			continue
		}
		w.config.BaseURL = strings.TrimRight(raw, "/")
		break
	}

	token, err := w.askSecret("API token (leave empty if the API is open): ")
	if err != nil {
		return err
	}
	w.config.APIToken = token

	w.config.CareRecipientID = w.askPlain("Care recipient id (leave empty to generate one): ")

	fmt.Fprintln(w.out, "✓ Care API configured")
	return nil
}

func (w *Wizard) setupReminders() error {
	w.step("Step 3: Reminders")

	w.config.RemindersOn = w.confirm("Send reminders for missed doses? (y/n) [default: y]: ", true)
	if !w.config.RemindersOn {
		fmt.Fprintln(w.out, "✓ Reminders off, you can enable them later in the config file")
		return nil
	}

	if w.confirm("Send reminders to Telegram? (y/n) [default: n]: ", false) {
		fmt.Fprintln(w.out)
		fmt.Fprintln(w.out, "To set up Telegram:")
		fmt.Fprintln(w.out, "1. Message @BotFather on Telegram")
		fmt.Fprintln(w.out, "2. Create a new bot with /newbot")
		fmt.Fprintln(w.out, "3. Copy the bot token")
		fmt.Fprintln(w.out)
		token, err := w.askSecret("Telegram bot token: ")
		if err != nil {
			return err
		}
		w.config.EnableTelegram = token != ""
		w.config.TelegramToken = token
		for _, s := range splitAndTrim(w.askPlain("Chat ids to notify (comma-separated): "), ",") {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				fmt.Fprintf(w.out, "⚠️  Skipping %q, chat ids are numbers\n", s)
				continue
			}
			w.config.TelegramChatIDs = append(w.config.TelegramChatIDs, id)
		}
	}

	if w.confirm("Send reminders to Discord? (y/n) [default: n]: ", false) {
		token, err := w.askSecret("Discord bot token: ")
		if err != nil {
			return err
		}
		w.config.EnableDiscord = token != ""
		w.config.DiscordToken = token
		w.config.DiscordChannels = splitAndTrim(w.askPlain("Channel ids to notify (comma-separated): "), ",")
	}

	fmt.Fprintln(w.out, "✓ Reminders configured")
	return nil
}

// WriteConfig writes the collected values to careclock.yaml in the data directory. A
// dashboard signing secret is generated when none was set.
func (w *Wizard) WriteConfig() (string, error) {
	c := w.config
	if c.DataDir == "" {
		c.DataDir = config.DefaultDataDir()
	}
	if c.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return "", err
		}
		c.JWTSecret = secret
	}

	doc := fileConfig{
		API: apiSection{BaseURL: c.BaseURL, Token: c.APIToken},
		Storage: storageSection{
			DataDir: c.DataDir,
		},
		Server: serverSection{JWTSecret: c.JWTSecret},
		Reminder: reminderSection{
			Enabled:  c.RemindersOn,
			Schedule: "@every 1m",
		},
		Channels: channelsSection{
			Telegram: telegramSection{Enabled: c.EnableTelegram, BotToken: c.TelegramToken, ChatIDs: c.TelegramChatIDs},
			Discord:  discordSection{Enabled: c.EnableDiscord, Token: c.DiscordToken, ChannelIDs: c.DiscordChannels},
		},
		CareRecipientID: c.CareRecipientID,
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}

	path := filepath.Join(c.DataDir, config.FileName)
	header := fmt.Sprintf("# careclock configuration\n# Generated on %s\n\n", time.Now().Format("2006-01-02"))
	// tokens live in this file
	if err := os.WriteFile(path, append([]byte(header), body...), 0600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

type fileConfig struct {
	API             apiSection      `yaml:"api"`
	Storage         storageSection  `yaml:"storage"`
	Server          serverSection   `yaml:"server"`
	Reminder        reminderSection `yaml:"reminder"`
	Channels        channelsSection `yaml:"channels"`
	CareRecipientID string          `yaml:"care_recipient_id,omitempty"`
}

type apiSection struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
}

type storageSection struct {
	DataDir string `yaml:"data_dir"`
}

type serverSection struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type reminderSection struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type channelsSection struct {
	Telegram telegramSection `yaml:"telegram"`
	Discord  discordSection  `yaml:"discord"`
}

type telegramSection struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token,omitempty"`
	ChatIDs  []int64 `yaml:"chat_ids,omitempty"`
}

type discordSection struct {
	Enabled    bool     `yaml:"enabled"`
	Token      string   `yaml:"token,omitempty"`
	ChannelIDs []string `yaml:"channel_ids,omitempty"`
}

func (w *Wizard) showCompletion(path string) {
	message := SetupCompleteMessage
	message = strings.ReplaceAll(message, "{{.DataDir}}", w.config.DataDir)
	message = strings.ReplaceAll(message, "{{.ConfigPath}}", path)
	fmt.Fprint(w.out, message)
}

func (w *Wizard) ask(prompt string) string {
	fmt.Fprint(w.out, prompt)
	line, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// askPlain reads a value that ends up in plain config fields. A pasted credential is
// refused without echoing it and the prompt repeats.
func (w *Wizard) askPlain(prompt string) string {
	for {
		value := w.ask(prompt)
		if !security.HasSecrets(value) {
			return value
		}
		fmt.Fprintf(w.out, "❌ That looks like a %s, enter it at the token prompt instead.\n", security.SecretKind(value))
		if w.eof() {
			return ""
		}
	}
}

// askSecret reads without echo when the input is a terminal
func (w *Wizard) askSecret(prompt string) (string, error) {
	f, ok := w.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return w.ask(prompt), nil
	}
	fmt.Fprint(w.out, prompt)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(w.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func (w *Wizard) confirm(prompt string, def bool) bool {
	switch strings.ToLower(w.ask(prompt)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}

func (w *Wizard) eof() bool {
	_, err := w.reader.Peek(1)
	return err != nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// CheckFirstRun reports whether no config file exists in dataDir
func CheckFirstRun(dataDir string) bool {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	_, err := os.Stat(filepath.Join(dataDir, config.FileName))
	return os.IsNotExist(err)
}
