package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
)

// FileName is the config file looked up in the data directory
const FileName = "careclock.yaml"

// Config holds all configuration for careclock
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Dose     DoseConfig     `mapstructure:"dose"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Log      LogConfig      `mapstructure:"log"`

	// CareRecipientID pins the care recipient instead of the one kept in the local store
	CareRecipientID string `mapstructure:"care_recipient_id"`

	path string
}

// APIConfig holds care API client settings
type APIConfig struct {
	BaseURL       string       `mapstructure:"base_url"`
	Token         string       `mapstructure:"token"`
	Timeout       int          `mapstructure:"timeout"`
	RatePerSecond float64      `mapstructure:"rate_per_second"`
	Burst         int          `mapstructure:"burst"`
	OAuth2        OAuth2Config `mapstructure:"oauth2"`
}

// OAuth2Config holds client-credentials settings. Ignored unless TokenURL is set.
type OAuth2Config struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// DoseConfig holds the classification thresholds
type DoseConfig struct {
	MissedAfter  time.Duration `mapstructure:"missed_after"`
	UrgentWithin time.Duration `mapstructure:"urgent_within"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// ServerConfig holds dashboard server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     int           `mapstructure:"read_timeout"`
	WriteTimeout    int           `mapstructure:"write_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ReminderConfig holds the background checker settings
type ReminderConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Schedule     string `mapstructure:"schedule"`
	UrgentAlerts bool   `mapstructure:"urgent_alerts"`
}

// ChannelsConfig holds alert channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"`
	ChannelIDs []string `mapstructure:"channel_ids"`
}

// LogConfig selects the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath, dataDir string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "careclock.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, FileName)
	}
	configPath = expandPath(configPath)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "failed to read config")
		}
	}

	// CARECLOCK_API_BASE_URL, CARECLOCK_SERVER_PORT, ...
	v.SetEnvPrefix("CARECLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.timeout", 15)
	v.SetDefault("api.rate_per_second", 5.0)
	v.SetDefault("api.burst", 10)

	v.SetDefault("dose.missed_after", dose.DefaultMissedAfter)
	v.SetDefault("dose.urgent_within", dose.DefaultUrgentWithin)

	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.refresh_interval", time.Minute)

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.schedule", "@every 1m")
	v.SetDefault("reminder.urgent_alerts", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// DefaultDataDir is $XDG_DATA_HOME/careclock, falling back to ~/.local/share/careclock
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "careclock")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "careclock")
}

// loadEnvOverrides applies the unprefixed aliases and the few values viper cannot bind
// through AutomaticEnv.
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("CARECLOCK_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := ResolveEnvWithAliases("CARECLOCK_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := ResolveEnvWithAliases("CARECLOCK_CHANNELS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.BotToken = v
	}
	if v := ResolveEnvWithAliases("CARECLOCK_CHANNELS_DISCORD_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := ResolveEnvWithAliases("CARECLOCK_SERVER_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := GetEnvWithFallback("CARECLOCK_CARE_RECIPIENT_ID", "CARE_RECIPIENT_ID"); v != "" {
		cfg.CareRecipientID = strings.TrimSpace(v)
	}

	// PORT is what container platforms set
	if port := GetEnvWithFallback("CARECLOCK_SERVER_PORT", "PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Comma separated, viper only splits slices coming from files
	if ids := os.Getenv("CARECLOCK_CHANNELS_TELEGRAM_CHAT_IDS"); ids != "" {
		cfg.Channels.Telegram.ChatIDs = cfg.Channels.Telegram.ChatIDs[:0]
		for _, s := range strings.Split(ids, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				cfg.Channels.Telegram.ChatIDs = append(cfg.Channels.Telegram.ChatIDs, id)
			}
		}
	}
	if ids := os.Getenv("CARECLOCK_CHANNELS_DISCORD_CHANNEL_IDS"); ids != "" {
		cfg.Channels.Discord.ChannelIDs = nil
		for _, s := range strings.Split(ids, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Channels.Discord.ChannelIDs = append(cfg.Channels.Discord.ChannelIDs, s)
			}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.API.BaseURL != "" {
		u, err := url.Parse(cfg.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return apperrors.New(apperrors.ErrConfigInvalid.Code, fmt.Sprintf("api.base_url %q is not an absolute URL", cfg.API.BaseURL), err)
		}
		cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	}

	if cfg.Dose.MissedAfter < 0 || cfg.Dose.UrgentWithin < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid.Code, "dose thresholds must not be negative")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return apperrors.New(apperrors.ErrConfigInvalid.Code, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.API.Burst < 1 {
		cfg.API.Burst = 1
	}

	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return apperrors.New(apperrors.ErrConfigInvalid.Code, fmt.Sprintf("log.format %q must be console or json", cfg.Log.Format))
	}

	return nil
}

// RequireAPI reports the missing base URL as a configuration error
func (c *Config) RequireAPI() error {
	if c.API.BaseURL == "" {
		return apperrors.ErrBaseURLMissing
	}
	return nil
}

// Thresholds converts the dose section for the classifier
func (c *Config) Thresholds() dose.Thresholds {
	return dose.Thresholds{
		MissedAfter:  c.Dose.MissedAfter,
		UrgentWithin: c.Dose.UrgentWithin,
	}
}

// Path is the config file that was read, empty when running on defaults and env only
func (c *Config) Path() string {
	return c.path
}

// ListenAddr joins server address and port
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Watch reloads the configuration whenever the file changes and passes each valid
// result to onChange. Invalid edits are reported through onError and otherwise ignored.
func Watch(configPath, dataDir string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return apperrors.ErrConfigNotFound
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
