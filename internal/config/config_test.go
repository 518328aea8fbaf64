package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CARECLOCK_API_BASE_URL", "CARE_API_URL", "VITE_API_URL",
		"CARECLOCK_API_TOKEN", "CARE_API_TOKEN",
		"CARECLOCK_SERVER_PORT", "PORT", "CARECLOCK_DOSE_MISSED_AFTER",
		"CARECLOCK_CARE_RECIPIENT_ID", "CARE_RECIPIENT_ID",
		"CARECLOCK_CHANNELS_TELEGRAM_CHAT_IDS", "CARECLOCK_CHANNELS_DISCORD_CHANNEL_IDS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.API.BaseURL)
	assert.Equal(t, 15, cfg.API.Timeout)
	assert.Equal(t, dose.DefaultMissedAfter, cfg.Dose.MissedAfter)
	assert.Equal(t, dose.DefaultUrgentWithin, cfg.Dose.UrgentWithin)
	assert.Equal(t, filepath.Join(dir, "careclock.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "badger"), cfg.Storage.BadgerPath)
	assert.Equal(t, "@every 1m", cfg.Reminder.Schedule)
	assert.Equal(t, "127.0.0.1:8089", cfg.ListenAddr())
	assert.Empty(t, cfg.Path())

	assert.ErrorIs(t, cfg.RequireAPI(), apperrors.ErrBaseURLMissing)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := `
api:
  base_url: https://care.example.com/api/
  token: secret
dose:
  missed_after: 45m
  urgent_within: 1h
server:
  port: 9000
channels:
  telegram:
    enabled: true
    chat_ids: [42]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "https://care.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []int64{42}, cfg.Channels.Telegram.ChatIDs)
	assert.Equal(t, dose.Thresholds{MissedAfter: 45 * time.Minute, UrgentWithin: time.Hour}, cfg.Thresholds())
	assert.Equal(t, filepath.Join(dir, FileName), cfg.Path())
	assert.NoError(t, cfg.RequireAPI())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Setenv("VITE_API_URL", "http://localhost:3000")
	t.Setenv("CARECLOCK_SERVER_PORT", "7000")
	t.Setenv("CARECLOCK_DOSE_MISSED_AFTER", "10m")
	t.Setenv("CARECLOCK_CHANNELS_TELEGRAM_CHAT_IDS", "1, 2,x")
	t.Setenv("CARECLOCK_CHANNELS_DISCORD_CHANNEL_IDS", "a,,b")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.API.BaseURL)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Dose.MissedAfter)
	assert.Equal(t, []int64{1, 2}, cfg.Channels.Telegram.ChatIDs)
	assert.Equal(t, []string{"a", "b"}, cfg.Channels.Discord.ChannelIDs)
}

func TestLoad_EnvFallbacks(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Setenv("PORT", "9100")
	t.Setenv("CARE_RECIPIENT_ID", " cr-alias ")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "cr-alias", cfg.CareRecipientID)

	t.Setenv("CARECLOCK_SERVER_PORT", "9200")
	t.Setenv("CARECLOCK_CARE_RECIPIENT_ID", "cr-main")

	cfg, err = Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "cr-main", cfg.CareRecipientID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"relative base url", "api:\n  base_url: care.example.com\n"},
		{"negative threshold", "dose:\n  missed_after: -1m\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad log format", "log:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(tt.content), 0644))

			_, err := Load("", dir)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrConfigInvalid.Code, apperrors.GetCode(err))
		})
	}
}

func TestWatch_NoFile(t *testing.T) {
	clearEnv(t)
	err := Watch("", t.TempDir(), func(*Config) {}, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfigNotFound)
}

func TestWatch_Reload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("dose:\n  missed_after: 30m\n"), 0644))

	changed := make(chan *Config, 16)
	require.NoError(t, Watch(path, dir, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil))

	require.NoError(t, os.WriteFile(path, []byte("dose:\n  missed_after: 5m\n"), 0644))

	// a truncating write can surface as more than one event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Dose.MissedAfter == 5*time.Minute {
				return
			}
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}
}
