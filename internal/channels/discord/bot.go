// Package discord provides Discord alert delivery
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/channels"
)

// maxMessageLen is the Discord message size limit
const maxMessageLen = 2000

// Config holds Discord bot configuration
type Config struct {
	Token      string
	Enabled    bool
	ChannelIDs []string
}

type messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot posts dose alerts to Discord channels through the REST API. It never opens a
// gateway connection.
type Bot struct {
	session  messenger
	channels []string
	enabled  bool
	logger   *zap.Logger
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled {
		return &Bot{enabled: false}, nil
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return newBot(cfg, session, logger), nil
}

func newBot(cfg Config, session messenger, logger *zap.Logger) *Bot {
	return &Bot{
		session:  session,
		channels: cfg.ChannelIDs,
		enabled:  true,
		logger:   logger,
	}
}

// Enabled reports whether the bot was configured
func (b *Bot) Enabled() bool { return b.enabled }

func (b *Bot) Name() string { return "discord" }

// Notify posts the alert to every configured channel
func (b *Bot) Notify(ctx context.Context, a channels.Alert) error {
	if !b.enabled {
		return nil
	}

	var failed []string
	for _, ch := range b.channels {
		for _, part := range splitMessage(a.Text(), maxMessageLen) {
			if _, err := b.session.ChannelMessageSend(ch, part, discordgo.WithContext(ctx)); err != nil {
				b.logger.Error("Failed to send alert",
					zap.String("channel_id", ch),
					zap.String("dose_id", a.Dose.DoseID),
					zap.Error(err),
				)
				failed = append(failed, ch)
				break
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("discord: failed to deliver to %s", strings.Join(failed, ", "))
	}
	return nil
}

// splitMessage splits a message into chunks under max length
func splitMessage(text string, maxLen int) []string {
	var parts []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	for _, line := range lines {
		for len(line) > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:maxLen])
			line = line[maxLen:]
		}
		if current.Len()+len(line)+1 > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
