package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/channels"
)

// Summary renders the current dose list for the /doses command
type Summary func(ctx context.Context) (string, error)

// Bot sends dose alerts to a fixed set of chats and answers a few commands
type Bot struct {
	api     sender
	updates updatesSource
	summary Summary
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
	chatIDs []int64
	allowed map[int64]bool
}

// Config holds Telegram bot configuration
type Config struct {
	Token   string
	Enabled bool
	ChatIDs []int64 // alerts go to every chat; commands are only answered in these
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type updatesSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewBot creates a new Telegram bot. A disabled config yields a bot whose methods are no-ops.
func NewBot(cfg Config, summary Summary, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return newBot(cfg, api, api, summary, logger), nil
}

func newBot(cfg Config, api sender, updates updatesSource, summary Summary, logger *zap.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	allowed := make(map[int64]bool, len(cfg.ChatIDs))
	for _, id := range cfg.ChatIDs {
		allowed[id] = true
	}

	return &Bot{
		api:     api,
		updates: updates,
		summary: summary,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
		chatIDs: cfg.ChatIDs,
		allowed: allowed,
	}
}

// Enabled reports whether the bot was configured
func (b *Bot) Enabled() bool { return b.enabled }

func (b *Bot) Name() string { return "telegram" }

// Notify sends the alert to every configured chat
func (b *Bot) Notify(_ context.Context, a channels.Alert) error {
	if !b.enabled {
		return nil
	}
	var failed []string
	for _, id := range b.chatIDs {
		if _, err := b.sendMessage(id, a.Text()); err != nil {
			b.logger.Error("Failed to send alert",
				zap.Int64("chat_id", id),
				zap.String("dose_id", a.Dose.DoseID),
				zap.Error(err),
			)
			failed = append(failed, fmt.Sprint(id))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("telegram: failed to deliver to %s", strings.Join(failed, ", "))
	}
	return nil
}

// Start begins long polling for commands
func (b *Bot) Start() error {
	if !b.enabled || b.updates == nil {
		return nil
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}

	b.cancel()
	if b.updates != nil {
		b.updates.StopReceivingUpdates()
	}
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.updates.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}
	return b.handleCommand(update.Message)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	// /start is answered everywhere so the chat id can be copied into the config
	if msg.Command() == "start" {
		_, err := b.sendMessage(chatID, fmt.Sprintf("👋 *careclock*\n\nThis chat id is `%d`. Add it to `channels.telegram.chat_ids` to receive dose alerts.", chatID))
		return err
	}

	if !b.allowed[chatID] {
		_, err := b.sendMessage(chatID, "⛔ This chat is not configured for careclock.")
		return err
	}

	switch msg.Command() {
	case "help":
		_, err := b.sendMessage(chatID, `*Available Commands:*

/start - Show this chat id
/doses - List upcoming doses
/status - Show bot status`)
		return err

	case "doses":
		if b.summary == nil {
			_, err := b.sendMessage(chatID, "Dose list is not available.")
			return err
		}
		ctx, cancel := context.WithCancel(b.ctx)
		defer cancel()
		text, err := b.summary(ctx)
		if err != nil {
			_, serr := b.sendMessage(chatID, "❌ "+err.Error())
			if serr != nil {
				return serr
			}
			return err
		}
		_, err = b.sendMessage(chatID, text)
		return err

	case "status":
		_, err := b.sendMessage(chatID, "✅ careclock is watching doses.")
		return err

	default:
		_, err := b.sendMessage(chatID, "❓ Unknown command. Use /help for available commands.")
		return err
	}
}

func (b *Bot) sendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := b.api.Send(msg)
	if err != nil {
		// Try without markdown if it fails
		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
		if err != nil {
			return 0, err
		}
	}

	return sent.MessageID, nil
}
