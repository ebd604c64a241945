// Package bot is the Telegram command layer. Commands mutate per-user
// configuration; notifications flow back out through Deliver.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/SinzaXh/Shein-suto-verse/internal/config"
	"github.com/SinzaXh/Shein-suto-verse/internal/model"
	"github.com/SinzaXh/Shein-suto-verse/internal/scheduler"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sessions is the slice of the auth state machine the command layer uses.
type Sessions interface {
	StartLogin(ctx context.Context, userID int64, phone string) error
	CompleteLogin(ctx context.Context, userID int64, code string) error
	SetCredentials(ctx context.Context, userID int64, cookies string) error
}

// Resender retries undelivered notifications for a user.
type Resender interface {
	ResendPending(ctx context.Context, userID int64) (int, error)
}

// CheckRunner starts check cycles on demand.
type CheckRunner interface {
	Trigger(ctx context.Context, reason scheduler.Reason) error
}

// Bot handles user commands and delivers product notifications.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	cfg      *config.Config
	sessions Sessions
	resender Resender
	runner   CheckRunner
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, cfg *config.Config, sessions Sessions, resender Resender, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		store:    store,
		cfg:      cfg,
		sessions: sessions,
		resender: resender,
		log:      log,
	}, nil
}

// SetRunner wires the scheduler in after construction. The bot and the
// scheduler reference each other, so one side is attached late.
func (b *Bot) SetRunner(r CheckRunner) {
	b.runner = r
}

// SetResender wires the orchestrator in after construction.
func (b *Bot) SetResender(r Resender) {
	b.resender = r
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// Deliver sends a product notification to its user. Unlike SendMessage
// the error is surfaced, so an undelivered record stays pending.
func (b *Bot) Deliver(_ context.Context, n *model.Notification) error {
	msg := tgbotapi.NewMessage(n.UserID, FormatNotification(n))
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	if _, err := b.store.EnsureUser(ctx, chatID); err != nil {
		b.log.Error("ensure user", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, try again.")
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "mystatus":
		b.handleStatus(ctx, chatID)
	case "seturl":
		b.handleSetURL(ctx, chatID, args)
	case cmdRmURL:
		b.handleRmURL(ctx, chatID, args)
	case "setpin":
		b.handleSetPin(ctx, chatID, args)
	case "rmpin":
		b.handleRmPin(ctx, chatID, args)
	case "listpin":
		b.handleListPin(ctx, chatID)
	case "login":
		b.handleLogin(ctx, chatID, args)
	case "otp":
		b.handleOTP(ctx, chatID, args)
	case "settoken":
		b.handleSetToken(ctx, chatID, args)
	case "check":
		b.handleCheck(ctx, chatID)
	case "resend":
		b.handleResend(ctx, chatID)
	case "clearseen":
		b.handleClearSeen(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
