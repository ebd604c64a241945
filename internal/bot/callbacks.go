package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const cmdRmURL = "rmurl"

// sendURLPicker shows the monitor list as inline buttons. Callback data
// carries the list position, since URLs exceed Telegram's 64-byte limit.
func (b *Bot) sendURLPicker(ctx context.Context, chatID int64) {
	urls, err := b.store.ListURLs(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(urls) == 0 {
		b.reply(chatID, "You have no monitor URLs. Use /seturl <url> to add one.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(urls))
	for i, u := range urls {
		label := fmt.Sprintf("%d. %s", i+1, shortenURL(u))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d", cmdRmURL, i)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Pick a URL to remove:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send url picker", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"index", idx,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdRmURL:
		b.removeURLByIndex(ctx, chatID, idx)
	}
}

// removeURLByIndex resolves the picker position against the current
// list. A stale picker message after the list changed simply misses.
func (b *Bot) removeURLByIndex(ctx context.Context, chatID int64, idx int) {
	urls, err := b.store.ListURLs(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if idx < 0 || idx >= len(urls) {
		b.reply(chatID, "That entry no longer exists. Run /rmurl again.")
		return
	}

	target := urls[idx]
	if err := b.store.RemoveURL(ctx, chatID, target); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Removed %s", shortenURL(target)))
}

func shortenURL(u string) string {
	const maxLen = 40
	s := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
