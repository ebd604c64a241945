package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SinzaXh/Shein-suto-verse/internal/scheduler"
	"github.com/SinzaXh/Shein-suto-verse/internal/session"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the Sverse delivery monitor!

I watch product listings and tell you the moment something
becomes deliverable to your pincode.

Quick start:
1. /seturl <url> — add a category or search URL to monitor
2. /setpin <code> — add your delivery pincode
3. /login <phone> — sign in for account-level availability (optional)

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Monitoring:
/seturl <url> — add a category/search URL to monitor
/rmurl [url] — remove a URL (no argument shows a picker)
/setpin <code> [code...] — add delivery pincodes
/rmpin <code> — remove a pincode
/listpin — show your pincodes
/mystatus — full status report
/check — run a check cycle now
/resend — retry undelivered notifications
/clearseen — forget checked products and re-check everything

Account:
/login <phone> — request a login OTP
/otp <code> — finish login with the received code
/settoken <cookies> — set session cookies directly`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	user, err := b.store.GetUser(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	urls, err := b.store.ListURLs(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	pincodes, err := b.store.ListPincodes(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	seen, _ := b.store.CountSeen(ctx, chatID)
	pending, _ := b.store.CountPendingNotifications(ctx, chatID)

	b.reply(chatID, FormatStatus(user, urls, pincodes, seen, pending))
}

func (b *Bot) handleSetURL(ctx context.Context, chatID int64, args string) {
	monitorURL, err := ParseMonitorURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /seturl <url>")
		return
	}

	if err := b.store.AddURL(ctx, chatID, monitorURL); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			b.reply(chatID, "You are already monitoring that URL.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to save URL: %v", err))
		return
	}
	b.reply(chatID, "URL added. New products are checked on the next cycle (/check to run one now).")
}

func (b *Bot) handleRmURL(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.sendURLPicker(ctx, chatID)
		return
	}

	if err := b.store.RemoveURL(ctx, chatID, args); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "That URL is not in your monitor list.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "URL removed.")
}

func (b *Bot) handleSetPin(ctx context.Context, chatID int64, args string) {
	valid, invalid := ParsePincodes(args)
	if len(valid) == 0 && len(invalid) == 0 {
		b.reply(chatID, "Usage: /setpin <code> [code...]")
		return
	}

	added := 0
	for _, code := range valid {
		if err := b.store.AddPincode(ctx, chatID, code); err != nil {
			b.reply(chatID, fmt.Sprintf("Failed to save pincode %s: %v", code, err))
			return
		}
		added++
	}

	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("Added %d pincode(s).", added))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("Ignored invalid: %s (pincodes are 6 digits).", strings.Join(invalid, ", ")))
	}
	b.reply(chatID, strings.Join(parts, " "))
}

func (b *Bot) handleRmPin(ctx context.Context, chatID int64, args string) {
	code := strings.TrimSpace(args)
	if code == "" {
		b.reply(chatID, "Usage: /rmpin <code>")
		return
	}

	if err := b.store.RemovePincode(ctx, chatID, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Pincode %s is not in your list.", code))
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Pincode %s removed.", code))
}

func (b *Bot) handleListPin(ctx context.Context, chatID int64) {
	pincodes, err := b.store.ListPincodes(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatPincodeList(pincodes))
}

func (b *Bot) handleLogin(ctx context.Context, chatID int64, args string) {
	phone := strings.TrimSpace(args)
	if phone == "" {
		b.reply(chatID, "Usage: /login <10-digit phone>")
		return
	}

	if err := b.sessions.StartLogin(ctx, chatID, phone); err != nil {
		if errors.Is(err, session.ErrInvalidPhone) {
			b.reply(chatID, "That doesn't look like a valid Indian mobile number.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Could not request an OTP: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("OTP sent to %s. Finish with /otp <code>.", phone))
}

func (b *Bot) handleOTP(ctx context.Context, chatID int64, args string) {
	code, err := ParseOTPArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /otp <code>")
		return
	}

	if err := b.sessions.CompleteLogin(ctx, chatID, code); err != nil {
		switch {
		case errors.Is(err, session.ErrNoPendingLogin):
			b.reply(chatID, "No login in progress. Start with /login <phone>.")
		case errors.Is(err, session.ErrInvalidCode):
			b.reply(chatID, "That code was rejected. Check it and try /otp again.")
		default:
			b.reply(chatID, fmt.Sprintf("Login failed: %v", err))
		}
		return
	}
	b.reply(chatID, "Logged in. Availability checks now use your account.")
}

func (b *Bot) handleSetToken(ctx context.Context, chatID int64, args string) {
	cookies := strings.TrimSpace(args)
	if cookies == "" {
		b.reply(chatID, "Usage: /settoken <cookie string>")
		return
	}

	if err := b.sessions.SetCredentials(ctx, chatID, cookies); err != nil {
		b.reply(chatID, fmt.Sprintf("Could not save credentials: %v", err))
		return
	}
	b.reply(chatID, "Credentials saved. Availability checks now use your account.")
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	if b.runner == nil {
		b.reply(chatID, "Checking is not available right now.")
		return
	}

	b.reply(chatID, "Check cycle started.")

	// The cycle can take minutes; run it off the update loop.
	go func() {
		err := b.runner.Trigger(ctx, scheduler.ReasonManual)
		switch {
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			b.SendMessage(chatID, "A check cycle is already running. Try again in a bit.")
		case err != nil:
			b.SendMessage(chatID, fmt.Sprintf("Check failed: %v", err))
		default:
			b.SendMessage(chatID, "Check cycle finished.")
		}
	}()
}

func (b *Bot) handleResend(ctx context.Context, chatID int64) {
	if b.resender == nil {
		b.reply(chatID, "Resending is not available right now.")
		return
	}

	sent, err := b.resender.ResendPending(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Resend failed: %v", err))
		return
	}
	if sent == 0 {
		b.reply(chatID, "Nothing pending to resend.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Resent %d notification(s).", sent))
}

func (b *Bot) handleClearSeen(ctx context.Context, chatID int64) {
	seen, err := b.store.CountSeen(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if err := b.store.ClearSeen(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Forgot %d checked product(s). Everything is re-checked on the next cycle.", seen))
}
