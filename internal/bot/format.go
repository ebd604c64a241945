package bot

import (
	"fmt"
	"strings"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
)

// FormatNotification renders a deliverable product as a Telegram message.
func FormatNotification(n *model.Notification) string {
	var b strings.Builder
	b.WriteString("Deliverable now!\n\n")
	if n.ProductName != "" {
		b.WriteString(n.ProductName)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Pincode: %s\n\n", n.Pincode)
	b.WriteString(n.ProductURL)
	return b.String()
}

// FormatStatus renders the /mystatus report.
func FormatStatus(u *model.User, urls, pincodes []string, seen, pending int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s\n", authStateLabel(u.AuthState, u.Phone))

	if len(urls) == 0 {
		b.WriteString("Monitor URLs: none (use /seturl)\n")
	} else {
		b.WriteString("Monitor URLs:\n")
		for i, mu := range urls {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, mu)
		}
	}

	if len(pincodes) == 0 {
		b.WriteString("Pincodes: none (use /setpin)\n")
	} else {
		fmt.Fprintf(&b, "Pincodes: %s\n", strings.Join(pincodes, ", "))
	}

	fmt.Fprintf(&b, "Seen products: %d\n", seen)
	if pending > 0 {
		fmt.Fprintf(&b, "Pending notifications: %d (use /resend)\n", pending)
	}
	if u.LastCheckAt != nil {
		fmt.Fprintf(&b, "Last check: %s\n", u.LastCheckAt.Format("2006-01-02 15:04 UTC"))
	} else {
		b.WriteString("Last check: never\n")
	}
	return b.String()
}

// FormatPincodeList renders the /listpin reply.
func FormatPincodeList(pincodes []string) string {
	if len(pincodes) == 0 {
		return "No pincodes configured. Use /setpin <code> to add one."
	}
	var b strings.Builder
	b.WriteString("Your pincodes:\n")
	for _, p := range pincodes {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	return b.String()
}

func authStateLabel(state model.AuthState, phone string) string {
	switch state {
	case model.AuthAuthenticated:
		if phone != "" {
			return fmt.Sprintf("logged in (%s)", phone)
		}
		return "logged in"
	case model.AuthPendingOTP:
		return "waiting for OTP (use /otp <code>)"
	case model.AuthExpired:
		return "session expired (use /login)"
	default:
		return "not logged in"
	}
}
