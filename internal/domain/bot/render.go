package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/commands"
	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/phone"
	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/smsmatch"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/timeutil"

	"github.com/shopspring/decimal"
)

const (
	msgUnknownCommand = "❓ Unknown command. Send /info for the list of commands."
	msgNoNumbers      = "🔎 No phone number found in your message. Send a number like +8801712345678 or use /sms <number>."
	msgInvalidNumber  = "❌ %s is not a valid phone number."
	msgDuplicate      = "⏳ %s is already being checked, please wait a few seconds."
	msgStaleButton    = "This button is no longer valid."
	msgChecking       = "🔄 Checking…"
	msgAdminOnly      = "⛔ This command is available to admins only."
	msgTryAgain       = "⚠️ Temporary problem with the SMS service, please try again later."
	msgAuthRequired   = "🔐 Authentication with the SMS service is required. Please contact the admin."
	msgInternal       = "⚠️ Something went wrong, please try again later."
	msgNoCountries    = "No countries are available right now."
	msgNoRanges       = "No ranges are available for this country."
)

const (
	usageSMS        = "Usage: /sms [server] <number> [number…]"
	usageCancel     = "Usage: /cancel <number> [server]"
	usageAuthorize  = "Usage: /authorize <user_id>"
	usageBan        = "Usage: /ban <user_id>"
	usageUnban      = "Usage: /unban <user_id>"
	usageTopUp      = "Usage: /topup <user_id> <amount>"
	usageSaveCookie = "Usage: /savecookie [server] name=value; name2=value2 (or a JSON cookie export)"
)

// isUserError — ошибки, вызванные запросом пользователя, а не сбоем.
func isUserError(err error) bool {
	for _, target := range []error{
		users.ErrInsufficientBalance, users.ErrBanned, users.ErrNotAuthorized,
		users.ErrNotAdmin, users.ErrNotFound, users.ErrInvalidAmount,
		requests.ErrInFlight, requests.ErrNotFound, requests.ErrNotOwner,
		provider.ErrUnknownServer, provider.ErrNoCookies, commands.ErrCookiesExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorText переводит ошибку в ответ пользователю.
func errorText(err error) string {
	switch {
	case errors.Is(err, provider.ErrAuthRequired):
		return msgAuthRequired
	case errors.Is(err, provider.ErrUpstream):
		return msgTryAgain
	case errors.Is(err, users.ErrInsufficientBalance):
		return "💸 Insufficient balance. Use /balance to check it and ask an admin to top up."
	case errors.Is(err, users.ErrBanned):
		return "🚫 You are banned."
	case errors.Is(err, users.ErrNotAuthorized):
		return "⛔ You are not authorized to use this bot. Ask an admin for access."
	case errors.Is(err, users.ErrNotAdmin):
		return "⛔ Config admins cannot be banned."
	case errors.Is(err, users.ErrNotFound):
		return "👤 User not found."
	case errors.Is(err, users.ErrInvalidAmount):
		return "❌ Amount must be a positive number."
	case errors.Is(err, requests.ErrInFlight):
		return "⏳ This number is being checked by another user. Try again later."
	case errors.Is(err, requests.ErrNotFound):
		return "No active request for this number."
	case errors.Is(err, requests.ErrNotOwner):
		return "⛔ This request belongs to another user."
	case errors.Is(err, provider.ErrUnknownServer):
		return "❌ Unknown server."
	case errors.Is(err, provider.ErrNoCookies):
		return "❌ No cookies found in the input."
	case errors.Is(err, commands.ErrCookiesExpired):
		return "❌ All cookies in the input are expired."
	case errors.Is(err, users.ErrContention):
		return msgTryAgain
	default:
		return msgInternal
	}
}

// accessDeniedText — ответ на отказ CheckAccess; неавторизованному подсказывает его id.
func accessDeniedText(u users.User, err error) string {
	if errors.Is(err, users.ErrNotAuthorized) {
		return fmt.Sprintf("⛔ You are not authorized to use this bot.\nSend your ID %d to an admin to get access.", u.ID)
	}
	return errorText(err)
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// numberTitle — номер в человеческом виде с регионом: "+880 1712-345678 (BD)".
func numberTitle(number string) string {
	title := phone.Format(number)
	if region := phone.Region(number); region != "" && region != "ZZ" {
		title += " (" + region + ")"
	}
	return title
}

// renderCheck — ответ на проверку номера.
func (b *Bot) renderCheck(req requests.SMSRequest, matches []smsmatch.Match, u users.User, charged bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📱 %s\n", numberTitle(req.Phone))
	fmt.Fprintf(&sb, "Server: %s\n", req.Server)

	if len(matches) == 0 {
		remaining := req.ExpiresAt.Sub(b.now())
		sb.WriteString("\n📭 No SMS yet.")
		if remaining > 0 {
			fmt.Fprintf(&sb, " The request stays active for %s, press the button to check again.", timeutil.HumanizeRemaining(remaining))
		} else {
			sb.WriteString(" The request has expired, send the number again to restart it.")
		}
	} else {
		fmt.Fprintf(&sb, "\n📨 Found %d SMS:\n", len(matches))
		for i, m := range matches {
			fmt.Fprintf(&sb, "\n%d) From: %s", i+1, orDash(m.Record.Sender))
			if m.Record.Date != "" {
				fmt.Fprintf(&sb, " · %s", b.displayDate(m.Record.Date))
			}
			fmt.Fprintf(&sb, "\n%s\n", strings.TrimSpace(m.Record.Message))
		}
	}

	if charged {
		fmt.Fprintf(&sb, "\n💰 Charged %s, balance %s", money(b.cost), money(u.Balance))
	}
	return sb.String()
}

// displayDate переводит дату апстрима в таймзону бота, если она распознаётся.
func (b *Bot) displayDate(raw string) string {
	t := smsmatch.ParseDate(raw)
	if t.IsZero() {
		return raw
	}
	return timeutil.FormatLocal(t, b.loc)
}

func (b *Bot) renderBalance(u users.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 Balance: %s\n", money(u.Balance))
	if u.IsAdmin() {
		sb.WriteString("SMS checks are free for admins.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "SMS check cost: %s", money(b.cost))
	if b.cost.IsPositive() {
		fmt.Fprintf(&sb, "\nChecks available: %s", u.Balance.Div(b.cost).Floor().String())
	}
	return sb.String()
}

func (b *Bot) renderProfile(u users.User) string {
	status := "not authorized"
	switch {
	case u.Banned:
		status = "banned"
	case u.Authorized || u.IsAdmin():
		status = "authorized"
	}
	var sb strings.Builder
	sb.WriteString("👤 Profile\n")
	fmt.Fprintf(&sb, "ID: %d\n", u.ID)
	fmt.Fprintf(&sb, "Name: %s\n", u.DisplayName())
	fmt.Fprintf(&sb, "Role: %s\n", u.Role)
	fmt.Fprintf(&sb, "Status: %s\n", status)
	fmt.Fprintf(&sb, "Balance: %s\n", money(u.Balance))
	fmt.Fprintf(&sb, "SMS checks: %d\n", u.SMSChecks)
	fmt.Fprintf(&sb, "Joined: %s", timeutil.FormatLocal(u.CreatedAt, b.loc))
	return sb.String()
}

func (b *Bot) renderInfo(u users.User) string {
	var sb strings.Builder
	sb.WriteString("ℹ️ This bot gives you temporary phone numbers and shows the SMS they receive.\n\n")
	sb.WriteString("Commands:\n")
	sb.WriteString("/sms <number> — check SMS for a number\n")
	sb.WriteString("/numbers — pick a country and get a number\n")
	sb.WriteString("/mysms — your active requests and recent SMS\n")
	sb.WriteString("/cancel <number> — stop tracking a number\n")
	sb.WriteString("/balance — your balance\n")
	sb.WriteString("/profile — your profile\n")
	sb.WriteString("\nYou can also just send a message with phone numbers in it.\n")
	fmt.Fprintf(&sb, "\nSMS check cost: %s\n", money(b.cost))
	fmt.Fprintf(&sb, "Requests stay active for %s.\n", timeutil.HumanizeRemaining(b.sms.TTL()))
	fmt.Fprintf(&sb, "Servers: %s", strings.Join(b.providers.Names(), ", "))
	if u.IsAdmin() {
		sb.WriteString("\n\nAdmin commands:\n")
		sb.WriteString("/authorize <id>, /ban <id>, /unban <id>\n")
		sb.WriteString("/topup <id> <amount>\n")
		sb.WriteString("/savecookie [server] <cookies>\n")
		sb.WriteString("/status")
	}
	return sb.String()
}

func (b *Bot) renderMySMS(active []requests.SMSRequest, recent []history.Entry) string {
	now := b.now()
	var sb strings.Builder
	if len(active) == 0 {
		sb.WriteString("📭 You have no active requests.\n")
	} else {
		sb.WriteString("📋 Your requests:\n")
		for _, r := range active {
			line := fmt.Sprintf("• %s [%s] %s", phone.Format(r.Phone), r.Server, r.Status)
			if r.Active(now) {
				line += ", " + timeutil.HumanizeRemaining(r.ExpiresAt.Sub(now)) + " left"
			}
			if r.Received > 0 {
				line += fmt.Sprintf(", %d SMS", r.Received)
			}
			sb.WriteString(line + "\n")
		}
	}
	if len(recent) > 0 {
		sb.WriteString("\n📨 Recent SMS:\n")
		for _, e := range recent {
			fmt.Fprintf(&sb, "\n%s · %s · %s\n%s\n", phone.Format(e.Number), orDash(e.Sender), b.displayDate(e.Date), strings.TrimSpace(e.Message))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func userCard(u users.User) string {
	state := "not authorized"
	switch {
	case u.Banned:
		state = "banned"
	case u.Authorized:
		state = "authorized"
	}
	return fmt.Sprintf("%d %s [%s, %s] balance %s, checks %d", u.ID, u.DisplayName(), u.Role, state, money(u.Balance), u.SMSChecks)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatExpiry(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "session"
	}
	return timeutil.FormatLocal(t, loc)
}
